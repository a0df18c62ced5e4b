package base64

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// encoding is unpadded base64url that rejects non-zero trailing bits, so
// every byte sequence has exactly one accepted encoding.
var encoding = base64.RawURLEncoding.Strict()

// Decode returns the base64url decoded bytes from the given input.
// This function implements base64url decoding as defined in RFC 4648 Section 5,
// which is used in JWS and JWE serializations (RFC 7515, RFC 7516).
//
// Padding characters are not accepted. An empty input decodes to an
// empty, non-nil byte slice, since an empty member (such as a detached or
// empty payload) is legal in the JOSE serializations.
func Decode(input string) ([]byte, error) {
	if len(input) == 0 {
		return []byte{}, nil
	}

	if strings.ContainsRune(input, '=') {
		return nil, fmt.Errorf("base64: padding is not allowed in base64url input")
	}

	result, err := encoding.DecodeString(input)
	if err != nil {
		return nil, fmt.Errorf("base64: invalid base64url input: %w", err)
	}
	return result, nil
}

// Encode returns the base64url encoded string from the given input.
// This function implements base64url encoding as defined in RFC 4648 Section 5,
// which is used in JWS and JWE serializations (RFC 7515, RFC 7516).
//
// Padding characters are never emitted.
func Encode(input []byte) string {
	return encoding.EncodeToString(input)
}

// EncodeString is shorthand for Encode([]byte(input)).
func EncodeString(input string) string {
	return Encode([]byte(input))
}
