// Package thumbprint computes JWK Thumbprints as defined in RFC 7638.
package thumbprint

import (
	"crypto"
	"errors"
	"fmt"

	"github.com/picatz/josekit/pkg/base64"
	"github.com/picatz/josekit/pkg/jwk"
	"github.com/picatz/josekit/pkg/ordered"
)

var (
	ErrInvalidKey = errors.New("thumbprint: invalid key")
)

// requiredMembers lists, per key type, the required members of the key
// in lexicographic order.
//
// https://datatracker.ietf.org/doc/html/rfc7638#section-3.2
// https://datatracker.ietf.org/doc/html/rfc8037#section-2
var requiredMembers = map[string][]string{
	jwk.KeyTypeEC:  {jwk.Curve, jwk.KeyType, jwk.X, jwk.Y},
	jwk.KeyTypeRSA: {jwk.E, jwk.KeyType, jwk.N},
	jwk.KeyTypeOct: {jwk.K, jwk.KeyType},
	jwk.KeyTypeOKP: {jwk.Curve, jwk.KeyType, jwk.X},
}

// Generate returns the JWK Thumbprint for the given JWK following
// the steps defined in RFC 7638.
func Generate(key jwk.JWK, h crypto.Hash) ([]byte, error) {
	// 1. Construct a JSON object [RFC7159] containing only the required
	// members of a JWK representing the key and with no whitespace or
	// line breaks before or after any syntactic elements and with the
	// required members ordered lexicographically by the Unicode
	// [UNICODE] code points of the member names.
	members, ok := requiredMembers[key.KeyType()]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type %q", ErrInvalidKey, key.KeyType())
	}

	pairs := make([]ordered.Pair, 0, len(members))
	for _, name := range members {
		value, err := key.Get(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		if _, ok := value.(string); !ok {
			return nil, fmt.Errorf("%w: member %q is not a string", ErrInvalidKey, name)
		}
		pairs = append(pairs, ordered.Pair{Key: name, Value: value})
	}

	b, err := ordered.NewMap(pairs...).MarshalJSON()
	if err != nil {
		return nil, err
	}

	// 2. Hash the octets of the UTF-8 representation of this JSON object
	// with a cryptographic hash function H. If none is specified,
	// SHA-256 is used.
	if h == 0 {
		h = crypto.SHA256
	}
	if !h.Available() {
		return nil, fmt.Errorf("thumbprint: hash function %v is not available", h)
	}

	hash := h.New()

	_, err = hash.Write(b)
	if err != nil {
		return nil, err
	}

	return hash.Sum(nil), nil
}

// GenerateString returns the JWK Thumbprint for the given JWK following
// the steps defined in RFC 7638 as a base64url encoded string.
func GenerateString(key jwk.JWK, h crypto.Hash) (string, error) {
	thumbprint, err := Generate(key, h)
	if err != nil {
		return "", err
	}

	return base64.Encode(thumbprint), nil
}
