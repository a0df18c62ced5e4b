// Package serialization converts between the wire forms of JWS and JWE
// objects and their entries.
//
// Three serializations are supported: the compact serialization, the
// flattened JSON serialization and the general JSON serialization.
//
// https://datatracker.ietf.org/doc/html/rfc7515#section-7
// https://datatracker.ietf.org/doc/html/rfc7516#section-7
package serialization

import (
	"fmt"
	"strings"

	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/tidwall/gjson"
)

// Kind is the type of envelope.
type Kind int

const (
	KindUnknown Kind = iota
	KindJWS
	KindJWE
)

func (k Kind) String() string {
	switch k {
	case KindJWS:
		return "jws"
	case KindJWE:
		return "jwe"
	default:
		return "unknown"
	}
}

// Mode is a serialization.
type Mode int

const (
	Compact Mode = iota
	Flattened
	General
)

func (m Mode) String() string {
	switch m {
	case Compact:
		return "compact"
	case Flattened:
		return "flattened"
	case General:
		return "general"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode returns the mode with the given name.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(name) {
	case "compact":
		return Compact, nil
	case "flattened":
		return Flattened, nil
	case "general", "json":
		return General, nil
	default:
		return 0, fmt.Errorf("unknown serialization mode %q", name)
	}
}

// Member names of the JSON serializations.
const (
	memberPayload      = "payload"
	memberSignatures   = "signatures"
	memberSignature    = "signature"
	memberProtected    = "protected"
	memberHeader       = "header"
	memberUnprotected  = "unprotected"
	memberRecipients   = "recipients"
	memberEncryptedKey = "encrypted_key"
	memberAAD          = "aad"
	memberIV           = "iv"
	memberCiphertext   = "ciphertext"
	memberTag          = "tag"
)

// Detect determines the kind and serialization of the input.
//
// Input that is a JSON document must be an object: it is a general JWS if
// it has a "signatures" member, a general JWE if it has a "recipients"
// member, a flattened JWS if it has a "signature" member and a flattened
// JWE if it has a "ciphertext" member. Any other object fails with
// UnrecognizedEnvelope. Input that is not JSON is a compact JWS when it
// has three dot separated parts, and a compact JWE when it has five.
//
// The parsed object is returned for the JSON serializations.
func Detect(input string) (Kind, Mode, gjson.Result, error) {
	trimmed := strings.TrimSpace(input)

	if gjson.Valid(trimmed) {
		r := gjson.Parse(trimmed)
		if !r.IsObject() {
			return KindUnknown, 0, gjson.Result{}, joseerr.New(joseerr.UnrecognizedEnvelope, fmt.Sprintf("expected a JSON object, got %s", r.Type), nil)
		}

		members, err := objectMembers(r)
		if err != nil {
			return KindUnknown, 0, gjson.Result{}, err
		}

		switch {
		case has(members, memberSignatures):
			return KindJWS, General, r, nil
		case has(members, memberRecipients):
			return KindJWE, General, r, nil
		case has(members, memberSignature):
			return KindJWS, Flattened, r, nil
		case has(members, memberCiphertext):
			return KindJWE, Flattened, r, nil
		default:
			return KindUnknown, 0, gjson.Result{}, joseerr.New(joseerr.UnrecognizedEnvelope, "the JSON object is neither a JWS nor a JWE", nil)
		}
	}

	switch strings.Count(trimmed, ".") {
	case 2:
		return KindJWS, Compact, gjson.Result{}, nil
	case 4:
		return KindJWE, Compact, gjson.Result{}, nil
	default:
		return KindUnknown, 0, gjson.Result{}, joseerr.New(joseerr.UnrecognizedEnvelope, "the input is neither a JSON object nor a compact serialization", nil)
	}
}

// objectMembers indexes the members of a JSON object, rejecting duplicate
// member names.
func objectMembers(r gjson.Result) (map[string]gjson.Result, error) {
	if !r.IsObject() {
		return nil, fmt.Errorf("expected a JSON object, got %s", r.Type)
	}

	members := make(map[string]gjson.Result)
	var err error
	r.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if _, dup := members[name]; dup {
			err = joseerr.Malformed(name, fmt.Errorf("duplicate member %q", name))
			return false
		}
		members[name] = value
		return true
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func has(members map[string]gjson.Result, name string) bool {
	_, ok := members[name]
	return ok
}

// stringMember returns the named string member, and false if it is absent.
func stringMember(members map[string]gjson.Result, name string) (string, bool, error) {
	value, ok := members[name]
	if !ok {
		return "", false, nil
	}
	if value.Type != gjson.String {
		return "", false, joseerr.Malformed(name, fmt.Errorf("expected a string, got %s", value.Type))
	}
	return value.Str, true, nil
}
