package serialization

import (
	"errors"
	"fmt"
	"strings"

	"github.com/picatz/josekit/pkg/base64"
	"github.com/picatz/josekit/pkg/header"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/jws"
	"github.com/picatz/josekit/pkg/ordered"
	"github.com/picatz/josekit/pkg/payload"
	"github.com/tidwall/gjson"
)

// ParseJWS parses a general or flattened JSON serialized JWS into one
// entry per signature, in order. Every entry shares the decoded payload;
// the converter turns it into a typed value based on each entry's
// complete header.
func ParseJWS(obj gjson.Result, input string, converter payload.Converter) ([]*jws.JWS, error) {
	members, err := objectMembers(obj)
	if err != nil {
		return nil, err
	}

	encodedPayload, _, err := stringMember(members, memberPayload)
	if err != nil {
		return nil, err
	}
	rawPayload, err := base64.Decode(encodedPayload)
	if err != nil {
		return nil, joseerr.Malformed(memberPayload, err)
	}

	if _, general := members[memberSignatures]; !general {
		sig, err := parseSignature(members, encodedPayload, rawPayload, input, converter)
		if err != nil {
			return nil, err
		}
		return []*jws.JWS{sig}, nil
	}

	signatures := members[memberSignatures]
	if !signatures.IsArray() {
		return nil, joseerr.Malformed(memberSignatures, fmt.Errorf("expected an array, got %s", signatures.Type))
	}
	entries := signatures.Array()
	if len(entries) == 0 {
		return nil, joseerr.Malformed(memberSignatures, errors.New("at least one signature is required"))
	}

	sigs := make([]*jws.JWS, 0, len(entries))
	for i, entry := range entries {
		entryMembers, err := objectMembers(entry)
		if err != nil {
			return nil, atIndex(joseerr.Malformed(memberSignatures, err), i)
		}
		sig, err := parseSignature(entryMembers, encodedPayload, rawPayload, input, converter)
		if err != nil {
			return nil, atIndex(err, i)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

func parseSignature(members map[string]gjson.Result, encodedPayload string, rawPayload []byte, input string, converter payload.Converter) (*jws.JWS, error) {
	f := jws.Fields{
		EncodedPayload: encodedPayload,
		RawPayload:     rawPayload,
		Input:          input,
	}

	encodedProtected, ok, err := stringMember(members, memberProtected)
	if err != nil {
		return nil, err
	}
	if ok {
		f.HasProtectedHeader = true
		f.EncodedProtectedHeader = encodedProtected
	}
	// An empty "protected" member is an empty protected header.
	if encodedProtected != "" {
		f.ProtectedHeader, err = header.ParseBase64URL(encodedProtected)
		if err != nil {
			return nil, joseerr.Malformed(memberProtected, err)
		}
	}

	f.UnprotectedHeader, err = headerMember(members, memberHeader)
	if err != nil {
		return nil, err
	}

	encodedSignature, ok, err := stringMember(members, memberSignature)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, joseerr.Missing(memberSignature)
	}
	f.Signature, err = base64.Decode(encodedSignature)
	if err != nil {
		return nil, joseerr.Malformed(memberSignature, err)
	}

	return build(f, converter)
}

func build(f jws.Fields, converter payload.Converter) (*jws.JWS, error) {
	complete, err := header.Merge(f.ProtectedHeader, f.UnprotectedHeader)
	if err != nil {
		return nil, err
	}

	if converter != nil {
		f.Payload, err = converter.Decode(complete, f.RawPayload)
		if err != nil {
			return nil, err
		}
	}

	return jws.New(f), nil
}

// headerMember returns the named JSON object member as header parameters,
// empty when absent.
func headerMember(members map[string]gjson.Result, name string) (header.Parameters, error) {
	value, ok := members[name]
	if !ok {
		return header.Parameters{}, nil
	}
	m, err := ordered.FromJSON(value)
	if err != nil {
		return header.Parameters{}, joseerr.Malformed(name, err)
	}
	return header.FromMap(m), nil
}

// ParseCompactJWS parses a compact serialized JWS.
//
//	BASE64URL(UTF8(JWS Protected Header)) || '.' ||
//	BASE64URL(JWS Payload) || '.' ||
//	BASE64URL(JWS Signature)
//
// https://datatracker.ietf.org/doc/html/rfc7515#section-7.1
func ParseCompactJWS(input string, converter payload.Converter) (*jws.JWS, error) {
	parts := strings.Split(strings.TrimSpace(input), ".")
	if len(parts) != 3 {
		return nil, joseerr.New(joseerr.InvalidInput, fmt.Sprintf("invalid compact JWS: expected 2 dots, got %d", len(parts)-1), nil)
	}
	if parts[0] == "" {
		return nil, joseerr.Missing(memberProtected)
	}

	protected, err := header.ParseBase64URL(parts[0])
	if err != nil {
		return nil, joseerr.Malformed(memberProtected, err)
	}
	rawPayload, err := base64.Decode(parts[1])
	if err != nil {
		return nil, joseerr.Malformed(memberPayload, err)
	}
	signature, err := base64.Decode(parts[2])
	if err != nil {
		return nil, joseerr.Malformed(memberSignature, err)
	}

	return build(jws.Fields{
		HasProtectedHeader:     true,
		EncodedProtectedHeader: parts[0],
		ProtectedHeader:        protected,
		EncodedPayload:         parts[1],
		RawPayload:             rawPayload,
		Signature:              signature,
		Input:                  input,
	}, converter)
}

// SerializeJWS writes signature entries of the same payload in the given
// serialization. The compact and flattened serializations hold a single
// signature, and the compact one cannot carry an unprotected header.
func SerializeJWS(sigs []*jws.JWS, mode Mode) (string, error) {
	if len(sigs) == 0 {
		return "", joseerr.New(joseerr.InvalidInput, "no signature to serialize", nil)
	}
	for i, sig := range sigs[1:] {
		if sig.EncodedPayload() != sigs[0].EncodedPayload() {
			return "", joseerr.New(joseerr.InvalidInput, "signatures do not share the same payload", nil).AtIndex(i + 1)
		}
	}

	switch mode {
	case Compact:
		if len(sigs) != 1 {
			return "", joseerr.New(joseerr.InvalidInput, "the compact serialization holds a single signature", nil)
		}
		sig := sigs[0]
		encodedProtected, ok := sig.EncodedProtectedHeader()
		if !ok || encodedProtected == "" {
			return "", joseerr.New(joseerr.InvalidInput, "the compact serialization requires a protected header", nil)
		}
		if sig.UnprotectedHeader().Len() > 0 {
			return "", joseerr.New(joseerr.InvalidInput, "the compact serialization cannot hold an unprotected header", nil)
		}
		return encodedProtected + "." + sig.EncodedPayload() + "." + base64.Encode(sig.Signature()), nil

	case Flattened:
		if len(sigs) != 1 {
			return "", joseerr.New(joseerr.InvalidInput, "the flattened serialization holds a single signature", nil)
		}
		obj := ordered.Map{}
		if sigs[0].EncodedPayload() != "" {
			obj = obj.With(memberPayload, sigs[0].EncodedPayload())
		}
		obj = obj.Merge(signatureObject(sigs[0]))
		return marshal(obj)

	case General:
		entries := make([]any, 0, len(sigs))
		for _, sig := range sigs {
			entries = append(entries, signatureObject(sig))
		}
		obj := ordered.Map{}
		if sigs[0].EncodedPayload() != "" {
			obj = obj.With(memberPayload, sigs[0].EncodedPayload())
		}
		obj = obj.With(memberSignatures, entries)
		return marshal(obj)

	default:
		return "", joseerr.New(joseerr.InvalidInput, fmt.Sprintf("unknown serialization mode %v", mode), nil)
	}
}

func signatureObject(sig *jws.JWS) ordered.Map {
	obj := ordered.Map{}
	if encoded, ok := sig.EncodedProtectedHeader(); ok {
		obj = obj.With(memberProtected, encoded)
	}
	if h := sig.UnprotectedHeader(); h.Len() > 0 {
		obj = obj.With(memberHeader, h.Map)
	}
	return obj.With(memberSignature, base64.Encode(sig.Signature()))
}

func marshal(obj ordered.Map) (string, error) {
	b, err := obj.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode JSON serialization: %w", err)
	}
	return string(b), nil
}

// atIndex binds a typed error to a signature or recipient entry.
func atIndex(err error, i int) error {
	var jerr *joseerr.Error
	if errors.As(err, &jerr) {
		return jerr.AtIndex(i)
	}
	return err
}
