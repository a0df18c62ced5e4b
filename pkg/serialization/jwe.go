package serialization

import (
	"errors"
	"fmt"
	"strings"

	"github.com/picatz/josekit/pkg/base64"
	"github.com/picatz/josekit/pkg/header"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/jwe"
	"github.com/picatz/josekit/pkg/ordered"
	"github.com/tidwall/gjson"
)

// ParseJWE parses a general or flattened JSON serialized JWE into one
// entry per recipient, in order. Members that are absent are nil in the
// entries, which is distinct from present but empty members.
func ParseJWE(obj gjson.Result, input string) ([]*jwe.JWE, error) {
	members, err := objectMembers(obj)
	if err != nil {
		return nil, err
	}

	shared := jwe.Fields{Input: input}

	encodedProtected, _, err := stringMember(members, memberProtected)
	if err != nil {
		return nil, err
	}
	if encodedProtected != "" {
		shared.EncodedProtectedHeader = encodedProtected
		shared.ProtectedHeader, err = header.ParseBase64URL(encodedProtected)
		if err != nil {
			return nil, joseerr.Malformed(memberProtected, err)
		}
	}

	shared.SharedUnprotectedHeader, err = headerMember(members, memberUnprotected)
	if err != nil {
		return nil, err
	}

	for _, member := range []struct {
		name string
		dst  *[]byte
	}{
		{memberAAD, &shared.AAD},
		{memberIV, &shared.IV},
		{memberCiphertext, &shared.Ciphertext},
		{memberTag, &shared.Tag},
	} {
		*member.dst, err = bytesMember(members, member.name)
		if err != nil {
			return nil, err
		}
	}
	if shared.Ciphertext == nil {
		return nil, joseerr.Missing(memberCiphertext)
	}

	if _, general := members[memberRecipients]; !general {
		rec, err := parseRecipient(shared, members)
		if err != nil {
			return nil, err
		}
		return []*jwe.JWE{rec}, nil
	}

	recipients := members[memberRecipients]
	if !recipients.IsArray() {
		return nil, joseerr.Malformed(memberRecipients, fmt.Errorf("expected an array, got %s", recipients.Type))
	}
	entries := recipients.Array()
	if len(entries) == 0 {
		return nil, joseerr.Malformed(memberRecipients, errors.New("at least one recipient is required"))
	}

	recs := make([]*jwe.JWE, 0, len(entries))
	for i, entry := range entries {
		entryMembers, err := objectMembers(entry)
		if err != nil {
			return nil, atIndex(joseerr.Malformed(memberRecipients, err), i)
		}
		rec, err := parseRecipient(shared, entryMembers)
		if err != nil {
			return nil, atIndex(err, i)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func parseRecipient(shared jwe.Fields, members map[string]gjson.Result) (*jwe.JWE, error) {
	f := shared

	var err error
	f.RecipientHeader, err = headerMember(members, memberHeader)
	if err != nil {
		return nil, err
	}
	f.EncryptedKey, err = bytesMember(members, memberEncryptedKey)
	if err != nil {
		return nil, err
	}

	rec := jwe.New(f)
	if _, err := rec.Header(); err != nil {
		return nil, err
	}
	return rec, nil
}

// bytesMember decodes the named base64url member, nil when absent.
func bytesMember(members map[string]gjson.Result, name string) ([]byte, error) {
	encoded, ok, err := stringMember(members, name)
	if err != nil || !ok {
		return nil, err
	}
	b, err := base64.Decode(encoded)
	if err != nil {
		return nil, joseerr.Malformed(name, err)
	}
	return b, nil
}

// ParseCompactJWE parses a compact serialized JWE.
//
//	BASE64URL(UTF8(JWE Protected Header)) || '.' ||
//	BASE64URL(JWE Encrypted Key) || '.' ||
//	BASE64URL(JWE Initialization Vector) || '.' ||
//	BASE64URL(JWE Ciphertext) || '.' ||
//	BASE64URL(JWE Authentication Tag)
//
// An empty encrypted key, initialization vector or authentication tag is
// recorded as absent.
//
// https://datatracker.ietf.org/doc/html/rfc7516#section-7.1
func ParseCompactJWE(input string) (*jwe.JWE, error) {
	parts := strings.Split(strings.TrimSpace(input), ".")
	if len(parts) != 5 {
		return nil, joseerr.New(joseerr.InvalidInput, fmt.Sprintf("invalid compact JWE: expected 4 dots, got %d", len(parts)-1), nil)
	}
	if parts[0] == "" {
		return nil, joseerr.Missing(memberProtected)
	}

	protected, err := header.ParseBase64URL(parts[0])
	if err != nil {
		return nil, joseerr.Malformed(memberProtected, err)
	}

	f := jwe.Fields{
		EncodedProtectedHeader: parts[0],
		ProtectedHeader:        protected,
		Input:                  input,
	}

	optional := []struct {
		name    string
		encoded string
		dst     *[]byte
	}{
		{memberEncryptedKey, parts[1], &f.EncryptedKey},
		{memberIV, parts[2], &f.IV},
		{memberTag, parts[4], &f.Tag},
	}
	for _, part := range optional {
		if part.encoded == "" {
			continue
		}
		*part.dst, err = base64.Decode(part.encoded)
		if err != nil {
			return nil, joseerr.Malformed(part.name, err)
		}
	}

	f.Ciphertext, err = base64.Decode(parts[3])
	if err != nil {
		return nil, joseerr.Malformed(memberCiphertext, err)
	}

	return jwe.New(f), nil
}

// SerializeJWE writes recipient entries of the same JWE in the given
// serialization. The compact and flattened serializations hold a single
// recipient, and the compact one can carry neither unprotected headers
// nor additional authenticated data.
func SerializeJWE(recs []*jwe.JWE, mode Mode) (string, error) {
	if len(recs) == 0 {
		return "", joseerr.New(joseerr.InvalidInput, "no recipient to serialize", nil)
	}
	for i, rec := range recs[1:] {
		if !rec.SharesContent(recs[0]) {
			return "", joseerr.New(joseerr.InvalidInput, "recipients do not share the same encrypted content", nil).AtIndex(i + 1)
		}
	}

	first := recs[0]

	switch mode {
	case Compact:
		if len(recs) != 1 {
			return "", joseerr.New(joseerr.InvalidInput, "the compact serialization holds a single recipient", nil)
		}
		switch {
		case first.EncodedProtectedHeader() == "":
			return "", joseerr.New(joseerr.InvalidInput, "the compact serialization requires a protected header", nil)
		case first.UnprotectedHeader().Len() > 0:
			return "", joseerr.New(joseerr.InvalidInput, "the compact serialization cannot hold an unprotected header", nil)
		case first.HasAAD():
			return "", joseerr.New(joseerr.InvalidInput, "the compact serialization cannot hold additional authenticated data", nil)
		}
		return strings.Join([]string{
			first.EncodedProtectedHeader(),
			base64.Encode(first.EncryptedKey()),
			base64.Encode(first.IV()),
			base64.Encode(first.Ciphertext()),
			base64.Encode(first.Tag()),
		}, "."), nil

	case Flattened:
		if len(recs) != 1 {
			return "", joseerr.New(joseerr.InvalidInput, "the flattened serialization holds a single recipient", nil)
		}
		obj := sharedObject(first)
		obj = obj.Merge(recipientObject(first))
		return marshal(obj.Merge(contentObject(first)))

	case General:
		entries := make([]any, 0, len(recs))
		for _, rec := range recs {
			entries = append(entries, recipientObject(rec))
		}
		obj := sharedObject(first).With(memberRecipients, entries)
		return marshal(obj.Merge(contentObject(first)))

	default:
		return "", joseerr.New(joseerr.InvalidInput, fmt.Sprintf("unknown serialization mode %v", mode), nil)
	}
}

func sharedObject(rec *jwe.JWE) ordered.Map {
	obj := ordered.Map{}
	if encoded := rec.EncodedProtectedHeader(); encoded != "" {
		obj = obj.With(memberProtected, encoded)
	}
	if h := rec.SharedUnprotectedHeader(); h.Len() > 0 {
		obj = obj.With(memberUnprotected, h.Map)
	}
	return obj
}

func recipientObject(rec *jwe.JWE) ordered.Map {
	obj := ordered.Map{}
	if h := rec.RecipientHeader(); h.Len() > 0 {
		obj = obj.With(memberHeader, h.Map)
	}
	if rec.HasEncryptedKey() {
		obj = obj.With(memberEncryptedKey, base64.Encode(rec.EncryptedKey()))
	}
	return obj
}

func contentObject(rec *jwe.JWE) ordered.Map {
	obj := ordered.Map{}
	if rec.HasAAD() {
		obj = obj.With(memberAAD, base64.Encode(rec.AAD()))
	}
	if rec.HasIV() {
		obj = obj.With(memberIV, base64.Encode(rec.IV()))
	}
	obj = obj.With(memberCiphertext, base64.Encode(rec.Ciphertext()))
	if rec.HasTag() {
		obj = obj.With(memberTag, base64.Encode(rec.Tag()))
	}
	return obj
}
