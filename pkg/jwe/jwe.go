// Package jwe models JSON Web Encryption recipient entries.
//
// A JWE with several recipients is represented as one *JWE per recipient.
// The entries share the protected header, the shared unprotected header,
// the initialization vector, the ciphertext, the authentication tag and the
// additional authenticated data, and differ only in their recipient header
// and encrypted key.
//
// https://datatracker.ietf.org/doc/html/rfc7516
package jwe

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/picatz/josekit/pkg/base64"
	"github.com/picatz/josekit/pkg/compression"
	"github.com/picatz/josekit/pkg/header"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/jwa"
	"github.com/picatz/josekit/pkg/jwk"
)

type Header = header.Parameters

// Fields holds the parts of a recipient entry, used to build a JWE.
//
// A nil byte slice means the member is not present, which is distinct from
// a present but empty member.
type Fields struct {
	// EncodedProtectedHeader is empty when there is no protected header.
	EncodedProtectedHeader  string
	ProtectedHeader         Header
	SharedUnprotectedHeader Header
	RecipientHeader         Header

	AAD          []byte
	IV           []byte
	Ciphertext   []byte
	Tag          []byte
	EncryptedKey []byte

	// Payload is the decrypted and converted payload, when known.
	Payload any

	// Input is the serialized text the entry was loaded from, if any.
	Input string
}

// JWE is a single recipient entry of a JSON Web Encryption.
type JWE struct {
	f Fields
}

// New returns a JWE with the given fields.
func New(f Fields) *JWE {
	return &JWE{f: f}
}

// Fields returns a copy of the fields of the entry.
func (e *JWE) Fields() Fields {
	return e.f
}

func (e *JWE) EncodedProtectedHeader() string {
	return e.f.EncodedProtectedHeader
}

func (e *JWE) ProtectedHeader() Header {
	return e.f.ProtectedHeader
}

// SharedUnprotectedHeader returns the "unprotected" member, common to
// every recipient.
func (e *JWE) SharedUnprotectedHeader() Header {
	return e.f.SharedUnprotectedHeader
}

// RecipientHeader returns the per-recipient "header" member.
func (e *JWE) RecipientHeader() Header {
	return e.f.RecipientHeader
}

// UnprotectedHeader returns the shared unprotected header with the
// recipient header applied over it.
func (e *JWE) UnprotectedHeader() Header {
	return header.Overlay(e.f.SharedUnprotectedHeader, e.f.RecipientHeader)
}

// Header returns the complete JOSE header of the entry. The protected
// header must not share a parameter with the unprotected ones.
//
// https://datatracker.ietf.org/doc/html/rfc7516#section-7.2.1
func (e *JWE) Header() (Header, error) {
	return header.Merge(e.f.ProtectedHeader, e.UnprotectedHeader())
}

func (e *JWE) AAD() []byte          { return e.f.AAD }
func (e *JWE) IV() []byte           { return e.f.IV }
func (e *JWE) Ciphertext() []byte   { return e.f.Ciphertext }
func (e *JWE) Tag() []byte          { return e.f.Tag }
func (e *JWE) EncryptedKey() []byte { return e.f.EncryptedKey }

func (e *JWE) HasAAD() bool          { return e.f.AAD != nil }
func (e *JWE) HasIV() bool           { return e.f.IV != nil }
func (e *JWE) HasTag() bool          { return e.f.Tag != nil }
func (e *JWE) HasEncryptedKey() bool { return e.f.EncryptedKey != nil }

// Payload returns the decrypted payload, or nil before decryption.
func (e *JWE) Payload() any {
	return e.f.Payload
}

func (e *JWE) Input() string {
	return e.f.Input
}

// AdditionalAuthenticatedData returns the input of the content
// encryption authentication:
//
//	ASCII(Encoded Protected Header || '.' || BASE64URL(JWE AAD))
//
// or only the encoded protected header when there is no AAD.
//
// https://datatracker.ietf.org/doc/html/rfc7516#section-5.1
func (e *JWE) AdditionalAuthenticatedData() []byte {
	return additionalAuthenticatedData(e.f.EncodedProtectedHeader, e.f.AAD)
}

func additionalAuthenticatedData(encodedProtected string, aad []byte) []byte {
	if aad == nil {
		return []byte(encodedProtected)
	}
	return []byte(encodedProtected + "." + base64.Encode(aad))
}

// WithPayload returns a copy of the entry with the payload set.
func (e *JWE) WithPayload(payload any) *JWE {
	c := *e
	c.f.Payload = payload
	return &c
}

// WithInput returns a copy of the entry recording its serialized form.
func (e *JWE) WithInput(input string) *JWE {
	c := *e
	c.f.Input = input
	return &c
}

// SharesContent reports whether both entries belong to the same JWE: they
// have the same protected header, shared unprotected header, IV,
// ciphertext, tag and AAD.
func (e *JWE) SharesContent(other *JWE) bool {
	return e.f.EncodedProtectedHeader == other.f.EncodedProtectedHeader &&
		e.f.SharedUnprotectedHeader.Equal(other.f.SharedUnprotectedHeader.Map) &&
		bytesEqual(e.f.IV, other.f.IV) &&
		bytesEqual(e.f.Ciphertext, other.f.Ciphertext) &&
		bytesEqual(e.f.Tag, other.f.Tag) &&
		bytesEqual(e.f.AAD, other.f.AAD)
}

// bytesEqual differs from bytes.Equal by telling nil and empty apart.
func bytesEqual(a, b []byte) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return string(a) == string(b)
}

// Recipient describes one recipient of an encrypted payload.
type Recipient struct {
	Header Header
	Key    jwk.JWK
}

// EncryptOptions holds the headers and data shared by every recipient.
type EncryptOptions struct {
	Protected   Header
	Unprotected Header

	// AAD is optional additional authenticated data, nil if absent.
	AAD []byte

	// Compression resolves the "zip" protected header parameter. The
	// default manager is used when nil.
	Compression *compression.Manager
}

// Encrypt encrypts the plaintext once, and the content encryption key for
// every recipient. The "enc" parameter selects the content encryption
// algorithm and the "alg" parameter of each recipient's complete header
// selects its key management algorithm.
func Encrypt(registry *jwa.Registry, plaintext []byte, opts EncryptOptions, recipients ...Recipient) ([]*JWE, error) {
	if len(recipients) == 0 {
		return nil, joseerr.New(joseerr.InvalidInput, "at least one recipient is required", nil)
	}

	type plan struct {
		km  jwa.KeyManagementAlgorithm
		alg jwa.Algorithm
	}

	var (
		enc    jwa.Algorithm
		plans  = make([]plan, len(recipients))
		direct = -1
	)
	for i, r := range recipients {
		complete, err := header.Merge(opts.Protected, header.Overlay(opts.Unprotected, r.Header))
		if err != nil {
			return nil, atIndex(err, i, len(recipients))
		}

		alg, err := complete.Algorithm()
		if err != nil {
			return nil, atIndex(joseerr.Missing(header.Algorithm), i, len(recipients))
		}
		km, err := registry.KeyManagement(alg)
		if err != nil {
			return nil, atIndex(err, i, len(recipients))
		}

		recipientEnc, err := complete.Encryption()
		if err != nil {
			return nil, atIndex(joseerr.Missing(header.Encryption), i, len(recipients))
		}
		if i > 0 && recipientEnc != enc {
			return nil, atIndex(joseerr.New(joseerr.InvalidInput, "every recipient must use the same content encryption algorithm", nil), i, len(recipients))
		}
		enc = recipientEnc

		op := jwk.OperationWrapKey
		if km.Direct() {
			op = jwk.OperationEncrypt
			direct = i
		}
		if err := checkKey(r.Key, op, alg); err != nil {
			return nil, atIndex(err, i, len(recipients))
		}

		plans[i] = plan{km: km, alg: alg}
	}

	if direct >= 0 && len(recipients) > 1 {
		return nil, joseerr.New(joseerr.InvalidInput, "direct encryption supports a single recipient", nil)
	}

	ce, err := registry.ContentEncryption(enc)
	if err != nil {
		return nil, err
	}

	var cek []byte
	if direct >= 0 {
		cek, err = recipients[direct].Key.SymmetricKey()
		if err != nil {
			return nil, err
		}
	} else {
		cek = make([]byte, ce.KeySize())
		if _, err := rand.Read(cek); err != nil {
			return nil, fmt.Errorf("failed to generate content encryption key: %w", err)
		}
	}

	// "zip" is only honored in the protected header.
	//
	// https://datatracker.ietf.org/doc/html/rfc7516#section-4.1.3
	if zip, err := opts.Protected.Compression(); err == nil {
		manager := opts.Compression
		if manager == nil {
			manager = compression.DefaultManager()
		}
		plaintext, err = manager.Compress(zip, plaintext)
		if err != nil {
			return nil, err
		}
	}

	var encodedProtected string
	if opts.Protected.Len() > 0 {
		encodedProtected, err = opts.Protected.Base64URLString()
		if err != nil {
			return nil, err
		}
	}

	iv := make([]byte, ce.IVSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate initialization vector: %w", err)
	}

	ciphertext, tag, err := ce.Encrypt(cek, iv, plaintext, additionalAuthenticatedData(encodedProtected, opts.AAD))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt with %q: %w", enc, err)
	}

	entries := make([]*JWE, 0, len(recipients))
	for i, r := range recipients {
		f := Fields{
			EncodedProtectedHeader:  encodedProtected,
			ProtectedHeader:         opts.Protected,
			SharedUnprotectedHeader: opts.Unprotected,
			RecipientHeader:         r.Header,
			AAD:                     opts.AAD,
			IV:                      iv,
			Ciphertext:              ciphertext,
			Tag:                     tag,
		}
		if !plans[i].km.Direct() {
			f.EncryptedKey, err = plans[i].km.WrapKey(r.Key, cek)
			if err != nil {
				return nil, atIndex(fmt.Errorf("failed to wrap key with %q: %w", plans[i].alg, err), i, len(recipients))
			}
		}
		entries = append(entries, New(f))
	}
	return entries, nil
}

// Decrypt recovers the plaintext of the entry with the recipient key,
// decompressing it when the protected header has a "zip" parameter. A nil
// compression manager means the default one.
func (e *JWE) Decrypt(registry *jwa.Registry, key jwk.JWK, manager *compression.Manager) ([]byte, error) {
	complete, err := e.Header()
	if err != nil {
		return nil, err
	}

	alg, err := complete.Algorithm()
	if err != nil {
		return nil, joseerr.Missing(header.Algorithm)
	}
	enc, err := complete.Encryption()
	if err != nil {
		return nil, joseerr.Missing(header.Encryption)
	}

	km, err := registry.KeyManagement(alg)
	if err != nil {
		return nil, err
	}
	ce, err := registry.ContentEncryption(enc)
	if err != nil {
		return nil, err
	}

	op := jwk.OperationUnwrapKey
	if km.Direct() {
		op = jwk.OperationDecrypt
	}
	if err := checkKey(key, op, alg); err != nil {
		return nil, err
	}

	cek, err := km.UnwrapKey(key, e.f.EncryptedKey)
	if err != nil {
		return nil, joseerr.New(joseerr.DecryptionFailed, fmt.Sprintf("unable to recover the content encryption key with %q", alg), err)
	}
	if len(cek) != ce.KeySize() {
		return nil, joseerr.New(joseerr.DecryptionFailed, fmt.Sprintf("content encryption key size does not match %q", enc), nil)
	}

	plaintext, err := ce.Decrypt(cek, e.f.IV, e.f.Ciphertext, e.f.Tag, e.AdditionalAuthenticatedData())
	if err != nil {
		return nil, joseerr.New(joseerr.DecryptionFailed, fmt.Sprintf("content decryption with %q failed", enc), err)
	}

	if zip, err := e.f.ProtectedHeader.Compression(); err == nil {
		if manager == nil {
			manager = compression.DefaultManager()
		}
		plaintext, err = manager.Decompress(zip, plaintext)
		if err != nil {
			return nil, joseerr.New(joseerr.DecryptionFailed, fmt.Sprintf("decompression with %q failed", zip), err)
		}
	}

	return plaintext, nil
}

func checkKey(key jwk.JWK, op string, alg jwa.Algorithm) error {
	if err := key.CheckUsage(op); err != nil {
		return joseerr.New(joseerr.InvalidInput, "key cannot be used", err)
	}
	if err := key.CheckAlgorithm(alg); err != nil {
		return joseerr.New(joseerr.InvalidInput, "key cannot be used", err)
	}
	return nil
}

// atIndex binds a typed error to a recipient index when there are several.
func atIndex(err error, i, n int) error {
	var jerr *joseerr.Error
	if n > 1 && errors.As(err, &jerr) {
		return jerr.AtIndex(i)
	}
	return err
}
