// Package jws models JSON Web Signature entries.
//
// A JWS with several signatures is represented as one *JWS per signature,
// all sharing the same payload. Values are immutable: the With methods
// return modified copies.
//
// https://datatracker.ietf.org/doc/html/rfc7515
package jws

import (
	"errors"
	"fmt"

	"github.com/picatz/josekit/pkg/base64"
	"github.com/picatz/josekit/pkg/header"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/jwa"
	"github.com/picatz/josekit/pkg/jwk"
)

// Header is a JSON object containing the parameters describing
// the cryptographic operations and parameters employed.
//
// The JOSE (JSON Object Signing and Encryption) Header is comprised
// of a set of Header Parameters.
type Header = header.Parameters

// Fields holds the parts of a signature entry, used to build a JWS.
type Fields struct {
	// HasProtectedHeader distinguishes an absent "protected" member from
	// an empty one.
	HasProtectedHeader     bool
	EncodedProtectedHeader string
	ProtectedHeader        Header
	UnprotectedHeader      Header

	EncodedPayload string
	RawPayload     []byte

	// Payload is the converted payload. When nil, RawPayload is used.
	Payload any

	Signature []byte

	// Input is the serialized text the entry was loaded from, if any.
	Input string
}

// JWS is a single signature entry of a JSON Web Signature.
type JWS struct {
	f Fields
}

// New returns a JWS with the given fields.
func New(f Fields) *JWS {
	return &JWS{f: f}
}

// Fields returns a copy of the fields of the entry.
func (s *JWS) Fields() Fields {
	return s.f
}

// EncodedProtectedHeader returns the base64url encoded protected header,
// and false if the entry has none.
func (s *JWS) EncodedProtectedHeader() (string, bool) {
	return s.f.EncodedProtectedHeader, s.f.HasProtectedHeader
}

func (s *JWS) ProtectedHeader() Header {
	return s.f.ProtectedHeader
}

func (s *JWS) UnprotectedHeader() Header {
	return s.f.UnprotectedHeader
}

// Header returns the complete JOSE header of the entry, the union of the
// protected and unprotected headers. The two must not share a parameter.
func (s *JWS) Header() (Header, error) {
	return header.Merge(s.f.ProtectedHeader, s.f.UnprotectedHeader)
}

func (s *JWS) EncodedPayload() string {
	return s.f.EncodedPayload
}

// RawPayload returns the decoded payload bytes.
func (s *JWS) RawPayload() []byte {
	return s.f.RawPayload
}

// Payload returns the converted payload value, or the raw payload bytes
// when no conversion happened.
func (s *JWS) Payload() any {
	if s.f.Payload == nil {
		return s.f.RawPayload
	}
	return s.f.Payload
}

func (s *JWS) Signature() []byte {
	return s.f.Signature
}

// Input returns the serialized text the entry was loaded from.
func (s *JWS) Input() string {
	return s.f.Input
}

// SigningInput returns the JWS Signing Input:
//
//	ASCII(BASE64URL(UTF8(JWS Protected Header)) || '.' || BASE64URL(JWS Payload))
//
// https://datatracker.ietf.org/doc/html/rfc7515#section-5.1
func (s *JWS) SigningInput() []byte {
	return []byte(s.f.EncodedProtectedHeader + "." + s.f.EncodedPayload)
}

// WithPayload returns a copy of the entry with the converted payload set.
func (s *JWS) WithPayload(payload any) *JWS {
	c := *s
	c.f.Payload = payload
	return &c
}

// WithUnprotectedHeader returns a copy of the entry with a new unprotected
// header. The signature is unaffected.
func (s *JWS) WithUnprotectedHeader(h Header) *JWS {
	c := *s
	c.f.UnprotectedHeader = h
	return &c
}

// WithInput returns a copy of the entry recording its serialized form.
func (s *JWS) WithInput(input string) *JWS {
	c := *s
	c.f.Input = input
	return &c
}

// Signer describes one signature to compute over a payload.
type Signer struct {
	Protected   Header
	Unprotected Header
	Key         jwk.JWK
}

// Sign signs the payload, returning a single signature entry. The "alg"
// parameter of the complete header selects the algorithm.
func Sign(registry *jwa.Registry, protected, unprotected Header, payload []byte, key jwk.JWK) (*JWS, error) {
	sigs, err := SignAll(registry, payload, Signer{Protected: protected, Unprotected: unprotected, Key: key})
	if err != nil {
		return nil, err
	}
	return sigs[0], nil
}

// SignAll computes one signature per signer over the same payload.
func SignAll(registry *jwa.Registry, payload []byte, signers ...Signer) ([]*JWS, error) {
	if len(signers) == 0 {
		return nil, joseerr.New(joseerr.InvalidInput, "at least one signer is required", nil)
	}

	encodedPayload := base64.Encode(payload)

	sigs := make([]*JWS, 0, len(signers))
	for i, signer := range signers {
		sig, err := sign(registry, signer, encodedPayload, payload)
		if err != nil {
			var jerr *joseerr.Error
			if len(signers) > 1 && errors.As(err, &jerr) {
				return nil, jerr.AtIndex(i)
			}
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

func sign(registry *jwa.Registry, signer Signer, encodedPayload string, payload []byte) (*JWS, error) {
	complete, err := header.Merge(signer.Protected, signer.Unprotected)
	if err != nil {
		return nil, err
	}

	alg, err := complete.Algorithm()
	if err != nil {
		return nil, joseerr.New(joseerr.MissingMandatoryParameter, "missing or invalid algorithm", err).ForParam(header.Algorithm)
	}

	algorithm, err := registry.Signature(alg)
	if err != nil {
		return nil, err
	}

	if err := checkKey(signer.Key, jwk.OperationSign, alg); err != nil {
		return nil, err
	}

	f := Fields{
		ProtectedHeader:   signer.Protected,
		UnprotectedHeader: signer.Unprotected,
		EncodedPayload:    encodedPayload,
		RawPayload:        payload,
	}
	if signer.Protected.Len() > 0 {
		encoded, err := signer.Protected.Base64URLString()
		if err != nil {
			return nil, err
		}
		f.HasProtectedHeader = true
		f.EncodedProtectedHeader = encoded
	}

	s := New(f)
	signature, err := algorithm.Sign(signer.Key, s.SigningInput())
	if err != nil {
		return nil, fmt.Errorf("failed to sign with %q: %w", alg, err)
	}
	s.f.Signature = signature

	return s, nil
}

// Verify checks the signature of the entry with the given key.
func (s *JWS) Verify(registry *jwa.Registry, key jwk.JWK) error {
	complete, err := s.Header()
	if err != nil {
		return err
	}

	alg, err := complete.Algorithm()
	if err != nil {
		return joseerr.New(joseerr.MissingMandatoryParameter, "missing or invalid algorithm", err).ForParam(header.Algorithm)
	}

	algorithm, err := registry.Signature(alg)
	if err != nil {
		return err
	}

	if err := checkKey(key, jwk.OperationVerify, alg); err != nil {
		return err
	}

	if err := algorithm.Verify(key, s.SigningInput(), s.f.Signature); err != nil {
		return joseerr.New(joseerr.VerificationFailed, fmt.Sprintf("signature verification with %q failed", alg), err)
	}
	return nil
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
