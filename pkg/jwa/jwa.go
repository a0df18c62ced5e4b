// Package jwa defines the JSON Web Algorithms (RFC 7518) and the
// registry through which envelopes are signed, verified, encrypted
// and decrypted.
package jwa

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// https://datatracker.ietf.org/doc/html/rfc7518#section-3.1
type Algorithm = string

// HMAC with SHA-2 Functions
//
// These algorithms are used to construct a MAC using a shared secret
// and the Hash-based Message Authentication Code (HMAC) construction
// [RFC2104] employing SHA-2 [SHS] hash functions.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-3.2
const (
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
)

// RSASSA-PKCS1-v1_5
//
// These algorithms are used to digitally sign a JWS and produce a
// JWS Signature using PKCS #1 v1.5 methods.
//
// # RSA Key Size
//
// A key of size 2048 bits or larger MUST be used with these algorithms.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-3.3
const (
	RS256 Algorithm = "RS256"
	RS384 Algorithm = "RS384"
	RS512 Algorithm = "RS512"
)

// ECDSA
//
// These algorithms are used to digitally sign a JWS and produce a
// JWS Signature using ECDSA algorithms.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-3.4
const (
	ES256 Algorithm = "ES256"
	ES384 Algorithm = "ES384"
	ES512 Algorithm = "ES512"
)

// RSASSA-PSS
//
// These algorithms are used to digitally sign a JWS and produce a
// JWS Signature using the RSASSA-PSS algorithms.
//
// # RSA Key Size
//
// A key of size 2048 bits or larger MUST be used with these algorithms.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-3.5
const (
	PS256 Algorithm = "PS256"
	PS384 Algorithm = "PS384"
	PS512 Algorithm = "PS512"
)

// No signature or MAC performed (unprotected JWS). This algorithm is
// intended to be used to create a JWS that is not integrity protected.
//
// # Warning
//
// The use of this algorithm is considered dangerous. Do NOT use this
// algorithm, it's only implemented for completeness.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-3.6
const None Algorithm = "none"

// Other signature algorithms.
//
// https://datatracker.ietf.org/doc/html/rfc8037#section-3.1
// https://datatracker.ietf.org/doc/html/rfc8812#section-3.2
const (
	ES256K Algorithm = "ES256K"
	EdDSA  Algorithm = "EdDSA"
)

// Key Management Algorithms
//
// These algorithms are used to encrypt or determine the Content
// Encryption Key (CEK) of a JWE.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-4.1
const (
	RSA1_5     Algorithm = "RSA1_5"
	RSAOAEP    Algorithm = "RSA-OAEP"
	RSAOAEP256 Algorithm = "RSA-OAEP-256"
	A128KW     Algorithm = "A128KW"
	A192KW     Algorithm = "A192KW"
	A256KW     Algorithm = "A256KW"
	Direct     Algorithm = "dir"
)

// Content Encryption Algorithms
//
// These algorithms are used in the "enc" header parameter to encrypt
// the plaintext of a JWE.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-5.1
const (
	A128GCM Algorithm = "A128GCM"
	A192GCM Algorithm = "A192GCM"
	A256GCM Algorithm = "A256GCM"
)

// AllowedAlgorithms is a set of algorithm names.
type AllowedAlgorithms map[Algorithm]struct{}

// NewAllowedAlgorithms returns a set of the given algorithms.
func NewAllowedAlgorithms(algs ...Algorithm) AllowedAlgorithms {
	allowed := make(AllowedAlgorithms, len(algs))
	for _, alg := range algs {
		allowed[alg] = struct{}{}
	}
	return allowed
}

// Allowed reports whether every given algorithm is in the set.
func (a AllowedAlgorithms) Allowed(algs ...Algorithm) bool {
	if len(algs) == 0 {
		return false
	}
	for _, alg := range algs {
		if _, ok := a[alg]; !ok {
			return false
		}
	}
	return true
}

// List returns the algorithms in the set, sorted.
func (a AllowedAlgorithms) List() []Algorithm {
	list := maps.Keys(a)
	slices.Sort(list)
	return list
}

// DefaultAllowedAlgorithms returns the algorithms allowed when none
// are configured.
func DefaultAllowedAlgorithms() AllowedAlgorithms {
	return NewAllowedAlgorithms(RS256, ES256)
}
