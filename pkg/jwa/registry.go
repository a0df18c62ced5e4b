package jwa

import (
	"fmt"

	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/jwk"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// SignatureAlgorithm computes and verifies JWS signatures.
type SignatureAlgorithm interface {
	// Name is the "alg" header value.
	Name() Algorithm

	// KeyTypes lists the "kty" values the algorithm accepts.
	KeyTypes() []string

	// Sign returns the signature of the input with the private or secret key.
	Sign(key jwk.JWK, input []byte) ([]byte, error)

	// Verify checks the signature of the input with the public or secret key.
	Verify(key jwk.JWK, input, signature []byte) error
}

// KeyManagementAlgorithm determines the Content Encryption Key of a JWE.
type KeyManagementAlgorithm interface {
	// Name is the "alg" header value.
	Name() Algorithm

	// KeyTypes lists the "kty" values the algorithm accepts.
	KeyTypes() []string

	// Direct reports whether the key itself is the content encryption key,
	// in which case the JWE has no encrypted key.
	Direct() bool

	// WrapKey encrypts the content encryption key for the recipient key.
	WrapKey(key jwk.JWK, cek []byte) ([]byte, error)

	// UnwrapKey recovers the content encryption key with the recipient key.
	UnwrapKey(key jwk.JWK, encryptedKey []byte) ([]byte, error)
}

// ContentEncryptionAlgorithm performs authenticated encryption of a JWE
// plaintext.
type ContentEncryptionAlgorithm interface {
	// Name is the "enc" header value.
	Name() Algorithm

	// KeySize is the length of the content encryption key, in bytes.
	KeySize() int

	// IVSize is the length of the initialization vector, in bytes.
	IVSize() int

	Encrypt(cek, iv, plaintext, aad []byte) (ciphertext, tag []byte, err error)
	Decrypt(cek, iv, ciphertext, tag, aad []byte) ([]byte, error)
}

// Registry resolves algorithm names to implementations. A Registry is
// immutable once built and safe for concurrent use.
type Registry struct {
	signatures        map[Algorithm]SignatureAlgorithm
	keyManagement     map[Algorithm]KeyManagementAlgorithm
	contentEncryption map[Algorithm]ContentEncryptionAlgorithm
}

// RegistryOption adds algorithms to a Registry being built.
type RegistryOption func(*Registry)

// WithSignatureAlgorithms registers signature algorithms.
func WithSignatureAlgorithms(algs ...SignatureAlgorithm) RegistryOption {
	return func(r *Registry) {
		for _, alg := range algs {
			r.signatures[alg.Name()] = alg
		}
	}
}

// WithKeyManagementAlgorithms registers key management algorithms.
func WithKeyManagementAlgorithms(algs ...KeyManagementAlgorithm) RegistryOption {
	return func(r *Registry) {
		for _, alg := range algs {
			r.keyManagement[alg.Name()] = alg
		}
	}
}

// WithContentEncryptionAlgorithms registers content encryption algorithms.
func WithContentEncryptionAlgorithms(algs ...ContentEncryptionAlgorithm) RegistryOption {
	return func(r *Registry) {
		for _, alg := range algs {
			r.contentEncryption[alg.Name()] = alg
		}
	}
}

// NewRegistry returns a registry holding only the given algorithms.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		signatures:        make(map[Algorithm]SignatureAlgorithm),
		keyManagement:     make(map[Algorithm]KeyManagementAlgorithm),
		contentEncryption: make(map[Algorithm]ContentEncryptionAlgorithm),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultRegistry returns a registry with every algorithm of this package,
// except "none", which must be registered explicitly.
func DefaultRegistry(opts ...RegistryOption) *Registry {
	defaults := []RegistryOption{
		WithSignatureAlgorithms(
			NewHMAC(HS256), NewHMAC(HS384), NewHMAC(HS512),
			NewRSAPKCS1(RS256), NewRSAPKCS1(RS384), NewRSAPKCS1(RS512),
			NewRSAPSS(PS256), NewRSAPSS(PS384), NewRSAPSS(PS512),
			NewECDSA(ES256), NewECDSA(ES384), NewECDSA(ES512),
			NewEdDSA(),
		),
		WithKeyManagementAlgorithms(
			NewDirect(),
			NewRSAOAEP(RSAOAEP), NewRSAOAEP(RSAOAEP256),
			NewAESKeyWrap(A128KW), NewAESKeyWrap(A192KW), NewAESKeyWrap(A256KW),
		),
		WithContentEncryptionAlgorithms(
			NewAESGCM(A128GCM), NewAESGCM(A192GCM), NewAESGCM(A256GCM),
		),
	}
	return NewRegistry(append(defaults, opts...)...)
}

func unsupported(kind string, name Algorithm) error {
	err := joseerr.New(joseerr.UnsupportedAlgorithm, fmt.Sprintf("the %s algorithm %q is not supported", kind, name), nil)
	return err
}

// Signature returns the signature algorithm with the given name.
func (r *Registry) Signature(name Algorithm) (SignatureAlgorithm, error) {
	alg, ok := r.signatures[name]
	if !ok {
		return nil, unsupported("signature", name)
	}
	return alg, nil
}

// KeyManagement returns the key management algorithm with the given name.
func (r *Registry) KeyManagement(name Algorithm) (KeyManagementAlgorithm, error) {
	alg, ok := r.keyManagement[name]
	if !ok {
		return nil, unsupported("key management", name)
	}
	return alg, nil
}

// ContentEncryption returns the content encryption algorithm with the given name.
func (r *Registry) ContentEncryption(name Algorithm) (ContentEncryptionAlgorithm, error) {
	alg, ok := r.contentEncryption[name]
	if !ok {
		return nil, unsupported("content encryption", name)
	}
	return alg, nil
}

// Algorithms returns the names of every registered algorithm, sorted.
func (r *Registry) Algorithms() []Algorithm {
	var names []Algorithm
	names = append(names, maps.Keys(r.signatures)...)
	names = append(names, maps.Keys(r.keyManagement)...)
	names = append(names, maps.Keys(r.contentEncryption)...)
	slices.Sort(names)
	return names
}

// checkKeyType verifies that the key type is one the algorithm accepts.
func checkKeyType(alg interface {
	Name() Algorithm
	KeyTypes() []string
}, key jwk.JWK) error {
	if !slices.Contains(alg.KeyTypes(), key.KeyType()) {
		return fmt.Errorf("key type %q cannot be used with %q", key.KeyType(), alg.Name())
	}
	return nil
}
