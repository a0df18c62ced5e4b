package jwa

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"errors"
	"fmt"
	"math/big"

	"github.com/picatz/josekit/pkg/jwk"
)

var (
	ErrInvalidSignature = errors.New("jwa: invalid signature")
	ErrInvalidKey       = errors.New("jwa: invalid key")
)

// MinimumRSAKeySize is the smallest RSA modulus, in bits, accepted by the
// RSASSA and RSAES algorithms.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-3.3
const MinimumRSAKeySize = 2048

func hashFor(alg Algorithm) crypto.Hash {
	switch alg {
	case HS256, RS256, PS256, ES256:
		return crypto.SHA256
	case HS384, RS384, PS384, ES384:
		return crypto.SHA384
	case HS512, RS512, PS512, ES512:
		return crypto.SHA512
	default:
		return 0
	}
}

func digest(hash crypto.Hash, input []byte) []byte {
	h := hash.New()
	h.Write(input)
	return h.Sum(nil)
}

// HMAC implements the HS256, HS384 and HS512 algorithms.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-3.2
type HMAC struct {
	name Algorithm
	hash crypto.Hash
}

// NewHMAC returns the HMAC algorithm with the given name.
func NewHMAC(name Algorithm) *HMAC {
	return &HMAC{name: name, hash: hashFor(name)}
}

func (a *HMAC) Name() Algorithm    { return a.name }
func (a *HMAC) KeyTypes() []string { return []string{jwk.KeyTypeOct} }

func (a *HMAC) mac(key jwk.JWK, input []byte) ([]byte, error) {
	if err := checkKeyType(a, key); err != nil {
		return nil, err
	}

	secret, err := key.SymmetricKey()
	if err != nil {
		return nil, err
	}

	// A key of the same size as the hash output or larger MUST be used.
	if len(secret) < a.hash.Size() {
		return nil, fmt.Errorf("%w: %s requires a key of at least %d bytes, got %d", ErrInvalidKey, a.name, a.hash.Size(), len(secret))
	}

	h := hmac.New(a.hash.New, secret)
	h.Write(input)
	return h.Sum(nil), nil
}

func (a *HMAC) Sign(key jwk.JWK, input []byte) ([]byte, error) {
	return a.mac(key, input)
}

func (a *HMAC) Verify(key jwk.JWK, input, signature []byte) error {
	sig, err := a.mac(key, input)
	if err != nil {
		return err
	}
	if !hmac.Equal(signature, sig) {
		return ErrInvalidSignature
	}
	return nil
}

func rsaPrivateKey(key jwk.JWK) (*rsa.PrivateKey, error) {
	priv, err := key.PrivateKey()
	if err != nil {
		return nil, err
	}
	rsaKey, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected RSA private key, got %T", ErrInvalidKey, priv)
	}
	if rsaKey.N.BitLen() < MinimumRSAKeySize {
		return nil, fmt.Errorf("%w: RSA key size %d is smaller than %d bits", ErrInvalidKey, rsaKey.N.BitLen(), MinimumRSAKeySize)
	}
	return rsaKey, nil
}

func rsaPublicKey(key jwk.JWK) (*rsa.PublicKey, error) {
	pub, err := key.PublicKey()
	if err != nil {
		return nil, err
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected RSA public key, got %T", ErrInvalidKey, pub)
	}
	if rsaKey.N.BitLen() < MinimumRSAKeySize {
		return nil, fmt.Errorf("%w: RSA key size %d is smaller than %d bits", ErrInvalidKey, rsaKey.N.BitLen(), MinimumRSAKeySize)
	}
	return rsaKey, nil
}

// RSAPKCS1 implements the RS256, RS384 and RS512 algorithms.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-3.3
type RSAPKCS1 struct {
	name Algorithm
	hash crypto.Hash
}

// NewRSAPKCS1 returns the RSASSA-PKCS1-v1_5 algorithm with the given name.
func NewRSAPKCS1(name Algorithm) *RSAPKCS1 {
	return &RSAPKCS1{name: name, hash: hashFor(name)}
}

func (a *RSAPKCS1) Name() Algorithm    { return a.name }
func (a *RSAPKCS1) KeyTypes() []string { return []string{jwk.KeyTypeRSA} }

func (a *RSAPKCS1) Sign(key jwk.JWK, input []byte) ([]byte, error) {
	if err := checkKeyType(a, key); err != nil {
		return nil, err
	}
	priv, err := rsaPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return rsa.SignPKCS1v15(rand.Reader, priv, a.hash, digest(a.hash, input))
}

func (a *RSAPKCS1) Verify(key jwk.JWK, input, signature []byte) error {
	if err := checkKeyType(a, key); err != nil {
		return err
	}
	pub, err := rsaPublicKey(key)
	if err != nil {
		return err
	}
	if err := rsa.VerifyPKCS1v15(pub, a.hash, digest(a.hash, input), signature); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}

// RSAPSS implements the PS256, PS384 and PS512 algorithms.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-3.5
type RSAPSS struct {
	name Algorithm
	hash crypto.Hash
}

// NewRSAPSS returns the RSASSA-PSS algorithm with the given name.
func NewRSAPSS(name Algorithm) *RSAPSS {
	return &RSAPSS{name: name, hash: hashFor(name)}
}

func (a *RSAPSS) Name() Algorithm    { return a.name }
func (a *RSAPSS) KeyTypes() []string { return []string{jwk.KeyTypeRSA} }

// The salt length equals the hash output length.
func (a *RSAPSS) options() *rsa.PSSOptions {
	return &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: a.hash}
}

func (a *RSAPSS) Sign(key jwk.JWK, input []byte) ([]byte, error) {
	if err := checkKeyType(a, key); err != nil {
		return nil, err
	}
	priv, err := rsaPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return rsa.SignPSS(rand.Reader, priv, a.hash, digest(a.hash, input), a.options())
}

func (a *RSAPSS) Verify(key jwk.JWK, input, signature []byte) error {
	if err := checkKeyType(a, key); err != nil {
		return err
	}
	pub, err := rsaPublicKey(key)
	if err != nil {
		return err
	}
	if err := rsa.VerifyPSS(pub, a.hash, digest(a.hash, input), signature, a.options()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}

// ECDSA implements the ES256, ES384 and ES512 algorithms. Signatures are
// the fixed size concatenation of R and S.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-3.4
type ECDSA struct {
	name  Algorithm
	hash  crypto.Hash
	curve string
}

// NewECDSA returns the ECDSA algorithm with the given name.
func NewECDSA(name Algorithm) *ECDSA {
	curve := map[Algorithm]string{
		ES256: jwk.CurveP256,
		ES384: jwk.CurveP384,
		ES512: jwk.CurveP521,
	}[name]
	return &ECDSA{name: name, hash: hashFor(name), curve: curve}
}

func (a *ECDSA) Name() Algorithm    { return a.name }
func (a *ECDSA) KeyTypes() []string { return []string{jwk.KeyTypeEC} }

func (a *ECDSA) checkCurve(key jwk.JWK) error {
	if err := checkKeyType(a, key); err != nil {
		return err
	}
	crv, _ := key.Get(jwk.Curve)
	if crv != a.curve {
		return fmt.Errorf("%w: %s requires curve %s, got %v", ErrInvalidKey, a.name, a.curve, crv)
	}
	return nil
}

func (a *ECDSA) Sign(key jwk.JWK, input []byte) ([]byte, error) {
	if err := a.checkCurve(key); err != nil {
		return nil, err
	}

	priv, err := key.PrivateKey()
	if err != nil {
		return nil, err
	}
	ecKey, ok := priv.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected ECDSA private key, got %T", ErrInvalidKey, priv)
	}

	r, s, err := ecdsa.Sign(rand.Reader, ecKey, digest(a.hash, input))
	if err != nil {
		return nil, fmt.Errorf("failed to sign with ECDSA private key: %w", err)
	}

	keyBytes := (ecKey.Curve.Params().BitSize + 7) / 8

	out := make([]byte, 2*keyBytes)
	r.FillBytes(out[:keyBytes])
	s.FillBytes(out[keyBytes:])

	return out, nil
}

func (a *ECDSA) Verify(key jwk.JWK, input, signature []byte) error {
	if err := a.checkCurve(key); err != nil {
		return err
	}

	pub, err := key.PublicKey()
	if err != nil {
		return err
	}
	ecKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: expected ECDSA public key, got %T", ErrInvalidKey, pub)
	}

	keyBytes := (ecKey.Curve.Params().BitSize + 7) / 8
	if len(signature) != 2*keyBytes {
		return fmt.Errorf("%w: invalid signature length for key size", ErrInvalidSignature)
	}

	r := new(big.Int).SetBytes(signature[:keyBytes])
	s := new(big.Int).SetBytes(signature[keyBytes:])

	if !ecdsa.Verify(ecKey, digest(a.hash, input), r, s) {
		return ErrInvalidSignature
	}
	return nil
}

// EdDSAAlgorithm implements the EdDSA algorithm with Ed25519 keys.
//
// https://datatracker.ietf.org/doc/html/rfc8037#section-3.1
type EdDSAAlgorithm struct{}

// NewEdDSA returns the EdDSA algorithm.
func NewEdDSA() *EdDSAAlgorithm {
	return &EdDSAAlgorithm{}
}

func (a *EdDSAAlgorithm) Name() Algorithm    { return EdDSA }
func (a *EdDSAAlgorithm) KeyTypes() []string { return []string{jwk.KeyTypeOKP} }

func (a *EdDSAAlgorithm) Sign(key jwk.JWK, input []byte) ([]byte, error) {
	if err := checkKeyType(a, key); err != nil {
		return nil, err
	}
	priv, err := key.PrivateKey()
	if err != nil {
		return nil, err
	}
	edKey, ok := priv.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected Ed25519 private key, got %T", ErrInvalidKey, priv)
	}
	return ed25519.Sign(edKey, input), nil
}

func (a *EdDSAAlgorithm) Verify(key jwk.JWK, input, signature []byte) error {
	if err := checkKeyType(a, key); err != nil {
		return err
	}
	pub, err := key.PublicKey()
	if err != nil {
		return err
	}
	edKey, ok := pub.(ed25519.PublicKey)
	if !ok {
		return fmt.Errorf("%w: expected Ed25519 public key, got %T", ErrInvalidKey, pub)
	}
	if !ed25519.Verify(edKey, input, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// KeyTypeNone is the key type accepted by the "none" algorithm.
const KeyTypeNone = "none"

// NoneAlgorithm implements the "none" algorithm: an empty signature,
// accepted only with a key of type "none".
//
// # Warning
//
// The use of this algorithm is considered dangerous, it is not part of
// the DefaultRegistry.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-3.6
type NoneAlgorithm struct{}

// NewNone returns the "none" algorithm.
func NewNone() *NoneAlgorithm {
	return &NoneAlgorithm{}
}

func (a *NoneAlgorithm) Name() Algorithm    { return None }
func (a *NoneAlgorithm) KeyTypes() []string { return []string{KeyTypeNone} }

func (a *NoneAlgorithm) Sign(key jwk.JWK, _ []byte) ([]byte, error) {
	if err := checkKeyType(a, key); err != nil {
		return nil, err
	}
	return []byte{}, nil
}

func (a *NoneAlgorithm) Verify(key jwk.JWK, _, signature []byte) error {
	if err := checkKeyType(a, key); err != nil {
		return err
	}
	if len(signature) != 0 {
		return ErrInvalidSignature
	}
	return nil
}
