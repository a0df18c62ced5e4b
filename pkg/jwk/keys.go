package jwk

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/picatz/josekit/pkg/base64"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/ordered"
)

// Curve names.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-6.2.1.1
// https://datatracker.ietf.org/doc/html/rfc8037#section-2
const (
	CurveP256    = "P-256"
	CurveP384    = "P-384"
	CurveP521    = "P-521"
	CurveEd25519 = "Ed25519"
)

var curves = map[string]elliptic.Curve{
	CurveP256: elliptic.P256(),
	CurveP384: elliptic.P384(),
	CurveP521: elliptic.P521(),
}

func curveName(c elliptic.Curve) (string, bool) {
	for name, curve := range curves {
		if curve == c {
			return name, true
		}
	}
	return "", false
}

func unsupportedKey(key any) error {
	return joseerr.New(joseerr.UnsupportedKeyAlgorithm, fmt.Sprintf("unsupported key type %T", key), nil)
}

func (k JWK) decodeParam(name ParamaterName) ([]byte, error) {
	value, ok := k.params.Get(name)
	if !ok {
		return nil, joseerr.Missing(name)
	}
	s, ok := value.(string)
	if !ok {
		return nil, joseerr.Malformed(name, fmt.Errorf("expected string, got %T", value))
	}
	b, err := base64.Decode(s)
	if err != nil {
		return nil, joseerr.Malformed(name, err)
	}
	return b, nil
}

func (k JWK) bigIntParam(name ParamaterName) (*big.Int, error) {
	b, err := k.decodeParam(name)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// PublicKey returns the crypto.PublicKey described by the key: an
// *rsa.PublicKey, *ecdsa.PublicKey or ed25519.PublicKey.
func (k JWK) PublicKey() (crypto.PublicKey, error) {
	switch kty := k.KeyType(); kty {
	case KeyTypeRSA:
		return k.rsaPublicKey()
	case KeyTypeEC:
		return k.ecdsaPublicKey()
	case KeyTypeOKP:
		return k.ed25519PublicKey()
	default:
		return nil, joseerr.New(joseerr.UnsupportedKeyAlgorithm, fmt.Sprintf("key type %q has no public key", kty), nil)
	}
}

func (k JWK) rsaPublicKey() (*rsa.PublicKey, error) {
	n, err := k.bigIntParam(N)
	if err != nil {
		return nil, err
	}

	e, err := k.bigIntParam(E)
	if err != nil {
		return nil, err
	}

	if !e.IsInt64() || e.Int64() < 2 || e.Int64() > 1<<31-1 {
		return nil, joseerr.Malformed(E, fmt.Errorf("invalid RSA public exponent"))
	}

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func (k JWK) ecdsaPublicKey() (*ecdsa.PublicKey, error) {
	crv := k.stringParam(Curve)
	curve, ok := curves[crv]
	if !ok {
		return nil, joseerr.New(joseerr.UnsupportedKeyAlgorithm, fmt.Sprintf("unsupported curve %q", crv), nil)
	}

	size := (curve.Params().BitSize + 7) / 8

	x, err := k.decodeParam(X)
	if err != nil {
		return nil, err
	}
	y, err := k.decodeParam(Y)
	if err != nil {
		return nil, err
	}
	if len(x) != size || len(y) != size {
		return nil, joseerr.New(joseerr.MalformedEncoding, fmt.Sprintf("invalid %s coordinate length", crv), nil)
	}

	pub := &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}

	// ECDH conversion rejects points that are not on the curve.
	if _, err := pub.ECDH(); err != nil {
		return nil, joseerr.New(joseerr.MalformedEncoding, "invalid elliptic curve point", err)
	}

	return pub, nil
}

func (k JWK) ed25519PublicKey() (ed25519.PublicKey, error) {
	if crv := k.stringParam(Curve); crv != CurveEd25519 {
		return nil, joseerr.New(joseerr.UnsupportedKeyAlgorithm, fmt.Sprintf("unsupported curve %q", crv), nil)
	}

	x, err := k.decodeParam(X)
	if err != nil {
		return nil, err
	}
	if len(x) != ed25519.PublicKeySize {
		return nil, joseerr.Malformed(X, fmt.Errorf("invalid Ed25519 public key length %d", len(x)))
	}

	return ed25519.PublicKey(x), nil
}

// PrivateKey returns the crypto.PrivateKey described by the key: an
// *rsa.PrivateKey, *ecdsa.PrivateKey or ed25519.PrivateKey.
func (k JWK) PrivateKey() (crypto.PrivateKey, error) {
	if !k.Has(D) {
		return nil, joseerr.Missing(D)
	}

	switch kty := k.KeyType(); kty {
	case KeyTypeRSA:
		return k.rsaPrivateKey()
	case KeyTypeEC:
		pub, err := k.ecdsaPublicKey()
		if err != nil {
			return nil, err
		}
		d, err := k.bigIntParam(D)
		if err != nil {
			return nil, err
		}
		priv := &ecdsa.PrivateKey{PublicKey: *pub, D: d}
		if _, err := priv.ECDH(); err != nil {
			return nil, joseerr.Malformed(D, err)
		}
		return priv, nil
	case KeyTypeOKP:
		pub, err := k.ed25519PublicKey()
		if err != nil {
			return nil, err
		}
		seed, err := k.decodeParam(D)
		if err != nil {
			return nil, err
		}
		if len(seed) != ed25519.SeedSize {
			return nil, joseerr.Malformed(D, fmt.Errorf("invalid Ed25519 seed length %d", len(seed)))
		}
		priv := ed25519.NewKeyFromSeed(seed)
		if !pub.Equal(priv.Public()) {
			return nil, joseerr.Malformed(D, fmt.Errorf("private key does not match public key"))
		}
		return priv, nil
	default:
		return nil, joseerr.New(joseerr.UnsupportedKeyAlgorithm, fmt.Sprintf("key type %q has no private key", kty), nil)
	}
}

func (k JWK) rsaPrivateKey() (*rsa.PrivateKey, error) {
	pub, err := k.rsaPublicKey()
	if err != nil {
		return nil, err
	}

	d, err := k.bigIntParam(D)
	if err != nil {
		return nil, err
	}

	priv := &rsa.PrivateKey{PublicKey: *pub, D: d}

	if k.Has(P) && k.Has(Q) {
		p, err := k.bigIntParam(P)
		if err != nil {
			return nil, err
		}
		q, err := k.bigIntParam(Q)
		if err != nil {
			return nil, err
		}
		priv.Primes = []*big.Int{p, q}
	}

	if err := priv.Validate(); err != nil {
		return nil, joseerr.New(joseerr.MalformedEncoding, "invalid RSA private key", err)
	}
	priv.Precompute()

	return priv, nil
}

// SymmetricKey returns the secret of an "oct" key.
func (k JWK) SymmetricKey() ([]byte, error) {
	if kty := k.KeyType(); kty != KeyTypeOct {
		return nil, joseerr.New(joseerr.UnsupportedKeyAlgorithm, fmt.Sprintf("key type %q is not symmetric", kty), nil)
	}
	return k.decodeParam(K)
}

// FromPublicKey returns a key describing the given public key, followed
// by the extra parameters. Extra parameters replace derived ones in place.
func FromPublicKey(pub crypto.PublicKey, extra ordered.Map) (JWK, error) {
	params, err := publicParams(pub)
	if err != nil {
		return JWK{}, err
	}
	return New(params.Merge(extra))
}

func publicParams(pub crypto.PublicKey) (ordered.Map, error) {
	switch pub := pub.(type) {
	case *rsa.PublicKey:
		return ordered.NewMap(
			ordered.Pair{Key: KeyType, Value: KeyTypeRSA},
			ordered.Pair{Key: N, Value: base64.Encode(pub.N.Bytes())},
			ordered.Pair{Key: E, Value: base64.Encode(big.NewInt(int64(pub.E)).Bytes())},
		), nil
	case *ecdsa.PublicKey:
		crv, ok := curveName(pub.Curve)
		if !ok {
			return ordered.Map{}, joseerr.New(joseerr.UnsupportedKeyAlgorithm, "unsupported elliptic curve", nil)
		}
		point, err := pub.ECDH()
		if err != nil {
			return ordered.Map{}, joseerr.New(joseerr.UnsupportedKeyAlgorithm, "invalid elliptic curve key", err)
		}
		// Uncompressed form: 0x04 || X || Y, each coordinate padded to the curve size.
		raw := point.Bytes()
		size := (len(raw) - 1) / 2
		return ordered.NewMap(
			ordered.Pair{Key: KeyType, Value: KeyTypeEC},
			ordered.Pair{Key: Curve, Value: crv},
			ordered.Pair{Key: X, Value: base64.Encode(raw[1 : 1+size])},
			ordered.Pair{Key: Y, Value: base64.Encode(raw[1+size:])},
		), nil
	case ed25519.PublicKey:
		return ordered.NewMap(
			ordered.Pair{Key: KeyType, Value: KeyTypeOKP},
			ordered.Pair{Key: Curve, Value: CurveEd25519},
			ordered.Pair{Key: X, Value: base64.Encode(pub)},
		), nil
	default:
		return ordered.Map{}, unsupportedKey(pub)
	}
}

// crtValues returns the CRT exponents and coefficient of a two-prime RSA
// key without modifying the key.
func crtValues(d, p, q *big.Int) (dp, dq, qi *big.Int) {
	one := big.NewInt(1)
	dp = new(big.Int).Mod(d, new(big.Int).Sub(p, one))
	dq = new(big.Int).Mod(d, new(big.Int).Sub(q, one))
	qi = new(big.Int).ModInverse(q, p)
	return dp, dq, qi
}

// FromPrivateKey returns a key describing the given private key and its
// public half, followed by the extra parameters.
func FromPrivateKey(priv crypto.PrivateKey, extra ordered.Map) (JWK, error) {
	var params ordered.Map

	switch priv := priv.(type) {
	case *rsa.PrivateKey:
		pub, err := publicParams(&priv.PublicKey)
		if err != nil {
			return JWK{}, err
		}
		params = pub.With(D, base64.Encode(priv.D.Bytes()))
		if len(priv.Primes) == 2 {
			p, q := priv.Primes[0], priv.Primes[1]
			dp, dq, qi := crtValues(priv.D, p, q)
			params = params.
				With(P, base64.Encode(p.Bytes())).
				With(Q, base64.Encode(q.Bytes())).
				With(DP, base64.Encode(dp.Bytes())).
				With(DQ, base64.Encode(dq.Bytes())).
				With(QI, base64.Encode(qi.Bytes()))
		}
	case *ecdsa.PrivateKey:
		pub, err := publicParams(&priv.PublicKey)
		if err != nil {
			return JWK{}, err
		}
		ecdhKey, err := priv.ECDH()
		if err != nil {
			return JWK{}, joseerr.New(joseerr.UnsupportedKeyAlgorithm, "invalid elliptic curve key", err)
		}
		params = pub.With(D, base64.Encode(ecdhKey.Bytes()))
	case ed25519.PrivateKey:
		pub, err := publicParams(priv.Public())
		if err != nil {
			return JWK{}, err
		}
		params = pub.With(D, base64.Encode(priv.Seed()))
	default:
		return JWK{}, unsupportedKey(priv)
	}

	return New(params.Merge(extra))
}

// FromSymmetricKey returns an "oct" key holding the given secret.
func FromSymmetricKey(secret []byte, extra ordered.Map) (JWK, error) {
	params := ordered.NewMap(
		ordered.Pair{Key: KeyType, Value: KeyTypeOct},
		ordered.Pair{Key: K, Value: base64.Encode(secret)},
	)
	return New(params.Merge(extra))
}
