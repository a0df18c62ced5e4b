package jwk

import (
	"encoding/json"
	"fmt"

	"github.com/picatz/josekit/pkg/base64"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/ordered"
	"golang.org/x/exp/slices"
)

// https://datatracker.ietf.org/doc/html/rfc7517#section-4
type (
	ParamaterName = string

	RSA       = ParamaterName
	ECDSA     = ParamaterName
	Symmetric = ParamaterName
)

const (
	KeyType              ParamaterName = "kty"     // https://datatracker.ietf.org/doc/html/rfc7517#section-4.1
	PublicKeyUse         ParamaterName = "use"     // https://datatracker.ietf.org/doc/html/rfc7517#section-4.2
	KeyOperations        ParamaterName = "key_ops" // https://datatracker.ietf.org/doc/html/rfc7517#section-4.3
	Algorithm            ParamaterName = "alg"     // https://datatracker.ietf.org/doc/html/rfc7517#section-4.4
	KeyID                ParamaterName = "kid"     // https://datatracker.ietf.org/doc/html/rfc7517#section-4.5
	X509URL              ParamaterName = "x5u"     // https://datatracker.ietf.org/doc/html/rfc7517#section-4.6
	X509CertificateChain ParamaterName = "x5c"     // https://datatracker.ietf.org/doc/html/rfc7517#section-4.7
	X509SHA1Thumbprint   ParamaterName = "x5t"     // https://datatracker.ietf.org/doc/html/rfc7517#section-4.8

	// X509SHA256Thumbprint is the SHA-256 certificate thumbprint parameter
	// written by the certificate importer.
	X509SHA256Thumbprint ParamaterName = "x5t#256"

	// K is the symmetric key value within a JWK.
	// https://datatracker.ietf.org/doc/html/rfc7517#appendix-A.3
	K Symmetric = "k"

	// Curve is the curve value within an ECDSA JWK, such as "P-256".
	// https://datatracker.ietf.org/doc/html/rfc7517#appendix-A.3
	Curve ECDSA = "crv"
	X     ECDSA = "x" // X is the x-coordinate for the elliptic curve point.
	Y     ECDSA = "y" // Y is the y-coordinate for the elliptic curve point.

	N RSA = "n" // N is the RSA public modulus value.
	E RSA = "e" // E is the RSA public exponent value.
	D RSA = "d" // D is the RSA private exponent value (also the EC and OKP private key).

	// https://datatracker.ietf.org/doc/html/rfc7518#section-6.3.2
	P   RSA = "p"
	Q   RSA = "q"
	DP  RSA = "dp"
	DQ  RSA = "dq"
	QI  RSA = "qi"
	Oth RSA = "oth"
)

// Key types.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-6.1
const (
	KeyTypeEC  = "EC"
	KeyTypeRSA = "RSA"
	KeyTypeOct = "oct"
	KeyTypeOKP = "OKP"
)

// Key operations.
//
// https://datatracker.ietf.org/doc/html/rfc7517#section-4.3
const (
	OperationSign       = "sign"
	OperationVerify     = "verify"
	OperationEncrypt    = "encrypt"
	OperationDecrypt    = "decrypt"
	OperationWrapKey    = "wrapKey"
	OperationUnwrapKey  = "unwrapKey"
	OperationDeriveKey  = "deriveKey"
	OperationDeriveBits = "deriveBits"
)

// privateParameters are removed by ToPublic, for every key type.
var privateParameters = []ParamaterName{D, P, Q, DP, DQ, QI, Oth}

// JWK is a JSON Web Key: an immutable, ordered set of key parameters.
//
// https://datatracker.ietf.org/doc/html/rfc7517#section-4
type JWK struct {
	params ordered.Map
}

// New returns a key from the given parameters. The "kty" parameter is
// mandatory, and "key_ops", when present, must be a list of strings.
func New(params ordered.Map) (JWK, error) {
	if !params.Has(KeyType) {
		return JWK{}, joseerr.Missing(KeyType)
	}

	if value, ok := params.Get(KeyOperations); ok {
		ops, err := stringList(value)
		if err != nil {
			return JWK{}, joseerr.Malformed(KeyOperations, err)
		}
		params = params.With(KeyOperations, ops)
	}

	return JWK{params: params}, nil
}

// Parse decodes a JSON object into a key.
func Parse(b []byte) (JWK, error) {
	params, err := ordered.Parse(b)
	if err != nil {
		return JWK{}, joseerr.New(joseerr.MalformedEncoding, "failed to decode JWK", err)
	}
	return New(params)
}

func stringList(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return slices.Clone(v), nil
	case []any:
		list := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of strings, found %T", item)
			}
			list = append(list, s)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("expected a list of strings, got %T", value)
	}
}

// Get returns the named parameter, or an UnknownParameter error.
func (k JWK) Get(name ParamaterName) (any, error) {
	value, ok := k.params.Get(name)
	if !ok {
		err := joseerr.New(joseerr.UnknownParameter, fmt.Sprintf("The value identified by %q does not exist.", name), nil)
		return nil, err.ForParam(name)
	}

	switch v := value.(type) {
	case []string:
		return slices.Clone(v), nil
	case []any:
		return slices.Clone(v), nil
	}
	return value, nil
}

// Has reports whether the named parameter exists.
func (k JWK) Has(name ParamaterName) bool {
	return k.params.Has(name)
}

// Params returns a copy of every parameter, in order.
func (k JWK) Params() ordered.Map {
	return k.params.Clone()
}

func (k JWK) stringParam(name ParamaterName) string {
	value, _ := k.params.Get(name)
	s, _ := value.(string)
	return s
}

// KeyType returns the "kty" parameter.
func (k JWK) KeyType() string {
	return k.stringParam(KeyType)
}

// KeyID returns the "kid" parameter, or an empty string.
func (k JWK) KeyID() string {
	return k.stringParam(KeyID)
}

// Algorithm returns the "alg" parameter, or an empty string.
func (k JWK) Algorithm() string {
	return k.stringParam(Algorithm)
}

// IsZero reports whether the key was never constructed.
func (k JWK) IsZero() bool {
	return k.params.Len() == 0
}

// IsPrivate reports whether the key holds private or secret material.
func (k JWK) IsPrivate() bool {
	if k.KeyType() == KeyTypeOct {
		return k.params.Has(K)
	}
	return k.params.Has(D)
}

// ToPublic returns the key without its private material, keeping the
// order of the remaining parameters. Symmetric ("oct") keys lose their
// "k" value.
func (k JWK) ToPublic() JWK {
	remove := privateParameters
	if k.KeyType() == KeyTypeOct {
		remove = append(slices.Clone(privateParameters), K)
	}
	return JWK{params: k.params.Without(remove...)}
}

// With returns a copy of the key with the named parameter set.
func (k JWK) With(name ParamaterName, value any) (JWK, error) {
	return New(k.params.With(name, value))
}

// Equal reports whether both keys hold the same parameters in the same order.
func (k JWK) Equal(other JWK) bool {
	return k.params.Equal(other.params)
}

// MarshalJSON encodes the key parameters in the order they were supplied.
func (k JWK) MarshalJSON() ([]byte, error) {
	return k.params.MarshalJSON()
}

// UnmarshalJSON decodes a key, failing if it is not a valid JWK.
func (k *JWK) UnmarshalJSON(b []byte) error {
	parsed, err := Parse(b)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// String returns the JSON form of the key.
func (k JWK) String() string {
	b, err := json.Marshal(k)
	if err != nil {
		return fmt.Sprintf("<invalid-jwk %v>", err)
	}
	return string(b)
}

// Validate checks that the required parameters are present for
// the key type, and that the values are valid.
func (k JWK) Validate() error {
	switch kty := k.KeyType(); kty {
	case KeyTypeEC:
		crv := k.stringParam(Curve)
		if _, ok := curves[crv]; !ok {
			return fmt.Errorf("invalid curve %q", crv)
		}
		return k.requireBase64(X, Y)
	case KeyTypeRSA:
		if err := k.requireBase64(N, E); err != nil {
			return err
		}
		if k.Has(D) {
			return k.requireBase64(D)
		}
		return nil
	case KeyTypeOct:
		return k.requireBase64(K)
	case KeyTypeOKP:
		if crv := k.stringParam(Curve); crv != CurveEd25519 {
			return fmt.Errorf("invalid curve %q", crv)
		}
		return k.requireBase64(X)
	default:
		return fmt.Errorf("unknown key type %q", kty)
	}
}

func (k JWK) requireBase64(names ...ParamaterName) error {
	for _, name := range names {
		value, ok := k.params.Get(name)
		if !ok {
			return fmt.Errorf("missing required paramater %q", name)
		}
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("invalid type for %q", name)
		}
		if _, err := base64.Decode(s); err != nil {
			return fmt.Errorf("invalid base64 encoding for %q: %w", name, err)
		}
	}
	return nil
}

// CheckUsage verifies that the key may be used for the given operation,
// according to its "use" and "key_ops" parameters.
//
// https://datatracker.ietf.org/doc/html/rfc7517#section-4.3
func (k JWK) CheckUsage(op string) error {
	if use := k.stringParam(PublicKeyUse); use != "" {
		var allowed []string
		switch use {
		case "sig":
			allowed = []string{OperationSign, OperationVerify}
		case "enc":
			allowed = []string{OperationEncrypt, OperationDecrypt, OperationWrapKey, OperationUnwrapKey, OperationDeriveKey, OperationDeriveBits}
		}
		// Unregistered "use" values do not restrict the key.
		if allowed != nil && !slices.Contains(allowed, op) {
			return fmt.Errorf("key use %q does not allow %q", use, op)
		}
	}

	if value, ok := k.params.Get(KeyOperations); ok {
		ops, _ := value.([]string)
		if !slices.Contains(ops, op) {
			return fmt.Errorf("key operations %v do not allow %q", ops, op)
		}
	}

	return nil
}

// CheckAlgorithm verifies that the key may be used with the given
// algorithm: a key that declares "alg" is restricted to it.
func (k JWK) CheckAlgorithm(alg string) error {
	if keyAlg := k.Algorithm(); keyAlg != "" && keyAlg != alg {
		return fmt.Errorf("key is restricted to algorithm %q, not %q", keyAlg, alg)
	}
	return nil
}
