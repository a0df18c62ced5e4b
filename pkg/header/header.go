package header

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/picatz/josekit/pkg/base64"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/jwa"
	"github.com/picatz/josekit/pkg/ordered"
)

// There are three classes of Header Parameter names: Registered Header
// Parameter names, Public Header Parameter names, and Private Header
// Parameter names.
//
// https://datatracker.ietf.org/doc/html/rfc7515#section-4
type (
	ParamaterName = string

	Registered = ParamaterName
	Public     = ParamaterName
	Private    = ParamaterName
)

// Registered Header Paramater Names
//
// https://datatracker.ietf.org/doc/html/rfc7515#section-4.1
const (
	Type                            Registered = "typ"
	Algorithm                       Registered = "alg"
	JWKSetURL                       Registered = "jku"
	JSONWebKey                      Registered = "jwk"
	X509URL                         Registered = "x5u"
	X509CertificateChain            Registered = "x5c"
	X509CertificateSHA1Thumbprint   Registered = "x5t"
	X509CertificateSHA256Thumbprint Registered = "x5t#S256"
	ContentType                     Registered = "cty"
	Critical                        Registered = "crit"

	// https://www.rfc-editor.org/rfc/rfc7516.html#section-4.1.2
	Encryption Registered = "enc"

	// https://www.rfc-editor.org/rfc/rfc7516.html#section-4.1.3
	Zip Registered = "zip"

	// https://www.rfc-editor.org/rfc/rfc7516.html#section-4.1.6
	KeyID Registered = "kid"
)

var (
	ErrParameterNotFound    = errors.New("header: parameter not found")
	ErrInvalidParameterType = errors.New("header: invalid parameter type")
)

// Parameters is a JSON object containing the parameters describing
// the cryptographic operations and parameters employed.
//
// The JOSE (JSON Object Signing and Encryption) Header is comprised
// of a set of Header Parameters. Parameters remember the order in which
// they were supplied, and are never modified in place.
type Parameters struct {
	ordered.Map
}

// New returns header parameters built from the given pairs, in order.
func New(pairs ...ordered.Pair) Parameters {
	return Parameters{Map: ordered.NewMap(pairs...)}
}

// FromMap wraps an ordered map as header parameters.
func FromMap(m ordered.Map) Parameters {
	return Parameters{Map: m}
}

// Parse decodes a JSON object into header parameters.
func Parse(b []byte) (Parameters, error) {
	m, err := ordered.Parse(b)
	if err != nil {
		return Parameters{}, err
	}
	return Parameters{Map: m}, nil
}

// ParseBase64URL decodes a base64url encoded JSON object into header
// parameters, as found in the "protected" member of a JWS or JWE.
func ParseBase64URL(encoded string) (Parameters, error) {
	b, err := base64.Decode(encoded)
	if err != nil {
		return Parameters{}, err
	}
	return Parse(b)
}

// Base64URLString returns the base64url encoding of the JSON header.
func (h Parameters) Base64URLString() (string, error) {
	b, err := json.Marshal(h.Map)
	if err != nil {
		return "", fmt.Errorf("failed to encode JOSE header base64 URL string: %w", err)
	}
	return base64.Encode(b), nil
}

// With returns a copy of the parameters with the named value set.
func (h Parameters) With(param ParamaterName, value any) Parameters {
	return Parameters{Map: h.Map.With(param, value)}
}

// Without returns a copy of the parameters without the named values.
func (h Parameters) Without(params ...ParamaterName) Parameters {
	return Parameters{Map: h.Map.Without(params...)}
}

// Get returns the named parameter, or ErrParameterNotFound.
func (h Parameters) Get(param ParamaterName) (any, error) {
	value, ok := h.Map.Get(param)
	if !ok {
		return nil, fmt.Errorf("header does not contain a %q paramater: %w", param, ErrParameterNotFound)
	}
	return value, nil
}

// GetString returns the named parameter as a string.
func (h Parameters) GetString(param ParamaterName) (string, error) {
	value, err := h.Get(param)
	if err != nil {
		return "", err
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("header paramater %q is not a string, is %T: %w", param, value, ErrInvalidParameterType)
	}
	return strValue, nil
}

func (h Parameters) Type() (string, error) {
	return h.GetString(Type)
}

func (h Parameters) Algorithm() (jwa.Algorithm, error) {
	return h.GetString(Algorithm)
}

// Encryption returns the JWE content encryption algorithm "enc".
func (h Parameters) Encryption() (jwa.Algorithm, error) {
	return h.GetString(Encryption)
}

func (h Parameters) ContentType() (string, error) {
	return h.GetString(ContentType)
}

func (h Parameters) KeyID() (string, error) {
	return h.GetString(KeyID)
}

// Compression returns the JWE compression algorithm "zip".
func (h Parameters) Compression() (string, error) {
	return h.GetString(Zip)
}

// Critical returns the names listed in the "crit" parameter.
//
// https://datatracker.ietf.org/doc/html/rfc7515#section-4.1.11
func (h Parameters) Critical() ([]string, error) {
	value, err := h.Get(Critical)
	if err != nil {
		return nil, err
	}

	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("header paramater %q contains %T: %w", Critical, item, ErrInvalidParameterType)
			}
			names = append(names, name)
		}
		return names, nil
	default:
		return nil, fmt.Errorf("header paramater %q is invalid type %T: %w", Critical, value, ErrInvalidParameterType)
	}
}

// Merge returns the complete header of a signature or recipient: the
// protected parameters followed by the unprotected ones.
//
// The two headers must be disjoint: a parameter present in both is
// rejected with a DuplicateHeaderParameter error.
//
// https://datatracker.ietf.org/doc/html/rfc7515#section-7.2.1
func Merge(protected, unprotected Parameters) (Parameters, error) {
	if common := protected.Intersect(unprotected.Map); len(common) > 0 {
		err := joseerr.New(
			joseerr.DuplicateHeaderParameter,
			fmt.Sprintf("parameter %q is present in both the protected and unprotected header", common[0]),
			nil,
		)
		return Parameters{}, err.ForParam(common[0])
	}
	return Parameters{Map: protected.Map.Merge(unprotected.Map)}, nil
}

// Overlay returns base with every parameter of top applied over it,
// top winning on conflict.
func Overlay(base, top Parameters) Parameters {
	return Parameters{Map: base.Map.Merge(top.Map)}
}
