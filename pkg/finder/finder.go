// Package finder selects the candidate keys of a JWK set for a JOSE header.
package finder

import (
	"context"
	"crypto"
	"crypto/subtle"
	"fmt"

	"github.com/picatz/josekit/pkg/header"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/jwk"
	"github.com/picatz/josekit/pkg/jwk/thumbprint"
	"github.com/picatz/josekit/pkg/ordered"
	"golang.org/x/exp/slices"
)

// KeyFinder returns the keys to try for the given complete header. An
// empty set means the finder has no opinion.
type KeyFinder interface {
	FindKeys(ctx context.Context, h header.Parameters, keys jwk.Set) (jwk.Set, error)
}

// Func adapts a function to a KeyFinder.
type Func func(ctx context.Context, h header.Parameters, keys jwk.Set) (jwk.Set, error)

func (f Func) FindKeys(ctx context.Context, h header.Parameters, keys jwk.Set) (jwk.Set, error) {
	return f(ctx, h, keys)
}

// ByKeyID selects the keys whose "kid" matches the header "kid".
func ByKeyID() KeyFinder {
	return Func(func(_ context.Context, h header.Parameters, keys jwk.Set) (jwk.Set, error) {
		kid, err := h.KeyID()
		if err != nil {
			return jwk.Set{}, nil
		}
		return keys.Filter(func(key jwk.JWK) bool {
			return key.KeyID() == kid
		}), nil
	})
}

// ByX5T selects the keys whose certificate thumbprint matches the header
// "x5t" or "x5t#S256" parameter.
func ByX5T() KeyFinder {
	return Func(func(_ context.Context, h header.Parameters, keys jwk.Set) (jwk.Set, error) {
		if x5t, err := h.GetString(header.X509CertificateSHA1Thumbprint); err == nil {
			return keys.Filter(paramEquals(x5t, jwk.X509SHA1Thumbprint)), nil
		}
		if x5t256, err := h.GetString(header.X509CertificateSHA256Thumbprint); err == nil {
			return keys.Filter(paramEquals(x5t256, jwk.X509SHA256Thumbprint, header.X509CertificateSHA256Thumbprint)), nil
		}
		return jwk.Set{}, nil
	})
}

func paramEquals(want string, names ...string) func(jwk.JWK) bool {
	return func(key jwk.JWK) bool {
		for _, name := range names {
			value, err := key.Get(name)
			if err != nil {
				continue
			}
			if s, ok := value.(string); ok && s == want {
				return true
			}
		}
		return false
	}
}

// ByEmbeddedJWK selects the keys of the set whose RFC 7638 thumbprint
// equals the thumbprint of the key embedded in the header "jwk"
// parameter. An embedded key is never trusted on its own.
func ByEmbeddedJWK() KeyFinder {
	return Func(func(_ context.Context, h header.Parameters, keys jwk.Set) (jwk.Set, error) {
		value, err := h.Get(header.JSONWebKey)
		if err != nil {
			return jwk.Set{}, nil
		}

		var embedded jwk.JWK
		switch v := value.(type) {
		case jwk.JWK:
			embedded = v
		case ordered.Map:
			embedded, err = jwk.New(v)
			if err != nil {
				return jwk.Set{}, joseerr.Malformed(header.JSONWebKey, err)
			}
		default:
			return jwk.Set{}, joseerr.Malformed(header.JSONWebKey, fmt.Errorf("unexpected type %T", value))
		}

		want, err := thumbprint.Generate(embedded, crypto.SHA256)
		if err != nil {
			return jwk.Set{}, joseerr.Malformed(header.JSONWebKey, err)
		}

		return keys.Filter(func(key jwk.JWK) bool {
			got, err := thumbprint.Generate(key, crypto.SHA256)
			return err == nil && subtle.ConstantTimeCompare(want, got) == 1
		}), nil
	})
}

// ByJKU fetches the JWK set referenced by the header "jku" parameter
// through the cache. Only the allowed URLs are fetched; any other "jku"
// is an error. When the header has a "kid", only matching keys are kept.
func ByJKU(cache *jwk.URLSetCache, allowedURLs ...string) KeyFinder {
	return Func(func(ctx context.Context, h header.Parameters, _ jwk.Set) (jwk.Set, error) {
		url, err := h.GetString(header.JWKSetURL)
		if err != nil {
			return jwk.Set{}, nil
		}
		if !slices.Contains(allowedURLs, url) {
			return jwk.Set{}, joseerr.New(joseerr.InvalidInput, fmt.Sprintf("JWK set URL %q is not allowed", url), nil).ForParam(header.JWKSetURL)
		}

		set, err := cache.Get(ctx, url)
		if err != nil {
			return jwk.Set{}, fmt.Errorf("failed to get JWK set from %q: %w", url, err)
		}

		if kid, err := h.KeyID(); err == nil {
			return set.Filter(func(key jwk.JWK) bool {
				return key.KeyID() == kid
			}), nil
		}
		return set, nil
	})
}

// All selects every key of the set.
func All() KeyFinder {
	return Func(func(_ context.Context, _ header.Parameters, keys jwk.Set) (jwk.Set, error) {
		return keys, nil
	})
}

// Chain returns the first non-empty result of the given finders, in order.
// An error from any finder stops the chain.
func Chain(finders ...KeyFinder) KeyFinder {
	return Func(func(ctx context.Context, h header.Parameters, keys jwk.Set) (jwk.Set, error) {
		for _, f := range finders {
			found, err := f.FindKeys(ctx, h, keys)
			if err != nil {
				return jwk.Set{}, err
			}
			if found.Len() > 0 {
				return found, nil
			}
		}
		return jwk.Set{}, nil
	})
}

// Default selects keys by "kid", then by certificate thumbprint, then by
// embedded key thumbprint, and falls back to every key of the set.
func Default() KeyFinder {
	return Chain(ByKeyID(), ByX5T(), ByEmbeddedJWK(), All())
}
