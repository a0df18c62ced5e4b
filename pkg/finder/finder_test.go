package finder

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/picatz/josekit/pkg/header"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/jwk"
	"github.com/picatz/josekit/pkg/ordered"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, params string) jwk.JWK {
	t.Helper()
	key, err := jwk.Parse([]byte(params))
	require.NoError(t, err)
	return key
}

func ecKey(t *testing.T, kid string) jwk.JWK {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	key, err := jwk.FromPublicKey(&priv.PublicKey, ordered.NewMap(ordered.Pair{Key: jwk.KeyID, Value: kid}))
	require.NoError(t, err)
	return key
}

func h(pairs ...ordered.Pair) header.Parameters {
	return header.New(pairs...)
}

func TestByKeyID(t *testing.T) {
	a, b := ecKey(t, "a"), ecKey(t, "b")
	keys := jwk.NewSet(a, b)

	found, err := ByKeyID().FindKeys(context.Background(), h(ordered.Pair{Key: header.KeyID, Value: "b"}), keys)
	require.NoError(t, err)
	require.Equal(t, 1, found.Len())
	require.Equal(t, "b", found.Keys()[0].KeyID())

	found, err = ByKeyID().FindKeys(context.Background(), h(), keys)
	require.NoError(t, err)
	require.Zero(t, found.Len())
}

func TestByX5T(t *testing.T) {
	withThumbprints := mustKey(t, `{"kty":"oct","k":"GawgguFyGrWKav7AX4VKUg","x5t":"sha1-value","x5t#256":"sha256-value"}`)
	other := mustKey(t, `{"kty":"oct","k":"AAAAAAAAAAAAAAAAAAAAAA"}`)
	keys := jwk.NewSet(other, withThumbprints)

	tests := []struct {
		name   string
		header header.Parameters
		found  int
	}{
		{"sha1", h(ordered.Pair{Key: header.X509CertificateSHA1Thumbprint, Value: "sha1-value"}), 1},
		{"sha256", h(ordered.Pair{Key: header.X509CertificateSHA256Thumbprint, Value: "sha256-value"}), 1},
		{"mismatch", h(ordered.Pair{Key: header.X509CertificateSHA1Thumbprint, Value: "nope"}), 0},
		{"absent", h(), 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			found, err := ByX5T().FindKeys(context.Background(), test.header, keys)
			require.NoError(t, err)
			require.Equal(t, test.found, found.Len())
		})
	}
}

func TestByEmbeddedJWK(t *testing.T) {
	a, b := ecKey(t, "a"), ecKey(t, "b")
	keys := jwk.NewSet(a, b)

	// The embedded copy differs in non-required members only.
	embedded := b.Params().Without(jwk.KeyID).With(jwk.PublicKeyUse, "sig")

	found, err := ByEmbeddedJWK().FindKeys(context.Background(), h(ordered.Pair{Key: header.JSONWebKey, Value: embedded}), keys)
	require.NoError(t, err)
	require.Equal(t, 1, found.Len())
	require.Equal(t, "b", found.Keys()[0].KeyID())

	stranger := ecKey(t, "c")
	found, err = ByEmbeddedJWK().FindKeys(context.Background(), h(ordered.Pair{Key: header.JSONWebKey, Value: stranger}), keys)
	require.NoError(t, err)
	require.Zero(t, found.Len())

	_, err = ByEmbeddedJWK().FindKeys(context.Background(), h(ordered.Pair{Key: header.JSONWebKey, Value: "not a key"}), keys)
	require.ErrorIs(t, err, joseerr.ErrMalformedEncoding)

	_, err = ByEmbeddedJWK().FindKeys(context.Background(), h(ordered.Pair{Key: header.JSONWebKey, Value: ordered.NewMap(ordered.Pair{Key: "x", Value: "y"})}), keys)
	require.ErrorIs(t, err, joseerr.ErrMalformedEncoding)
}

func TestByJKU(t *testing.T) {
	a, b := ecKey(t, "a"), ecKey(t, "b")
	body, err := jwk.NewSet(a, b).MarshalJSON()
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	cache := jwk.NewURLSetCache(server.Client(), time.Minute, time.Minute)
	finder := ByJKU(cache, server.URL)

	found, err := finder.FindKeys(context.Background(), h(ordered.Pair{Key: header.JWKSetURL, Value: server.URL}), jwk.Set{})
	require.NoError(t, err)
	require.Equal(t, 2, found.Len())

	found, err = finder.FindKeys(context.Background(), h(
		ordered.Pair{Key: header.JWKSetURL, Value: server.URL},
		ordered.Pair{Key: header.KeyID, Value: "a"},
	), jwk.Set{})
	require.NoError(t, err)
	require.Equal(t, 1, found.Len())
	require.True(t, found.Keys()[0].Equal(a))

	_, err = finder.FindKeys(context.Background(), h(ordered.Pair{Key: header.JWKSetURL, Value: "https://attacker.example/keys"}), jwk.Set{})
	require.ErrorIs(t, err, joseerr.ErrInvalidInput)

	found, err = finder.FindKeys(context.Background(), h(), jwk.Set{})
	require.NoError(t, err)
	require.Zero(t, found.Len())
}

func TestChain(t *testing.T) {
	a, b := ecKey(t, "a"), ecKey(t, "b")
	keys := jwk.NewSet(a, b)

	found, err := Default().FindKeys(context.Background(), h(ordered.Pair{Key: header.KeyID, Value: "a"}), keys)
	require.NoError(t, err)
	require.Equal(t, 1, found.Len())

	found, err = Default().FindKeys(context.Background(), h(), keys)
	require.NoError(t, err)
	require.Equal(t, 2, found.Len())

	found, err = Chain().FindKeys(context.Background(), h(), keys)
	require.NoError(t, err)
	require.Zero(t, found.Len())

	_, err = Chain(ByEmbeddedJWK(), All()).FindKeys(context.Background(), h(ordered.Pair{Key: header.JSONWebKey, Value: 42}), keys)
	require.Error(t, err)
}
