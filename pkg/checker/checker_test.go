package checker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/picatz/josekit/pkg/header"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/jwa"
	"github.com/picatz/josekit/pkg/ordered"
	"github.com/stretchr/testify/require"
)

func params(pairs ...any) header.Parameters {
	var ps []ordered.Pair
	for i := 0; i < len(pairs); i += 2 {
		ps = append(ps, ordered.Pair{Key: pairs[i].(string), Value: pairs[i+1]})
	}
	return header.New(ps...)
}

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := New(opts...)
	require.NoError(t, err)
	return m
}

func TestAlgorithm(t *testing.T) {
	t.Run("any but none by default", func(t *testing.T) {
		m := newManager(t)
		require.NoError(t, m.CheckHeader(params(), params(header.Algorithm, jwa.HS256)))

		err := m.CheckHeader(params(), params(header.Algorithm, jwa.None))
		require.ErrorIs(t, err, joseerr.ErrCheckFailed)
		require.Contains(t, err.Error(), `requested algorithm "none" is not allowed`)
	})

	t.Run("missing", func(t *testing.T) {
		err := newManager(t).CheckHeader(params(), params())
		require.ErrorIs(t, err, joseerr.ErrCheckFailed)
	})

	t.Run("allowed list", func(t *testing.T) {
		m := newManager(t, WithAllowedAlgorithms(jwa.ES256))
		require.NoError(t, m.CheckHeader(params(), params(header.Algorithm, jwa.ES256)))
		require.ErrorIs(t, m.CheckHeader(params(), params(header.Algorithm, jwa.HS256)), joseerr.ErrCheckFailed)
	})

	t.Run("none must be allowed twice", func(t *testing.T) {
		h := params(header.Algorithm, jwa.None)

		m := newManager(t, WithAllowedAlgorithms(jwa.None))
		require.Error(t, m.CheckHeader(h, h))

		m = newManager(t, WithAllowInsecureNoneAlgorithm(true), WithAllowedAlgorithms(jwa.RS256))
		require.Error(t, m.CheckHeader(h, h))

		m = newManager(t, WithAllowInsecureNoneAlgorithm(true), WithAllowedAlgorithms(jwa.None))
		require.NoError(t, m.CheckHeader(h, h))
	})
}

// https://datatracker.ietf.org/doc/html/rfc7515#section-4.1.11
func TestCriticalHeaderValidation(t *testing.T) {
	m := newManager(t, WithSupportedCriticalHeaders("custom-ext", "another-ext"))

	tests := []struct {
		name      string
		protected header.Parameters
		complete  header.Parameters
		err       string
	}{
		{
			name:      "no critical header",
			protected: params(header.Algorithm, jwa.HS256),
		},
		{
			name:      "valid critical header",
			protected: params(header.Algorithm, jwa.HS256, header.Critical, []any{"custom-ext", "another-ext"}, "custom-ext", "some-value", "another-ext", "another-value"),
		},
		{
			name:      "extension in unprotected header",
			protected: params(header.Algorithm, jwa.HS256, header.Critical, []any{"custom-ext"}),
			complete:  params(header.Algorithm, jwa.HS256, header.Critical, []any{"custom-ext"}, "custom-ext", 1),
		},
		{
			name:      "unsupported critical header",
			protected: params(header.Algorithm, jwa.HS256, header.Critical, []any{"unsupported-ext"}, "unsupported-ext", "some-value"),
			err:       `unsupported critical header parameter: "unsupported-ext"`,
		},
		{
			name:      "critical header not present",
			protected: params(header.Algorithm, jwa.HS256, header.Critical, []any{"custom-ext"}),
			err:       `critical header parameter "custom-ext" is missing from header`,
		},
		{
			name:      "empty critical header array",
			protected: params(header.Algorithm, jwa.HS256, header.Critical, []any{}),
			err:       `critical header parameter "crit" must not be empty`,
		},
		{
			name:      "critical header wrong type",
			protected: params(header.Algorithm, jwa.HS256, header.Critical, "custom-ext"),
			err:       `critical header parameter "crit" must be an array`,
		},
		{
			name:      "critical header non-string elements",
			protected: params(header.Algorithm, jwa.HS256, header.Critical, []any{"custom-ext", json.Number("1")}),
			err:       "critical header parameter names must be strings",
		},
		{
			name:      "standard header in critical list",
			protected: params(header.Algorithm, jwa.HS256, header.Critical, []any{header.Algorithm}),
			err:       `critical header parameter "alg" is a standard header and cannot be marked as critical`,
		},
		{
			name:      "critical header not protected",
			protected: params(header.Algorithm, jwa.HS256),
			complete:  params(header.Algorithm, jwa.HS256, header.Critical, []any{"custom-ext"}, "custom-ext", 1),
			err:       `critical header parameter "crit" must be integrity protected`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			complete := test.complete
			if complete.Len() == 0 {
				complete = test.protected
			}

			err := m.CheckHeader(test.protected, complete)
			if test.err == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, joseerr.ErrCheckFailed)
			require.Contains(t, err.Error(), test.err)
		})
	}

	for _, std := range standardHeaders {
		t.Run("supported standard "+std, func(t *testing.T) {
			_, err := New(WithSupportedCriticalHeaders(std))
			require.Error(t, err)
		})
	}
}

func TestClaims(t *testing.T) {
	now := time.Unix(1300819380, 0)
	clock := func() time.Time { return now }

	m := newManager(t,
		WithClock(clock),
		WithAllowedIssuers("joe"),
		WithAllowedAudiences("api"),
	)

	tests := []struct {
		name    string
		payload any
		param   string
	}{
		{
			name:    "raw bytes without claims",
			payload: []byte("not json"),
		},
		{
			name:    "json array",
			payload: []byte(`[1,2]`),
		},
		{
			name:    "valid bytes",
			payload: []byte(`{"iss":"joe","aud":"api","exp":1300819381,"nbf":1300819380,"iat":1300819380}`),
		},
		{
			name:    "valid ordered map",
			payload: ordered.NewMap(ordered.Pair{Key: Issuer, Value: "joe"}, ordered.Pair{Key: Audience, Value: []any{"other", "api"}}),
		},
		{
			name:    "expired",
			payload: []byte(`{"iss":"joe","aud":"api","exp":1300819380}`),
			param:   ExpirationTime,
		},
		{
			name:    "not yet valid",
			payload: []byte(`{"iss":"joe","aud":"api","nbf":1300819381}`),
			param:   NotBefore,
		},
		{
			name:    "issued in the future",
			payload: []byte(`{"iss":"joe","aud":"api","iat":1300819390.5}`),
			param:   IssuedAt,
		},
		{
			name:    "invalid exp",
			payload: []byte(`{"iss":"joe","aud":"api","exp":"tomorrow"}`),
			param:   ExpirationTime,
		},
		{
			name:    "wrong issuer",
			payload: []byte(`{"iss":"mallory","aud":"api"}`),
			param:   Issuer,
		},
		{
			name:    "missing issuer",
			payload: []byte(`{"aud":"api"}`),
			param:   Issuer,
		},
		{
			name:    "wrong audience",
			payload: []byte(`{"iss":"joe","aud":["web"]}`),
			param:   Audience,
		},
		{
			name:    "invalid audience",
			payload: []byte(`{"iss":"joe","aud":[1]}`),
			param:   Audience,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := m.CheckClaims(test.payload)
			if test.param == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, joseerr.ErrCheckFailed)

			var jerr *joseerr.Error
			require.ErrorAs(t, err, &jerr)
			require.Equal(t, test.param, jerr.Param)
		})
	}
}

func TestClockSkew(t *testing.T) {
	now := time.Unix(1000, 0)

	m := newManager(t, WithClock(func() time.Time { return now }), WithClockSkew(30*time.Second))
	require.NoError(t, m.CheckClaims([]byte(`{"exp":990}`)))
	require.NoError(t, m.CheckClaims([]byte(`{"nbf":1020}`)))
	require.Error(t, m.CheckClaims([]byte(`{"exp":960}`)))
	require.Error(t, m.CheckClaims([]byte(`{"nbf":1040}`)))

	_, err := New(WithClockSkew(-time.Second))
	require.Error(t, err)

	_, err = New(WithClock(nil))
	require.Error(t, err)
}

func TestRequiredClaims(t *testing.T) {
	m := newManager(t, WithRequiredClaims(Subject, ExpirationTime), WithClock(func() time.Time { return time.Unix(0, 0) }))

	require.NoError(t, m.CheckClaims([]byte(`{"sub":"a","exp":10}`)))
	require.ErrorIs(t, m.CheckClaims([]byte(`{"sub":"a"}`)), joseerr.ErrCheckFailed)
	require.ErrorIs(t, m.CheckClaims([]byte("opaque")), joseerr.ErrCheckFailed)
	require.Equal(t, []string{Subject, ExpirationTime}, m.Config().RequiredClaims)
}
