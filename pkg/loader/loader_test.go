package loader

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/picatz/josekit/pkg/checker"
	"github.com/picatz/josekit/pkg/compression"
	"github.com/picatz/josekit/pkg/finder"
	"github.com/picatz/josekit/pkg/header"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/jwa"
	"github.com/picatz/josekit/pkg/jwe"
	"github.com/picatz/josekit/pkg/jwk"
	"github.com/picatz/josekit/pkg/jws"
	"github.com/picatz/josekit/pkg/ordered"
	"github.com/picatz/josekit/pkg/payload"
	"github.com/picatz/josekit/pkg/serialization"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	oneSignature = `{"payload":"eyJpc3MiOiJqb2UifQ","signatures":[` +
		`{"protected":"eyJhbGciOiJIUzI1NiJ9","signature":"c2lnMQ"}]}`

	twoSignatures = `{"payload":"eyJpc3MiOiJqb2UifQ","signatures":[` +
		`{"protected":"eyJhbGciOiJIUzI1NiJ9","header":{"kid":"a"},"signature":"c2lnMQ"},` +
		`{"header":{"alg":"ES256"},"signature":"c2lnMg"}]}`

	twoRecipients = `{"protected":"eyJlbmMiOiJBMTI4R0NNIn0","recipients":[` +
		`{"header":{"alg":"A128KW","kid":"1"},"encrypted_key":"ZWsx"},` +
		`{"header":{"alg":"A128KW","kid":"2"},"encrypted_key":"ZWsy"}],` +
		`"aad":"YWFk","iv":"aXY","ciphertext":"Y3Q","tag":"dGFn"}`
)

func newLoader(t *testing.T, opts ...Option) *Loader {
	t.Helper()
	l, err := NewDefault(opts...)
	require.NoError(t, err)
	return l
}

func hmacKey(t *testing.T, kid string) jwk.JWK {
	t.Helper()
	key, err := jwk.FromSymmetricKey([]byte("secret-for-"+kid+"-that-is-long-enough-for-hs256"), ordered.NewMap(ordered.Pair{Key: jwk.KeyID, Value: kid}))
	require.NoError(t, err)
	return key
}

func aesKey(t *testing.T, kid string, fill byte) jwk.JWK {
	t.Helper()
	secret := make([]byte, 16)
	for i := range secret {
		secret[i] = fill
	}
	key, err := jwk.FromSymmetricKey(secret, ordered.NewMap(ordered.Pair{Key: jwk.KeyID, Value: kid}))
	require.NoError(t, err)
	return key
}

func TestNew(t *testing.T) {
	checks, err := checker.New()
	require.NoError(t, err)

	_, err = New(nil, finder.Default(), payload.DefaultManager(), compression.DefaultManager(), checks)
	require.Error(t, err)

	_, err = New(jwa.DefaultRegistry(), nil, payload.DefaultManager(), compression.DefaultManager(), checks)
	require.Error(t, err)

	_, err = New(jwa.DefaultRegistry(), finder.Default(), nil, compression.DefaultManager(), checks)
	require.Error(t, err)

	_, err = New(jwa.DefaultRegistry(), finder.Default(), payload.DefaultManager(), nil, checks)
	require.Error(t, err)

	l, err := New(jwa.DefaultRegistry(), finder.Default(), payload.DefaultManager(), compression.DefaultManager(), nil)
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestLoadCardinality(t *testing.T) {
	l := newLoader(t)

	t.Run("one signature", func(t *testing.T) {
		value, err := l.Load(oneSignature)
		require.NoError(t, err)
		sig, ok := value.(*jws.JWS)
		require.True(t, ok, "expected a single entry, got %T", value)
		require.Equal(t, []byte(`{"iss":"joe"}`), sig.RawPayload())
	})

	t.Run("two signatures", func(t *testing.T) {
		value, err := l.Load(twoSignatures)
		require.NoError(t, err)
		sigs, ok := value.([]*jws.JWS)
		require.True(t, ok, "expected a sequence, got %T", value)
		require.Len(t, sigs, 2)
		require.Equal(t, sigs[0].RawPayload(), sigs[1].RawPayload())
		require.NotEqual(t, sigs[0].Signature(), sigs[1].Signature())
	})

	t.Run("two recipients", func(t *testing.T) {
		value, err := l.Load(twoRecipients)
		require.NoError(t, err)
		recs, ok := value.([]*jwe.JWE)
		require.True(t, ok, "expected a sequence, got %T", value)
		require.Len(t, recs, 2)
		require.True(t, recs[0].SharesContent(recs[1]))
		require.Equal(t, []byte("ek1"), recs[0].EncryptedKey())
		require.Equal(t, []byte("ek2"), recs[1].EncryptedKey())
	})

	t.Run("compact JWE", func(t *testing.T) {
		value, err := l.Load("eyJhbGciOiJBMTI4S1ciLCJlbmMiOiJBMTI4R0NNIn0.ZWsx.aXY.Y3Q.dGFn")
		require.NoError(t, err)
		_, ok := value.(*jwe.JWE)
		require.True(t, ok, "expected a single entry, got %T", value)
	})

	t.Run("always a sequence", func(t *testing.T) {
		loaded, err := l.LoadAll(oneSignature)
		require.NoError(t, err)
		require.Equal(t, serialization.KindJWS, loaded.Kind)
		require.Equal(t, serialization.General, loaded.Mode)
		require.Equal(t, 1, loaded.Len())
		require.Len(t, loaded.Signatures, 1)
		require.Empty(t, loaded.Recipients)
	})
}

func TestLoadErrors(t *testing.T) {
	l := newLoader(t)

	tests := []struct {
		name  string
		input string
		is    []error
	}{
		{
			name:  "JSON object that is not an envelope",
			input: `{"foo":"bar"}`,
			is:    []error{joseerr.ErrInvalidInput, joseerr.ErrUnrecognizedEnvelope},
		},
		{
			name:  "JSON array",
			input: `["signatures"]`,
			is:    []error{joseerr.ErrInvalidInput},
		},
		{
			name:  "garbage",
			input: "not a token",
			is:    []error{joseerr.ErrInvalidInput},
		},
		{
			name:  "missing signature",
			input: `{"payload":"e30","signatures":[{"protected":"eyJhbGciOiJIUzI1NiJ9"}]}`,
			is:    []error{joseerr.ErrMissingMandatoryParameter},
		},
		{
			name:  "missing ciphertext",
			input: `{"recipients":[{"encrypted_key":"ZWsx"}]}`,
			is:    []error{joseerr.ErrMissingMandatoryParameter},
		},
		{
			name:  "malformed compact JWS",
			input: "!!.e30.c2ln",
			is:    []error{joseerr.ErrMalformedEncoding},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := l.Load(tt.input)
			require.Nil(t, value)
			for _, target := range tt.is {
				require.ErrorIs(t, err, target)
			}
		})
	}

	_, err := l.Load(`{"foo":"bar"}`)
	require.Contains(t, err.Error(), "Unable to load the input")
}

func TestVerify(t *testing.T) {
	registry := jwa.DefaultRegistry()
	ctx := context.Background()

	signing := hmacKey(t, "signing")
	other := hmacKey(t, "other")

	sign := func(t *testing.T, claims string, key jwk.JWK) *jws.JWS {
		t.Helper()
		protected := header.New(
			ordered.Pair{Key: header.Algorithm, Value: jwa.HS256},
			ordered.Pair{Key: header.KeyID, Value: key.KeyID()},
		)
		sig, err := jws.Sign(registry, protected, header.Parameters{}, []byte(claims), key)
		require.NoError(t, err)
		out, err := serialization.SerializeJWS([]*jws.JWS{sig}, serialization.Compact)
		require.NoError(t, err)

		value, err := newLoader(t).Load(out)
		require.NoError(t, err)
		return value.(*jws.JWS)
	}

	t.Run("key selected by kid", func(t *testing.T) {
		l := newLoader(t)
		index, err := l.Verify(ctx, sign(t, `{"iss":"joe"}`, signing), jwk.NewSet(other, signing))
		require.NoError(t, err)
		require.Equal(t, 1, index)
	})

	t.Run("no key verifies", func(t *testing.T) {
		l := newLoader(t)
		_, err := l.Verify(ctx, sign(t, `{"iss":"joe"}`, signing), jwk.NewSet(other))
		require.ErrorIs(t, err, joseerr.ErrVerificationFailed)
	})

	t.Run("no candidate key", func(t *testing.T) {
		l := newLoader(t)
		_, err := l.Verify(ctx, sign(t, `{"iss":"joe"}`, signing), jwk.NewSet())
		require.ErrorIs(t, err, joseerr.ErrVerificationFailed)
	})

	t.Run("algorithm not allowed", func(t *testing.T) {
		checks, err := checker.New(checker.WithAllowedAlgorithms(jwa.ES256))
		require.NoError(t, err)
		l, err := New(registry, finder.Default(), payload.DefaultManager(), compression.DefaultManager(), checks)
		require.NoError(t, err)

		_, err = l.Verify(ctx, sign(t, `{"iss":"joe"}`, signing), jwk.NewSet(signing))
		require.ErrorIs(t, err, joseerr.ErrCheckFailed)
	})

	t.Run("expired claims", func(t *testing.T) {
		l := newLoader(t)
		_, err := l.Verify(ctx, sign(t, `{"iss":"joe","exp":1300819380}`, signing), jwk.NewSet(signing))
		require.ErrorIs(t, err, joseerr.ErrCheckFailed)
	})

	t.Run("canceled context", func(t *testing.T) {
		l := newLoader(t)
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := l.Verify(canceled, sign(t, `{"iss":"joe"}`, signing), jwk.NewSet(signing))
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestVerifyMultipleSignatures(t *testing.T) {
	registry := jwa.DefaultRegistry()
	ctx := context.Background()

	a := hmacKey(t, "a")
	b := hmacKey(t, "b")

	signer := func(key jwk.JWK) jws.Signer {
		return jws.Signer{
			Protected:   header.New(ordered.Pair{Key: header.Algorithm, Value: jwa.HS256}),
			Unprotected: header.New(ordered.Pair{Key: header.KeyID, Value: key.KeyID()}),
			Key:         key,
		}
	}

	sigs, err := jws.SignAll(registry, []byte("payload"), signer(a), signer(b))
	require.NoError(t, err)
	out, err := serialization.SerializeJWS(sigs, serialization.General)
	require.NoError(t, err)

	l := newLoader(t)
	value, err := l.Load(out)
	require.NoError(t, err)
	loaded := value.([]*jws.JWS)

	indexes, err := l.VerifyAll(ctx, loaded, jwk.NewSet(a, b))
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, indexes)

	_, err = l.VerifyAll(ctx, loaded, jwk.NewSet(b))
	require.ErrorIs(t, err, joseerr.ErrVerificationFailed)
	require.Contains(t, err.Error(), "(entry 0)")

	sigIndex, keyIndex, err := l.VerifyAny(ctx, loaded, jwk.NewSet(b))
	require.NoError(t, err)
	require.Equal(t, 1, sigIndex)
	require.Equal(t, 0, keyIndex)

	_, _, err = l.VerifyAny(ctx, nil, jwk.NewSet(b))
	require.ErrorIs(t, err, joseerr.ErrInvalidInput)
}

func TestDecrypt(t *testing.T) {
	registry := jwa.DefaultRegistry()
	ctx := context.Background()

	first := aesKey(t, "1", 0x01)
	second := aesKey(t, "2", 0x02)

	recipient := func(key jwk.JWK) jwe.Recipient {
		return jwe.Recipient{
			Header: header.New(
				ordered.Pair{Key: header.Algorithm, Value: jwa.A128KW},
				ordered.Pair{Key: header.KeyID, Value: key.KeyID()},
			),
			Key: key,
		}
	}

	opts := jwe.EncryptOptions{
		Protected: header.New(
			ordered.Pair{Key: header.Encryption, Value: jwa.A128GCM},
			ordered.Pair{Key: header.ContentType, Value: "json"},
			ordered.Pair{Key: header.Zip, Value: compression.Deflate},
		),
	}
	recs, err := jwe.Encrypt(registry, []byte(`{"sub":"alice","admin":true}`), opts, recipient(first), recipient(second))
	require.NoError(t, err)
	out, err := serialization.SerializeJWE(recs, serialization.General)
	require.NoError(t, err)

	l := newLoader(t)
	value, err := l.Load(out)
	require.NoError(t, err)
	loaded := value.([]*jwe.JWE)
	require.Nil(t, loaded[1].Payload())

	t.Run("recipient key", func(t *testing.T) {
		opened, index, err := l.Decrypt(ctx, loaded[1], jwk.NewSet(first, second))
		require.NoError(t, err)
		require.Equal(t, 1, index)

		claims, ok := opened.Payload().(ordered.Map)
		require.True(t, ok, "expected converted payload, got %T", opened.Payload())
		sub, _ := claims.Get("sub")
		require.Equal(t, "alice", sub)

		// The loaded entry is unchanged.
		require.Nil(t, loaded[1].Payload())
	})

	t.Run("any recipient", func(t *testing.T) {
		opened, recIndex, keyIndex, err := l.DecryptAny(ctx, loaded, jwk.NewSet(second))
		require.NoError(t, err)
		require.Equal(t, 1, recIndex)
		require.Equal(t, 0, keyIndex)
		require.NotNil(t, opened.Payload())
	})

	t.Run("wrong key", func(t *testing.T) {
		_, _, err := l.Decrypt(ctx, loaded[0], jwk.NewSet(second))
		require.ErrorIs(t, err, joseerr.ErrDecryptionFailed)

		_, _, _, err = l.DecryptAny(ctx, loaded, jwk.NewSet(aesKey(t, "3", 0x03)))
		require.ErrorIs(t, err, joseerr.ErrDecryptionFailed)
		require.Contains(t, err.Error(), "(entry 1)")
	})

	t.Run("unsupported content encryption", func(t *testing.T) {
		rec := jwe.New(jwe.Fields{
			ProtectedHeader: header.New(
				ordered.Pair{Key: header.Algorithm, Value: jwa.A128KW},
				ordered.Pair{Key: header.Encryption, Value: "A128CBC-HS256"},
			),
			Ciphertext: []byte("ct"),
		})
		_, _, err := l.Decrypt(ctx, rec, jwk.NewSet(first))
		require.ErrorIs(t, err, joseerr.ErrUnsupportedAlgorithm)
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	l := newLoader(t, WithMetrics(metrics))

	_, err := l.Load(twoSignatures)
	require.NoError(t, err)
	_, err = l.Load(twoRecipients)
	require.NoError(t, err)
	_, err = l.Load(`{"foo":"bar"}`)
	require.Error(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.LoadsTotal.WithLabelValues("jws", "general", ResultSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.LoadsTotal.WithLabelValues("jwe", "general", ResultSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.LoadsTotal.WithLabelValues("unknown", "unknown", ResultError)))

	key := hmacKey(t, "a")
	sig, err := jws.Sign(jwa.DefaultRegistry(), header.New(ordered.Pair{Key: header.Algorithm, Value: jwa.HS256}), header.Parameters{}, []byte("x"), key)
	require.NoError(t, err)

	_, err = l.Verify(context.Background(), sig, jwk.NewSet(key))
	require.NoError(t, err)
	_, err = l.Verify(context.Background(), sig, jwk.NewSet(hmacKey(t, "b")))
	require.Error(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.VerificationsTotal.WithLabelValues(ResultSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.VerificationsTotal.WithLabelValues(ResultError)))

	count, err := testutil.GatherAndCount(reg, "josekit_loader_load_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := newLoader(t, WithLogger(zap.New(core)))

	_, err := l.Load(twoSignatures)
	require.NoError(t, err)

	loaded := logs.FilterMessage("loaded input").All()
	require.Len(t, loaded, 1)
	fields := loaded[0].ContextMap()
	require.Equal(t, "jws", fields["kind"])
	require.Equal(t, "general", fields["mode"])
	require.Equal(t, int64(2), fields["entries"])

	_, err = l.Load("nope")
	require.Error(t, err)
	require.Equal(t, 1, logs.FilterMessage("failed to load input").FilterField(zap.Error(err)).Len())
}

func TestJWTInterop(t *testing.T) {
	secret := []byte("a-shared-secret-that-is-long-enough-for-hs256")
	key, err := jwk.FromSymmetricKey(secret, ordered.Map{})
	require.NoError(t, err)

	checks, err := checker.New(
		checker.WithAllowedAlgorithms(jwa.HS256),
		checker.WithAllowedIssuers("joe"),
		checker.WithRequiredClaims(checker.ExpirationTime),
	)
	require.NoError(t, err)
	l, err := New(jwa.DefaultRegistry(), finder.Default(), payload.DefaultManager(), compression.DefaultManager(), checks)
	require.NoError(t, err)

	t.Run("token from golang-jwt", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss": "joe",
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString(secret)
		require.NoError(t, err)

		value, err := l.Load(token)
		require.NoError(t, err)
		index, err := l.Verify(context.Background(), value.(*jws.JWS), jwk.NewSet(key))
		require.NoError(t, err)
		require.Equal(t, 0, index)
	})

	t.Run("token for golang-jwt", func(t *testing.T) {
		claims := []byte(`{"iss":"joe","exp":` + strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10) + `}`)

		protected := header.New(
			ordered.Pair{Key: header.Algorithm, Value: jwa.HS256},
			ordered.Pair{Key: header.Type, Value: "JWT"},
		)
		sig, err := jws.Sign(jwa.DefaultRegistry(), protected, header.Parameters{}, claims, key)
		require.NoError(t, err)
		token, err := serialization.SerializeJWS([]*jws.JWS{sig}, serialization.Compact)
		require.NoError(t, err)

		parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer("joe"))
		require.NoError(t, err)
		require.True(t, parsed.Valid)
	})
}
