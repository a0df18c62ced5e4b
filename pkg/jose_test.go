package jose_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/picatz/josekit/pkg/header"
	"github.com/picatz/josekit/pkg/jwa"
	"github.com/picatz/josekit/pkg/jwe"
	"github.com/picatz/josekit/pkg/jwk"
	"github.com/picatz/josekit/pkg/jws"
	"github.com/picatz/josekit/pkg/loader"
	"github.com/picatz/josekit/pkg/ordered"
	"github.com/picatz/josekit/pkg/serialization"
	"github.com/stretchr/testify/require"
)

func Example_loader() {
	key, err := jwk.FromSymmetricKey([]byte("supersecret-that-is-long-enough-for-hs256"), ordered.NewMap(ordered.Pair{Key: jwk.KeyID, Value: "example"}))
	if err != nil {
		panic(err)
	}

	sig, err := jws.Sign(
		jwa.DefaultRegistry(),
		header.New(ordered.Pair{Key: header.Algorithm, Value: jwa.HS256}),
		header.New(ordered.Pair{Key: header.KeyID, Value: "example"}),
		[]byte(`{"sub":"1234567890"}`),
		key,
	)
	if err != nil {
		panic(err)
	}
	input, err := serialization.SerializeJWS([]*jws.JWS{sig}, serialization.Flattened)
	if err != nil {
		panic(err)
	}

	l, err := loader.NewDefault()
	if err != nil {
		panic(err)
	}
	loaded, err := l.Load(input)
	if err != nil {
		panic(err)
	}

	index, err := l.Verify(context.Background(), loaded.(*jws.JWS), jwk.NewSet(key))
	if err != nil {
		panic(err)
	}

	fmt.Println(index, string(loaded.(*jws.JWS).RawPayload()))
	// Output: 0 {"sub":"1234567890"}
}

func TestEnvelopesInEverySerialization(t *testing.T) {
	l, err := loader.NewDefault()
	require.NoError(t, err)

	keys := make([]jwk.JWK, 0, 2)
	for _, kid := range []string{"1", "2"} {
		key, err := jwk.FromSymmetricKey(bytes.Repeat([]byte(kid), 16), ordered.NewMap(ordered.Pair{Key: jwk.KeyID, Value: kid}))
		require.NoError(t, err)
		keys = append(keys, key)
	}

	registry := jwa.DefaultRegistry()
	payload := []byte("Live long and prosper.")

	recipient := func(key jwk.JWK) jwe.Recipient {
		return jwe.Recipient{
			Header: header.New(
				ordered.Pair{Key: header.Algorithm, Value: jwa.A128KW},
				ordered.Pair{Key: header.KeyID, Value: key.KeyID()},
			),
			Key: key,
		}
	}

	tests := []struct {
		mode    serialization.Mode
		entries int
	}{
		{mode: serialization.Compact, entries: 1},
		{mode: serialization.Flattened, entries: 1},
		{mode: serialization.General, entries: 1},
		{mode: serialization.General, entries: 2},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.mode, tt.entries), func(t *testing.T) {
			opts := jwe.EncryptOptions{
				Protected: header.New(ordered.Pair{Key: header.Encryption, Value: jwa.A128GCM}),
			}
			recipients := []jwe.Recipient{recipient(keys[0])}
			if tt.entries == 2 {
				recipients = append(recipients, recipient(keys[1]))
			}
			if tt.mode == serialization.Compact {
				// Compact JWE carries a single protected header.
				opts.Protected = header.New(
					ordered.Pair{Key: header.Algorithm, Value: jwa.A128KW},
					ordered.Pair{Key: header.Encryption, Value: jwa.A128GCM},
				)
				recipients = []jwe.Recipient{{Key: keys[0]}}
			}

			recs, err := jwe.Encrypt(registry, payload, opts, recipients...)
			require.NoError(t, err)
			input, err := serialization.SerializeJWE(recs, tt.mode)
			require.NoError(t, err)

			loaded, err := l.LoadAll(input)
			require.NoError(t, err)
			require.Equal(t, serialization.KindJWE, loaded.Kind)
			require.Equal(t, tt.mode, loaded.Mode)
			require.Equal(t, tt.entries, loaded.Len())

			opened, recIndex, keyIndex, err := l.DecryptAny(context.Background(), loaded.Recipients, jwk.NewSet(keys[tt.entries-1]))
			require.NoError(t, err)
			require.Equal(t, tt.entries-1, recIndex)
			require.Equal(t, 0, keyIndex)
			require.Equal(t, payload, opened.Payload())

			again, err := serialization.SerializeJWE(loaded.Recipients, tt.mode)
			require.NoError(t, err)
			require.Equal(t, input, again)
		})
	}
}
