package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/picatz/josekit/pkg/header"
	"github.com/picatz/josekit/pkg/jwa"
	"github.com/picatz/josekit/pkg/jwe"
	"github.com/picatz/josekit/pkg/jwk"
	"github.com/picatz/josekit/pkg/jws"
	"github.com/picatz/josekit/pkg/ordered"
	"github.com/picatz/josekit/pkg/serialization"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const rfc7638Key = `{"kty":"RSA","n":"0vx7agoebGcQSuuPiLJXZptN9nndrQmbXEps2aiAFbWhM78LhWx4cbbfAAtVT86zwu1RK7aPFFxuhDR1L6tSoc_BJECPebWKRXjBZCiFV4n3oknjhMstn64tZ_2W-5JsGY4Hc5n9yBXArwl93lqt7_RN5w6Cf0h4QyQ5v-65YGjQR0_FDW2QvzqY368QQMicAtaSqzs8KJZgnYb9c7d0zgdAZHzu6qMQvRL5hajrn1n91CbOpbISD08qNLyrdkt-bFTWhAI4vMQFh6WeZu0fM4lFd2NcRwr3XPksINHaQ-G_xBniIqbw0Ls1jF44-csFCur-kEgU8awapJzKnqDKgw","e":"AQAB","alg":"RS256","kid":"2011-04-29"}`

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	cmd := newRootCommand()
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func writeKeys(t *testing.T, keys ...jwk.JWK) string {
	t.Helper()
	b, err := jwk.NewSet(keys...).MarshalJSON()
	require.NoError(t, err)
	return writeFile(t, "keys.json", b)
}

func hmacKey(t *testing.T, kid string) jwk.JWK {
	t.Helper()
	key, err := jwk.FromSymmetricKey([]byte("secret-for-"+kid+"-that-is-long-enough-for-hs256"), ordered.NewMap(ordered.Pair{Key: jwk.KeyID, Value: kid}))
	require.NoError(t, err)
	return key
}

func TestJWKGenerate(t *testing.T) {
	tests := []struct {
		kty  string
		args []string
	}{
		{kty: jwk.KeyTypeRSA},
		{kty: jwk.KeyTypeEC, args: []string{"--crv", "P-384"}},
		{kty: jwk.KeyTypeOKP},
		{kty: jwk.KeyTypeOct, args: []string{"--size", "16"}},
	}

	for _, tt := range tests {
		t.Run(tt.kty, func(t *testing.T) {
			out, err := run(t, "", append([]string{"jwk", "generate", "--kty", tt.kty, "--kid", "k1", "--use", "sig"}, tt.args...)...)
			require.NoError(t, err)

			key, err := jwk.Parse([]byte(out))
			require.NoError(t, err)
			require.Equal(t, tt.kty, key.KeyType())
			require.Equal(t, "k1", key.KeyID())
			require.True(t, key.IsPrivate())
			require.NoError(t, key.Validate())
		})
	}

	_, err := run(t, "", "jwk", "generate", "--kty", "DSA")
	require.Error(t, err)

	_, err = run(t, "", "jwk", "generate", "--kty", "EC", "--crv", "P-224")
	require.Error(t, err)
}

func TestJWKPublic(t *testing.T) {
	private, err := run(t, "", "jwk", "generate", "--kty", "EC", "--kid", "ec")
	require.NoError(t, err)

	out, err := run(t, private, "jwk", "public")
	require.NoError(t, err)
	require.False(t, gjson.Get(out, "d").Exists())
	require.Equal(t, "ec", gjson.Get(out, "kid").String())

	set := `{"keys":[` + strings.TrimSpace(private) + `]}`
	out, err = run(t, "", "jwk", "public", writeFile(t, "set.json", []byte(set)))
	require.NoError(t, err)
	require.Equal(t, int64(1), gjson.Get(out, "keys.#").Int())
	require.False(t, gjson.Get(out, "keys.0.d").Exists())

	_, err = run(t, `{"kid":"no type"}`, "jwk", "public")
	require.Error(t, err)
}

func TestJWKThumbprint(t *testing.T) {
	out, err := run(t, rfc7638Key, "jwk", "thumbprint")
	require.NoError(t, err)
	require.Equal(t, "NzbLsXh8uDCcd-6MNwXF4W_7noWXFZAfHkxZsRGC9Xs\n", out)

	_, err = run(t, rfc7638Key, "jwk", "thumbprint", "--hash", "md5")
	require.Error(t, err)
}

func TestJWKFromCert(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "josekit.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	require.NoError(t, err)
	path := writeFile(t, "cert.pem", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	out, err := run(t, "", "jwk", "from-cert", path, "--kid", "from-cert")
	require.NoError(t, err)

	key, err := jwk.Parse([]byte(out))
	require.NoError(t, err)
	require.Equal(t, jwk.KeyTypeEC, key.KeyType())
	require.Equal(t, "from-cert", key.KeyID())
	require.True(t, key.Has(jwk.X509SHA1Thumbprint))
	require.True(t, key.Has(jwk.X509SHA256Thumbprint))
	require.False(t, key.Has(jwk.X509CertificateChain))

	out, err = run(t, "", "jwk", "from-cert", path, "--chain")
	require.NoError(t, err)
	require.True(t, gjson.Get(out, "x5c").IsArray())

	_, err = run(t, "", "jwk", "from-cert", filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)
}

func TestJWKFromKey(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	spki, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	tests := []struct {
		name    string
		block   *pem.Block
		private bool
	}{
		{name: "private", block: &pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}, private: true},
		{name: "public", block: &pem.Block{Type: "PUBLIC KEY", Bytes: spki}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "key.pem", pem.EncodeToMemory(tt.block))
			out, err := run(t, "", "jwk", "from-key", path, "--kid", tt.name)
			require.NoError(t, err)

			key, err := jwk.Parse([]byte(out))
			require.NoError(t, err)
			require.Equal(t, jwk.KeyTypeEC, key.KeyType())
			require.Equal(t, tt.name, key.KeyID())
			require.Equal(t, tt.private, key.IsPrivate())
			require.NoError(t, key.Validate())
		})
	}

	_, err = run(t, "", "jwk", "from-key", writeFile(t, "garbage.pem", []byte("not a key")))
	require.Error(t, err)
}

func TestInspect(t *testing.T) {
	input := `{"payload":"eyJpc3MiOiJqb2UifQ","signatures":[` +
		`{"protected":"eyJhbGciOiJIUzI1NiJ9","header":{"kid":"a"},"signature":"c2lnMQ"},` +
		`{"header":{"alg":"ES256"},"signature":"c2lnMg"}]}`

	out, err := run(t, input, "inspect")
	require.NoError(t, err)
	require.Equal(t, "jws", gjson.Get(out, "kind").String())
	require.Equal(t, "general", gjson.Get(out, "serialization").String())
	require.Equal(t, int64(2), gjson.Get(out, "entries.#").Int())
	require.Equal(t, `{"iss":"joe"}`, gjson.Get(out, "entries.0.payload").String())
	require.Equal(t, `{"alg":"HS256","kid":"a"}`, gjson.Get(out, "entries.0.header").Raw)

	out, err = run(t, "eyJhbGciOiJBMTI4S1ciLCJlbmMiOiJBMTI4R0NNIn0.ZWsx.aXY.Y3Q.dGFn", "inspect")
	require.NoError(t, err)
	require.Equal(t, "jwe", gjson.Get(out, "kind").String())
	require.Equal(t, "compact", gjson.Get(out, "serialization").String())
	require.Equal(t, "ZWsx", gjson.Get(out, "entries.0.encrypted_key").String())

	_, err = run(t, `{"foo":"bar"}`, "inspect")
	require.Error(t, err)
}

func TestVerify(t *testing.T) {
	registry := jwa.DefaultRegistry()
	a := hmacKey(t, "a")
	b := hmacKey(t, "b")

	signer := func(key jwk.JWK) jws.Signer {
		return jws.Signer{
			Protected:   header.New(ordered.Pair{Key: header.Algorithm, Value: jwa.HS256}),
			Unprotected: header.New(ordered.Pair{Key: header.KeyID, Value: key.KeyID()}),
			Key:         key,
		}
	}
	sigs, err := jws.SignAll(registry, []byte(`{"iss":"joe"}`), signer(a), signer(b))
	require.NoError(t, err)
	input, err := serialization.SerializeJWS(sigs, serialization.General)
	require.NoError(t, err)

	out, err := run(t, input, "verify", "--keys", writeKeys(t, b))
	require.NoError(t, err)
	require.Equal(t, `{"iss":"joe"}`, out)

	_, err = run(t, input, "verify", "--all", "--keys", writeKeys(t, b))
	require.Error(t, err)

	out, err = run(t, input, "verify", "--all", "--keys", writeKeys(t, a), "--keys", writeKeys(t, b))
	require.NoError(t, err)
	require.Equal(t, `{"iss":"joe"}`, out)

	_, err = run(t, input, "verify", "--keys", writeKeys(t, hmacKey(t, "c")))
	require.Error(t, err)

	_, err = run(t, input, "verify")
	require.ErrorContains(t, err, "no keys")

	t.Run("configured checks", func(t *testing.T) {
		cfg := writeFile(t, "josekit.yaml", []byte("checks:\n  allowedAlgorithms: [ES256]\n"))
		_, err := run(t, input, "--config", cfg, "verify", "--keys", writeKeys(t, a, b))
		require.Error(t, err)
	})

	t.Run("configured keys", func(t *testing.T) {
		cfg := writeFile(t, "josekit.yaml", []byte("keys:\n  files: ["+writeKeys(t, a)+"]\n"))
		out, err := run(t, input, "--config", cfg, "verify")
		require.NoError(t, err)
		require.Equal(t, `{"iss":"joe"}`, out)
	})
}

func TestDecrypt(t *testing.T) {
	key, err := jwk.FromSymmetricKey(bytes.Repeat([]byte{0x07}, 16), ordered.NewMap(ordered.Pair{Key: jwk.KeyID, Value: "aes"}))
	require.NoError(t, err)

	opts := jwe.EncryptOptions{
		Protected: header.New(
			ordered.Pair{Key: header.Algorithm, Value: jwa.A128KW},
			ordered.Pair{Key: header.Encryption, Value: jwa.A128GCM},
			ordered.Pair{Key: header.Zip, Value: "DEF"},
		),
	}
	recs, err := jwe.Encrypt(jwa.DefaultRegistry(), []byte("attack at dawn"), opts, jwe.Recipient{Key: key})
	require.NoError(t, err)
	input, err := serialization.SerializeJWE(recs, serialization.Compact)
	require.NoError(t, err)

	out, err := run(t, input, "decrypt", "--keys", writeKeys(t, key))
	require.NoError(t, err)
	require.Equal(t, "attack at dawn", out)

	other, err := jwk.FromSymmetricKey(bytes.Repeat([]byte{0x08}, 16), ordered.Map{})
	require.NoError(t, err)
	_, err = run(t, input, "decrypt", "--keys", writeKeys(t, other))
	require.Error(t, err)

	// A JWS is not decrypted.
	_, err = run(t, "eyJhbGciOiJIUzI1NiJ9.e30.c2ln", "decrypt", "--keys", writeKeys(t, key))
	require.ErrorContains(t, err, "not a JWE")
}
