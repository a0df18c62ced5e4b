package jwa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"

	"github.com/picatz/josekit/pkg/jwk"
	"github.com/picatz/josekit/pkg/keyutil"
)

var ErrDecryption = errors.New("jwa: decryption failed")

// DirectAlgorithm implements "dir": the shared symmetric key is the
// content encryption key.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-4.5
type DirectAlgorithm struct{}

// NewDirect returns the "dir" algorithm.
func NewDirect() *DirectAlgorithm {
	return &DirectAlgorithm{}
}

func (a *DirectAlgorithm) Name() Algorithm    { return Direct }
func (a *DirectAlgorithm) KeyTypes() []string { return []string{jwk.KeyTypeOct} }
func (a *DirectAlgorithm) Direct() bool       { return true }

// WrapKey returns an empty encrypted key; cek must be the key itself.
func (a *DirectAlgorithm) WrapKey(key jwk.JWK, cek []byte) ([]byte, error) {
	secret, err := a.UnwrapKey(key, nil)
	if err != nil {
		return nil, err
	}
	if !keyutil.SymmetricKeysEqual(secret, cek) {
		return nil, fmt.Errorf("%w: direct encryption uses the shared key as content encryption key", ErrInvalidKey)
	}
	return []byte{}, nil
}

func (a *DirectAlgorithm) UnwrapKey(key jwk.JWK, encryptedKey []byte) ([]byte, error) {
	if err := checkKeyType(a, key); err != nil {
		return nil, err
	}
	if len(encryptedKey) != 0 {
		return nil, fmt.Errorf("%w: direct encryption must not have an encrypted key", ErrDecryption)
	}
	return key.SymmetricKey()
}

// RSAOAEPAlgorithm implements RSA-OAEP (SHA-1) and RSA-OAEP-256.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-4.3
type RSAOAEPAlgorithm struct {
	name Algorithm
	hash func() hash.Hash
}

// NewRSAOAEP returns the RSAES-OAEP algorithm with the given name.
func NewRSAOAEP(name Algorithm) *RSAOAEPAlgorithm {
	h := sha1.New
	if name == RSAOAEP256 {
		h = sha256.New
	}
	return &RSAOAEPAlgorithm{name: name, hash: h}
}

func (a *RSAOAEPAlgorithm) Name() Algorithm    { return a.name }
func (a *RSAOAEPAlgorithm) KeyTypes() []string { return []string{jwk.KeyTypeRSA} }
func (a *RSAOAEPAlgorithm) Direct() bool       { return false }

func (a *RSAOAEPAlgorithm) WrapKey(key jwk.JWK, cek []byte) ([]byte, error) {
	if err := checkKeyType(a, key); err != nil {
		return nil, err
	}
	pub, err := rsaPublicKey(key)
	if err != nil {
		return nil, err
	}
	return rsa.EncryptOAEP(a.hash(), rand.Reader, pub, cek, nil)
}

func (a *RSAOAEPAlgorithm) UnwrapKey(key jwk.JWK, encryptedKey []byte) ([]byte, error) {
	if err := checkKeyType(a, key); err != nil {
		return nil, err
	}
	priv, err := rsaPrivateKey(key)
	if err != nil {
		return nil, err
	}
	cek, err := rsa.DecryptOAEP(a.hash(), rand.Reader, priv, encryptedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	return cek, nil
}

// AESKeyWrapAlgorithm implements A128KW, A192KW and A256KW.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-4.4
type AESKeyWrapAlgorithm struct {
	name    Algorithm
	keySize int
}

// NewAESKeyWrap returns the AES Key Wrap algorithm with the given name.
func NewAESKeyWrap(name Algorithm) *AESKeyWrapAlgorithm {
	size := map[Algorithm]int{A128KW: 16, A192KW: 24, A256KW: 32}[name]
	return &AESKeyWrapAlgorithm{name: name, keySize: size}
}

func (a *AESKeyWrapAlgorithm) Name() Algorithm    { return a.name }
func (a *AESKeyWrapAlgorithm) KeyTypes() []string { return []string{jwk.KeyTypeOct} }
func (a *AESKeyWrapAlgorithm) Direct() bool       { return false }

func (a *AESKeyWrapAlgorithm) block(key jwk.JWK) (cipher.Block, error) {
	if err := checkKeyType(a, key); err != nil {
		return nil, err
	}
	kek, err := key.SymmetricKey()
	if err != nil {
		return nil, err
	}
	if len(kek) != a.keySize {
		return nil, fmt.Errorf("%w: %s requires a %d byte key, got %d", ErrInvalidKey, a.name, a.keySize, len(kek))
	}
	return aes.NewCipher(kek)
}

func (a *AESKeyWrapAlgorithm) WrapKey(key jwk.JWK, cek []byte) ([]byte, error) {
	block, err := a.block(key)
	if err != nil {
		return nil, err
	}
	return keyWrap(block, cek)
}

func (a *AESKeyWrapAlgorithm) UnwrapKey(key jwk.JWK, encryptedKey []byte) ([]byte, error) {
	block, err := a.block(key)
	if err != nil {
		return nil, err
	}
	return keyUnwrap(block, encryptedKey)
}

// keyWrapIV is the default initial value of RFC 3394 section 2.2.3.1.
var keyWrapIV = []byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// keyWrap implements the RFC 3394 key wrap algorithm.
func keyWrap(block cipher.Block, cek []byte) ([]byte, error) {
	if len(cek)%8 != 0 || len(cek) < 16 {
		return nil, fmt.Errorf("%w: key to wrap must be a multiple of 8 bytes and at least 16 bytes", ErrInvalidKey)
	}

	n := len(cek) / 8
	r := make([][]byte, n)
	for i := range r {
		r[i] = append([]byte{}, cek[i*8:(i+1)*8]...)
	}

	buf := make([]byte, 16)
	copy(buf, keyWrapIV)

	for j := 0; j < 6; j++ {
		for i := 0; i < n; i++ {
			copy(buf[8:], r[i])
			block.Encrypt(buf, buf)

			t := uint64(n*j + i + 1)
			a := binary.BigEndian.Uint64(buf[:8]) ^ t
			binary.BigEndian.PutUint64(buf[:8], a)

			copy(r[i], buf[8:])
		}
	}

	out := make([]byte, 0, (n+1)*8)
	out = append(out, buf[:8]...)
	for _, b := range r {
		out = append(out, b...)
	}
	return out, nil
}

// keyUnwrap implements the RFC 3394 key unwrap algorithm.
func keyUnwrap(block cipher.Block, wrapped []byte) ([]byte, error) {
	if len(wrapped)%8 != 0 || len(wrapped) < 24 {
		return nil, fmt.Errorf("%w: invalid wrapped key length %d", ErrDecryption, len(wrapped))
	}

	n := len(wrapped)/8 - 1
	r := make([][]byte, n)
	for i := range r {
		r[i] = append([]byte{}, wrapped[(i+1)*8:(i+2)*8]...)
	}

	buf := make([]byte, 16)
	copy(buf, wrapped[:8])

	for j := 5; j >= 0; j-- {
		for i := n - 1; i >= 0; i-- {
			t := uint64(n*j + i + 1)
			a := binary.BigEndian.Uint64(buf[:8]) ^ t
			binary.BigEndian.PutUint64(buf[:8], a)

			copy(buf[8:], r[i])
			block.Decrypt(buf, buf)

			copy(r[i], buf[8:])
		}
	}

	if subtle.ConstantTimeCompare(buf[:8], keyWrapIV) != 1 {
		return nil, fmt.Errorf("%w: key unwrap integrity check failed", ErrDecryption)
	}

	out := make([]byte, 0, n*8)
	for _, b := range r {
		out = append(out, b...)
	}
	return out, nil
}

// AESGCMAlgorithm implements A128GCM, A192GCM and A256GCM.
//
// https://datatracker.ietf.org/doc/html/rfc7518#section-5.3
type AESGCMAlgorithm struct {
	name    Algorithm
	keySize int
}

// NewAESGCM returns the AES GCM algorithm with the given name.
func NewAESGCM(name Algorithm) *AESGCMAlgorithm {
	size := map[Algorithm]int{A128GCM: 16, A192GCM: 24, A256GCM: 32}[name]
	return &AESGCMAlgorithm{name: name, keySize: size}
}

func (a *AESGCMAlgorithm) Name() Algorithm { return a.name }
func (a *AESGCMAlgorithm) KeySize() int    { return a.keySize }

// IVSize is 96 bits.
func (a *AESGCMAlgorithm) IVSize() int { return 12 }

const gcmTagSize = 16

func (a *AESGCMAlgorithm) aead(cek []byte) (cipher.AEAD, error) {
	if len(cek) != a.keySize {
		return nil, fmt.Errorf("%w: %s requires a %d byte key, got %d", ErrInvalidKey, a.name, a.keySize, len(cek))
	}
	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (a *AESGCMAlgorithm) Encrypt(cek, iv, plaintext, aad []byte) ([]byte, []byte, error) {
	aead, err := a.aead(cek)
	if err != nil {
		return nil, nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, nil, fmt.Errorf("invalid IV length %d", len(iv))
	}
	sealed := aead.Seal(nil, iv, plaintext, aad)
	split := len(sealed) - gcmTagSize
	return sealed[:split], sealed[split:], nil
}

func (a *AESGCMAlgorithm) Decrypt(cek, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	aead, err := a.aead(cek)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: invalid IV length %d", ErrDecryption, len(iv))
	}
	if len(tag) != gcmTagSize {
		return nil, fmt.Errorf("%w: invalid authentication tag length %d", ErrDecryption, len(tag))
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	return plaintext, nil
}

var (
	_ SignatureAlgorithm         = (*HMAC)(nil)
	_ SignatureAlgorithm         = (*RSAPKCS1)(nil)
	_ SignatureAlgorithm         = (*RSAPSS)(nil)
	_ SignatureAlgorithm         = (*ECDSA)(nil)
	_ SignatureAlgorithm         = (*EdDSAAlgorithm)(nil)
	_ SignatureAlgorithm         = (*NoneAlgorithm)(nil)
	_ KeyManagementAlgorithm     = (*DirectAlgorithm)(nil)
	_ KeyManagementAlgorithm     = (*RSAOAEPAlgorithm)(nil)
	_ KeyManagementAlgorithm     = (*AESKeyWrapAlgorithm)(nil)
	_ ContentEncryptionAlgorithm = (*AESGCMAlgorithm)(nil)
)
