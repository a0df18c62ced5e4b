// Package keyutil reads keys and X.509 certificates from PEM and DER
// encodings, and generates new key pairs.
package keyutil

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	ErrNoPEMBlock         = errors.New("keyutil: no PEM block found")
	ErrNoCertificate      = errors.New("keyutil: no certificate found")
	ErrUnknownKeyEncoding = errors.New("keyutil: unknown key encoding")
)

// SymmetricKeysEqual checks if the given keys are the same.
func SymmetricKeysEqual(key1 []byte, key2 []byte) bool {
	return subtle.ConstantTimeCompare(key1, key2) == 1
}

// NewSymmetricKey generates a new symmetric key of the given size.
func NewSymmetricKey(size int) ([]byte, error) {
	key := make([]byte, size)

	_, err := rand.Read(key)
	if err != nil {
		return nil, fmt.Errorf("failed to generate new symmetic key: %w", err)
	}

	return key, nil
}

func isPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN "))
}

// ParseCertificate parses a single X.509 certificate, either the first
// CERTIFICATE block of PEM encoded data or raw DER bytes.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	if !isPEM(data) {
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		return cert, nil
	}

	certs, err := ParseCertificateChain(data)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

// ParseCertificateChain parses every CERTIFICATE block of PEM encoded
// data, in order. Other block types are skipped.
func ParseCertificateChain(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PEM certificate %d: %w", len(certs), err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, ErrNoCertificate
	}
	return certs, nil
}

// ReadCertificateFile reads and parses the certificate (PEM or DER) at the
// given path.
func ReadCertificateFile(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	return ParseCertificate(data)
}

// ReadCertificateChainFile reads and parses every PEM certificate at the
// given path.
func ReadCertificateChainFile(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	if !isPEM(data) {
		cert, err := ParseCertificate(data)
		if err != nil {
			return nil, err
		}
		return []*x509.Certificate{cert}, nil
	}
	return ParseCertificateChain(data)
}

// ParsePrivateKey parses a PEM encoded PKCS #1, PKCS #8 or SEC 1 private key.
func ParsePrivateKey(data []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEMBlock
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	return nil, fmt.Errorf("failed to parse private key %q block: %w", block.Type, ErrUnknownKeyEncoding)
}

// ParsePublicKey parses a PEM encoded PKIX or PKCS #1 public key, or returns
// the public key of a PEM encoded certificate.
func ParsePublicKey(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEMBlock
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return key, nil
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		return cert.PublicKey, nil
	}

	return nil, fmt.Errorf("failed to parse public key %q block: %w", block.Type, ErrUnknownKeyEncoding)
}

// ParseKey parses PEM encoded data as a private key, falling back to a
// public key.
func ParseKey(data []byte) (any, error) {
	if key, err := ParsePrivateKey(data); err == nil {
		return key, nil
	}
	return ParsePublicKey(data)
}

// NewRSAKeyPair returns a new 2048 bit RSA key pair, or an error if one occurs.
func NewRSAKeyPair() (*rsa.PublicKey, *rsa.PrivateKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate new RSA key pair: %w", err)
	}

	return &privateKey.PublicKey, privateKey, nil
}

// NewECDSAKeyPair returns a new ECDSA key pair on the given curve
// (P-256 when nil), or an error if one occurs.
func NewECDSAKeyPair(curve elliptic.Curve) (*ecdsa.PublicKey, *ecdsa.PrivateKey, error) {
	if curve == nil {
		curve = elliptic.P256()
	}

	privateKey, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate new ECDSA key pair: %w", err)
	}

	return &privateKey.PublicKey, privateKey, nil
}

// NewEdDSAKeyPair returns a new EdDSA key pair, or an error if one occurs.
func NewEdDSAKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate new EdDSA key pair: %w", err)
	}

	return publicKey, privateKey, nil
}
