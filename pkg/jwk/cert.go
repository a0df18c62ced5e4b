package jwk

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	stdbase64 "encoding/base64"
	"errors"
	"fmt"

	"github.com/picatz/josekit/pkg/base64"
	"github.com/picatz/josekit/pkg/joseerr"
	"github.com/picatz/josekit/pkg/keyutil"
	"github.com/picatz/josekit/pkg/ordered"
)

// FromCertificate returns the public key of an X.509 certificate as a JWK,
// with its SHA-1 ("x5t") and SHA-256 ("x5t#256") thumbprints. Extra
// parameters follow, replacing derived ones in place.
//
// Only RSA, ECDSA and Ed25519 certificates are supported.
func FromCertificate(cert *x509.Certificate, extra ordered.Map) (JWK, error) {
	if cert == nil {
		return JWK{}, joseerr.New(joseerr.CertificateRead, "no certificate", nil)
	}

	params, err := publicParams(cert.PublicKey)
	if err != nil {
		return JWK{}, err
	}

	sha1Sum := sha1.Sum(cert.Raw)
	sha256Sum := sha256.Sum256(cert.Raw)

	params = params.
		With(X509SHA1Thumbprint, base64.Encode(sha1Sum[:])).
		With(X509SHA256Thumbprint, base64.Encode(sha256Sum[:]))

	return New(params.Merge(extra))
}

// FromCertificateFile reads a PEM or DER certificate file and returns its
// key, see FromCertificate.
func FromCertificateFile(path string, extra ordered.Map) (JWK, error) {
	cert, err := keyutil.ReadCertificateFile(path)
	if err != nil {
		return JWK{}, joseerr.New(joseerr.CertificateRead, fmt.Sprintf("unable to load the certificate %q", path), err)
	}
	return FromCertificate(cert, extra)
}

// FromCertificateChain returns the key of the first (leaf) certificate,
// with the whole chain in the "x5c" parameter.
//
// https://datatracker.ietf.org/doc/html/rfc7517#section-4.7
func FromCertificateChain(chain []*x509.Certificate, extra ordered.Map) (JWK, error) {
	if len(chain) == 0 {
		return JWK{}, joseerr.New(joseerr.CertificateRead, "empty certificate chain", nil)
	}

	x5c := make([]string, 0, len(chain))
	for _, cert := range chain {
		// x5c values are standard base64, not base64url.
		x5c = append(x5c, stdbase64.StdEncoding.EncodeToString(cert.Raw))
	}

	return FromCertificate(chain[0], ordered.NewMap(ordered.Pair{Key: X509CertificateChain, Value: x5c}).Merge(extra))
}

// FromCertificateChainFile reads every certificate of a PEM file and
// returns the key of the first one, see FromCertificateChain.
func FromCertificateChainFile(path string, extra ordered.Map) (JWK, error) {
	chain, err := keyutil.ReadCertificateChainFile(path)
	if err != nil {
		return JWK{}, joseerr.New(joseerr.CertificateRead, fmt.Sprintf("unable to load the certificate %q", path), err)
	}
	return FromCertificateChain(chain, extra)
}

// Certificates decodes the "x5c" parameter of the key.
func (k JWK) Certificates() ([]*x509.Certificate, error) {
	value, err := k.Get(X509CertificateChain)
	if err != nil {
		return nil, err
	}

	list, err := stringList(value)
	if err != nil {
		return nil, joseerr.Malformed(X509CertificateChain, err)
	}
	if len(list) == 0 {
		return nil, joseerr.Malformed(X509CertificateChain, errors.New("empty certificate chain"))
	}

	certs := make([]*x509.Certificate, 0, len(list))
	for _, encoded := range list {
		der, err := stdbase64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, joseerr.Malformed(X509CertificateChain, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, joseerr.New(joseerr.CertificateRead, "invalid certificate in chain", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}
