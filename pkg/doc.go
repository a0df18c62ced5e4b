// Package jose groups the packages of josekit, a JavaScript Object Signing
// and Encryption (JOSE) toolkit.
//
// The loader package is the entry point: it detects whether an input is a
// JWS or a JWE and in which serialization (compact, flattened JSON or
// general JSON), parses it into one entry per signature or recipient, and
// verifies or decrypts those entries against a JWK set.
//
//   - jwk: JSON Web Keys, key sets and certificate import
//   - jws, jwe: signature and encryption entries
//   - serialization: parsing and producing the three serializations
//   - header, payload, compression, checker, finder: the parts a loader is assembled from
//
// Related RFCs:
//   - RFC7515 https://datatracker.ietf.org/doc/html/rfc7515 JWS, JSON Web Signature
//   - RFC7516 https://datatracker.ietf.org/doc/html/rfc7516 JWE, JSON Web Encryption
//   - RFC7517 https://datatracker.ietf.org/doc/html/rfc7517 JWK, JSON Web Key
//   - RFC7518 https://datatracker.ietf.org/doc/html/rfc7518 JWA, JSON Web Algorithms
//   - RFC7638 https://datatracker.ietf.org/doc/html/rfc7638 JWK Thumbprint
//
// Related Information:
//   - https://datatracker.ietf.org/wg/jose/charter/
package jose
