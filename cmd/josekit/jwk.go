package main

import (
	"crypto"
	"crypto/elliptic"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/picatz/josekit/pkg/jwk"
	"github.com/picatz/josekit/pkg/jwk/thumbprint"
	"github.com/picatz/josekit/pkg/keyutil"
	"github.com/picatz/josekit/pkg/ordered"
	"github.com/spf13/cobra"
)

func newJWKCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jwk",
		Short: "Create and convert JSON Web Keys",
	}
	cmd.AddCommand(
		newFromCertCommand(a),
		newFromKeyCommand(a),
		newPublicCommand(a),
		newThumbprintCommand(a),
		newGenerateCommand(a),
	)
	return cmd
}

// keyParams holds the flags adding optional parameters to a new key.
type keyParams struct {
	kid string
	use string
	alg string
}

func (p *keyParams) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.kid, "kid", "", "key ID")
	cmd.Flags().StringVar(&p.use, "use", "", "public key use, sig or enc")
	cmd.Flags().StringVar(&p.alg, "alg", "", "algorithm the key is intended for")
}

func (p *keyParams) extra() ordered.Map {
	m := ordered.Map{}
	if p.use != "" {
		m = m.With(jwk.PublicKeyUse, p.use)
	}
	if p.alg != "" {
		m = m.With(jwk.Algorithm, p.alg)
	}
	if p.kid != "" {
		m = m.With(jwk.KeyID, p.kid)
	}
	return m
}

func writeJSON(cmd *cobra.Command, v json.Marshaler) error {
	b, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func newFromCertCommand(a *app) *cobra.Command {
	var (
		params keyParams
		chain  bool
	)

	cmd := &cobra.Command{
		Use:   "from-cert <file>",
		Short: "Create a JWK from a PEM or DER X.509 certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				key jwk.JWK
				err error
			)
			if chain {
				key, err = jwk.FromCertificateChainFile(args[0], params.extra())
			} else {
				key, err = jwk.FromCertificateFile(args[0], params.extra())
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd, key)
		},
	}
	params.register(cmd)
	cmd.Flags().BoolVar(&chain, "chain", false, `include every certificate of the file in "x5c"`)
	return cmd
}

func newFromKeyCommand(a *app) *cobra.Command {
	var params keyParams

	cmd := &cobra.Command{
		Use:   "from-key <file>",
		Short: "Create a JWK from a PEM encoded private or public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read key file: %w", err)
			}
			parsed, err := keyutil.ParseKey(data)
			if err != nil {
				return err
			}

			var key jwk.JWK
			if priv, ok := parsed.(crypto.Signer); ok {
				key, err = jwk.FromPrivateKey(priv, params.extra())
			} else {
				key, err = jwk.FromPublicKey(parsed, params.extra())
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd, key)
		},
	}
	params.register(cmd)
	return cmd
}

func newPublicCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "public [file]",
		Short: "Print the public part of a JWK or JWK set",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			if set, err := jwk.ParseSet(input); err == nil {
				public := jwk.NewSet()
				for _, key := range set.All() {
					public = public.Add(key.ToPublic())
				}
				return writeJSON(cmd, public)
			}

			key, err := jwk.Parse(input)
			if err != nil {
				return err
			}
			return writeJSON(cmd, key.ToPublic())
		},
	}
}

func newThumbprintCommand(a *app) *cobra.Command {
	var hashName string

	cmd := &cobra.Command{
		Use:   "thumbprint [file]",
		Short: "Print the RFC 7638 thumbprint of a JWK",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseHash(hashName)
			if err != nil {
				return err
			}
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			key, err := jwk.Parse(input)
			if err != nil {
				return err
			}
			tp, err := thumbprint.GenerateString(key, h)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tp)
			return err
		},
	}
	cmd.Flags().StringVar(&hashName, "hash", "sha256", "hash function: sha256, sha384 or sha512")
	return cmd
}

func parseHash(name string) (crypto.Hash, error) {
	switch strings.ToLower(name) {
	case "sha256", "sha-256":
		return crypto.SHA256, nil
	case "sha384", "sha-384":
		return crypto.SHA384, nil
	case "sha512", "sha-512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("unsupported hash %q", name)
	}
}

func newGenerateCommand(a *app) *cobra.Command {
	var (
		params keyParams
		kty    string
		crv    string
		size   int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a private JWK",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				key jwk.JWK
				err error
			)
			switch kty {
			case jwk.KeyTypeRSA:
				_, priv, genErr := keyutil.NewRSAKeyPair()
				if genErr != nil {
					return genErr
				}
				key, err = jwk.FromPrivateKey(priv, params.extra())
			case jwk.KeyTypeEC:
				curve, curveErr := parseCurve(crv)
				if curveErr != nil {
					return curveErr
				}
				_, priv, genErr := keyutil.NewECDSAKeyPair(curve)
				if genErr != nil {
					return genErr
				}
				key, err = jwk.FromPrivateKey(priv, params.extra())
			case jwk.KeyTypeOKP:
				_, priv, genErr := keyutil.NewEdDSAKeyPair()
				if genErr != nil {
					return genErr
				}
				key, err = jwk.FromPrivateKey(priv, params.extra())
			case jwk.KeyTypeOct:
				secret, genErr := keyutil.NewSymmetricKey(size)
				if genErr != nil {
					return genErr
				}
				key, err = jwk.FromSymmetricKey(secret, params.extra())
			default:
				return fmt.Errorf("unsupported key type %q", kty)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd, key)
		},
	}
	params.register(cmd)
	cmd.Flags().StringVar(&kty, "kty", jwk.KeyTypeEC, "key type: RSA, EC, OKP or oct")
	cmd.Flags().StringVar(&crv, "crv", "P-256", "curve of EC keys")
	cmd.Flags().IntVar(&size, "size", 32, "size in bytes of oct keys")
	return cmd
}

func parseCurve(name string) (elliptic.Curve, error) {
	switch name {
	case "P-256":
		return elliptic.P256(), nil
	case "P-384":
		return elliptic.P384(), nil
	case "P-521":
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("unsupported curve %q", name)
	}
}
