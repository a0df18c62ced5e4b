package main

import (
	"errors"
	"fmt"

	"github.com/picatz/josekit/pkg/jwe"
	"github.com/picatz/josekit/pkg/payload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newVerifyCommand(a *app) *cobra.Command {
	var (
		keyFiles []string
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "verify [file]",
		Short: "Verify a JWS and print its payload",
		Long:  "Verify a JWS in any serialization. By default one valid signature is enough; with --all every signature must verify.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			keys, err := a.readKeys(keyFiles)
			if err != nil {
				return err
			}
			l, err := a.newLoader()
			if err != nil {
				return err
			}

			loaded, err := l.LoadAll(string(input))
			if err != nil {
				return err
			}
			if len(loaded.Signatures) == 0 {
				return errors.New("the input is not a JWS")
			}

			ctx := cmd.Context()
			if all {
				indexes, err := l.VerifyAll(ctx, loaded.Signatures, keys)
				if err != nil {
					return err
				}
				a.logger.Info("every signature verified", zap.Ints("keys", indexes))
			} else {
				sigIndex, keyIndex, err := l.VerifyAny(ctx, loaded.Signatures, keys)
				if err != nil {
					return err
				}
				a.logger.Info("signature verified", zap.Int("signature", sigIndex), zap.Int("key", keyIndex))
			}

			_, err = cmd.OutOrStdout().Write(loaded.Signatures[0].RawPayload())
			return err
		},
	}
	cmd.Flags().StringSliceVarP(&keyFiles, "keys", "k", nil, "JWK or JWK set files")
	cmd.Flags().BoolVar(&all, "all", false, "require every signature to verify")
	return cmd
}

func newDecryptCommand(a *app) *cobra.Command {
	var keyFiles []string

	cmd := &cobra.Command{
		Use:   "decrypt [file]",
		Short: "Decrypt a JWE and print its plaintext",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			keys, err := a.readKeys(keyFiles)
			if err != nil {
				return err
			}
			l, err := a.newLoader()
			if err != nil {
				return err
			}

			loaded, err := l.LoadAll(string(input))
			if err != nil {
				return err
			}
			if len(loaded.Recipients) == 0 {
				return errors.New("the input is not a JWE")
			}

			opened, recIndex, keyIndex, err := l.DecryptAny(cmd.Context(), loaded.Recipients, keys)
			if err != nil {
				return err
			}
			a.logger.Info("decrypted", zap.Int("recipient", recIndex), zap.Int("key", keyIndex))

			plaintext, err := plaintextOf(opened)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(plaintext)
			return err
		},
	}
	cmd.Flags().StringSliceVarP(&keyFiles, "keys", "k", nil, "JWK or JWK set files")
	return cmd
}

// plaintextOf encodes the converted payload back to bytes.
func plaintextOf(rec *jwe.JWE) ([]byte, error) {
	complete, err := rec.Header()
	if err != nil {
		return nil, err
	}
	b, err := payload.DefaultManager().Encode(complete, rec.Payload())
	if err != nil {
		return nil, fmt.Errorf("failed to encode plaintext: %w", err)
	}
	return b, nil
}
