package main

import (
	"fmt"
	"unicode/utf8"

	"github.com/picatz/josekit/pkg/base64"
	"github.com/picatz/josekit/pkg/jwe"
	"github.com/picatz/josekit/pkg/jws"
	"github.com/picatz/josekit/pkg/loader"
	"github.com/picatz/josekit/pkg/ordered"
	"github.com/picatz/josekit/pkg/serialization"
	"github.com/spf13/cobra"
)

func newInspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [file]",
		Short: "Print the headers and structure of a JWS or JWE without verifying it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
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

			summary, err := summarize(loaded)
			if err != nil {
				return err
			}
			b, err := summary.MarshalJSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
}

// summarize describes the loaded entries, keeping header parameter order.
func summarize(loaded *loader.Loaded) (ordered.Map, error) {
	entries := make([]any, 0, loaded.Len())

	switch loaded.Kind {
	case serialization.KindJWS:
		for _, sig := range loaded.Signatures {
			entry, err := summarizeSignature(sig)
			if err != nil {
				return ordered.Map{}, err
			}
			entries = append(entries, entry)
		}
	case serialization.KindJWE:
		for _, rec := range loaded.Recipients {
			entry, err := summarizeRecipient(rec)
			if err != nil {
				return ordered.Map{}, err
			}
			entries = append(entries, entry)
		}
	}

	return ordered.NewMap(
		ordered.Pair{Key: "kind", Value: loaded.Kind.String()},
		ordered.Pair{Key: "serialization", Value: loaded.Mode.String()},
		ordered.Pair{Key: "entries", Value: entries},
	), nil
}

func summarizeSignature(sig *jws.JWS) (ordered.Map, error) {
	complete, err := sig.Header()
	if err != nil {
		return ordered.Map{}, err
	}
	entry := ordered.NewMap(
		ordered.Pair{Key: "protected", Value: sig.ProtectedHeader().Map},
		ordered.Pair{Key: "header", Value: complete.Map},
	)
	raw := sig.RawPayload()
	if utf8.Valid(raw) {
		entry = entry.With("payload", string(raw))
	} else {
		entry = entry.With("payload_base64url", sig.EncodedPayload())
	}
	return entry.With("signature_size", len(sig.Signature())), nil
}

func summarizeRecipient(rec *jwe.JWE) (ordered.Map, error) {
	complete, err := rec.Header()
	if err != nil {
		return ordered.Map{}, err
	}
	entry := ordered.NewMap(
		ordered.Pair{Key: "protected", Value: rec.ProtectedHeader().Map},
		ordered.Pair{Key: "header", Value: complete.Map},
	)
	if rec.HasEncryptedKey() {
		entry = entry.With("encrypted_key", base64.Encode(rec.EncryptedKey()))
	}
	if rec.HasAAD() {
		entry = entry.With("aad", base64.Encode(rec.AAD()))
	}
	return entry.With("ciphertext_size", len(rec.Ciphertext())), nil
}
