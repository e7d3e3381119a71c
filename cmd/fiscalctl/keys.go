package main

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"text/tabwriter"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/nkiryanov/fiscalos/internal/security/aescipher"
	"github.com/nkiryanov/fiscalos/internal/security/envelope"
	"github.com/nkiryanov/fiscalos/internal/security/keyring"
)

func newKeysCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage key ring root keys",
	}

	cmd.AddCommand(
		newKeysGenerateCmd(app),
		newKeysListCmd(app),
		newKeysPromoteCmd(app),
		newKeysVerifyCmd(app),
	)

	return cmd
}

func newKeysGenerateCmd(app *cliApp) *cobra.Command {
	var promote bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate new root key and save it to the key ring",
		Long: `Generate new random root key and save it to the key ring storage.
The key is not used for wrapping until promoted, so it's safe to generate keys ahead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := app.ring(cmd.Context())
			if err != nil {
				return err
			}

			raw := make([]byte, aescipher.KeySize)
			if _, err := rand.Read(raw); err != nil {
				return fmt.Errorf("error while generating key. Err: %w", err)
			}
			defer memguard.WipeBytes(raw)

			entry, err := ring.SaveKey(cmd.Context(), raw)
			if err != nil {
				return err
			}
			cmd.Println(entry.KeyID)

			if promote {
				return promoteKey(cmd, app, ring, entry.KeyID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&promote, "promote", false, "Make generated key primary")

	return cmd
}

func newKeysListCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded key ids; primary key is marked with '*'",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := app.ring(cmd.Context())
			if err != nil {
				return err
			}

			primary := ring.Options().PrimaryKeyID
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PRIMARY\tKEY ID")
			for _, id := range ring.KeyIDs() {
				mark := ""
				if id == primary {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\n", mark, id)
			}
			return w.Flush()
		},
	}
}

func newKeysPromoteCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <key-id>",
		Short: "Make key primary",
		Long: `Make key primary by rewriting primary_key_id in the key ring options file.
Running servers pick the change up without restart. Existing data keys keep
working; run 'users rotate-keys' to rewrap them under the new key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := app.ring(cmd.Context())
			if err != nil {
				return err
			}
			return promoteKey(cmd, app, ring, args[0])
		},
	}
}

func promoteKey(cmd *cobra.Command, app *cliApp, ring *keyring.Ring, keyID string) error {
	// Refuse to point primary to key servers can't load
	if _, err := ring.GetKey(keyID); err != nil {
		return err
	}

	opts, err := keyring.LoadOptions(app.keyringConfig)
	if err != nil {
		return err
	}
	opts.PrimaryKeyID = keyID

	if err := keyring.SaveOptions(app.keyringConfig, opts); err != nil {
		return err
	}

	cmd.Printf("Primary key: %s\n", keyID)
	return nil
}

func newKeysVerifyCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check primary key wraps and unwraps data keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := app.ring(cmd.Context())
			if err != nil {
				return err
			}

			encryptor := envelope.New(ring)
			dataKey, err := encryptor.GenerateEncryptedDataKey()
			if err != nil {
				return err
			}

			probe := []byte("fiscalos key ring probe")
			ciphertext, err := encryptor.EncryptFor(dataKey, probe)
			if err != nil {
				return err
			}
			plain, err := encryptor.DecryptFor(dataKey, ciphertext)
			if err != nil {
				return err
			}
			defer memguard.WipeBytes(plain)

			if !bytes.Equal(plain, probe) {
				return fmt.Errorf("probe decrypted to different bytes with key %q", dataKey.KeyIDUsed)
			}

			cmd.Printf("OK: primary key %s, %d keys loaded\n", dataKey.KeyIDUsed, len(ring.KeyIDs()))
			return nil
		},
	}
}
