package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"escrowmarket/cmd/internal/passphrase"
	"escrowmarket/crypto"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	Force bool
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key into an encrypted keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.Keystore); err == nil && !opts.Force {
				return fmt.Errorf("keystore %s already exists (use --force to overwrite)", opts.Keystore)
			}
			pass, err := passphrase.NewSource(PassphraseEnv,
				passphrase.WithFile(opts.PassphraseFile),
				passphrase.WithConfirmation()).Get()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if err := crypto.SaveToKeystore(opts.Keystore, key, pass); err != nil {
				return fmt.Errorf("save keystore: %w", err)
			}
			return printResult(cmd, opts.RootOptions, map[string]string{
				"address":  key.Address().String(),
				"keystore": opts.Keystore,
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing keystore")

	return cmd
}

// NewAddressCommand creates the address command.
func NewAddressCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address held in the keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := opts.loadKey()
			if err != nil {
				return err
			}
			return printResult(cmd, opts, map[string]string{"address": key.Address().String()})
		},
	}
}
