package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"escrowmarket/cmd/internal/passphrase"
	"escrowmarket/crypto"
	"escrowmarket/rpc"
)

// PassphraseEnv names the environment variable consulted for keystore
// passphrases.
const PassphraseEnv = "MARKET_KEYSTORE_PASS"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	RPC            string
	Keystore       string
	PassphraseFile string
	Format         string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the marketd command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "marketd",
		Short:         "Escrow marketplace node and client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.RPC, "rpc", "http://127.0.0.1:8080", "JSON-RPC endpoint of a running node")
	cmd.PersistentFlags().StringVar(&opts.Keystore, "keystore", "operator.keystore", "keystore holding the signing key")
	cmd.PersistentFlags().StringVar(&opts.PassphraseFile, "passphrase-file", "", "read the keystore passphrase from a file instead of "+PassphraseEnv)
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewAddressCommand(opts))
	cmd.AddCommand(NewUnitCommand(opts))
	cmd.AddCommand(NewAccountCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewBuyCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewDeriveCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) client() *rpc.Client {
	return rpc.NewClient(o.RPC)
}

func (o *RootOptions) loadKey() (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(PassphraseEnv, passphrase.WithFile(o.PassphraseFile)).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(o.Keystore, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", o.Keystore, err)
	}
	return key, nil
}
