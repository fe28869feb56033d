package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"escrowmarket/crypto"
	"escrowmarket/rpc"
)

// NewUnitCommand groups commands that manage asset and payment units.
func NewUnitCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Create and issue token units",
	}
	cmd.AddCommand(newUnitCreateCommand(opts))
	cmd.AddCommand(newUnitMintCommand(opts))
	return cmd
}

func newUnitCreateCommand(opts *RootOptions) *cobra.Command {
	var (
		name     string
		decimals uint8
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a unit whose mint authority is the keystore key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := opts.loadKey()
			if err != nil {
				return err
			}
			var out rpc.AddressResult
			payload := rpc.CreateMintPayload(key.Address(), name, decimals, time.Now())
			if err := opts.client().CallSigned(cmd.Context(), rpc.MethodTokenCreateMint, key, payload, &out); err != nil {
				return err
			}
			return printResult(cmd, opts, out)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "unit name, unique per authority")
	cmd.Flags().Uint8Var(&decimals, "decimals", 0, "display decimals")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newUnitMintCommand(opts *RootOptions) *cobra.Command {
	var unit, to string
	cmd := &cobra.Command{
		Use:   "mint <amount>",
		Short: "Issue units into a holding account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			mint, err := crypto.ParseAddress(unit)
			if err != nil {
				return fmt.Errorf("invalid --unit: %w", err)
			}
			holding, err := crypto.ParseAddress(to)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
			key, err := opts.loadKey()
			if err != nil {
				return err
			}
			var out rpc.TokenAccountResult
			payload := rpc.MintToPayload(mint, holding, amount, time.Now())
			if err := opts.client().CallSigned(cmd.Context(), rpc.MethodTokenMintTo, key, payload, &out); err != nil {
				return err
			}
			return printResult(cmd, opts, out)
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "unit to issue")
	cmd.Flags().StringVar(&to, "to", "", "receiving holding account")
	_ = cmd.MarkFlagRequired("unit")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// NewAccountCommand groups holding account commands.
func NewAccountCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Open and inspect holding accounts",
	}
	cmd.AddCommand(newAccountOpenCommand(opts))
	cmd.AddCommand(newAccountShowCommand(opts))
	return cmd
}

func newAccountOpenCommand(opts *RootOptions) *cobra.Command {
	var unit, owner string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open the associated holding account of an owner for a unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mint, err := crypto.ParseAddress(unit)
			if err != nil {
				return fmt.Errorf("invalid --unit: %w", err)
			}
			var ownerAddr crypto.Address
			if owner == "" {
				key, err := opts.loadKey()
				if err != nil {
					return err
				}
				ownerAddr = key.Address()
			} else if ownerAddr, err = crypto.ParseAddress(owner); err != nil {
				return fmt.Errorf("invalid --owner: %w", err)
			}
			var out rpc.AddressResult
			if err := opts.client().Call(cmd.Context(), "token_openAccount", rpc.OpenAccountParams(mint, ownerAddr), &out); err != nil {
				return err
			}
			return printResult(cmd, opts, out)
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "unit held by the account")
	cmd.Flags().StringVar(&owner, "owner", "", "owner address (defaults to the keystore key)")
	_ = cmd.MarkFlagRequired("unit")
	return cmd
}

func newAccountShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <account>",
		Short: "Show a holding account balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out rpc.TokenAccountResult
			if err := opts.client().Call(cmd.Context(), "token_getAccount", map[string]string{"account": args[0]}, &out); err != nil {
				return err
			}
			return printResult(cmd, opts, out)
		},
	}
}
