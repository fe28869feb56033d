package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"escrowmarket/crypto"
	"escrowmarket/integrations/exports"
	"escrowmarket/rpc"
	"escrowmarket/storage/eventlog"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Unit         string
	AssetAccount string
	Rarity       string
	CardType     string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <item-id> <price>",
		Short: "List an item for sale as the keystore key",
		Long: `List an item for sale as the keystore key.

Full-escrow nodes need --unit and --asset-account; the asset is locked in the
listing vault until it sells. No-escrow nodes accept --rarity and --card-type.

Example:
  marketd list card-042 100 --unit <unit> --asset-account <account>`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", args[1], err)
			}
			unit, err := optionalAddress("unit", opts.Unit)
			if err != nil {
				return err
			}
			asset, err := optionalAddress("asset-account", opts.AssetAccount)
			if err != nil {
				return err
			}
			key, err := opts.loadKey()
			if err != nil {
				return err
			}
			var out rpc.ListingResult
			payload := rpc.ListPayload(key.Address(), args[0], price, unit, asset, opts.Rarity, opts.CardType, time.Now())
			if err := opts.client().CallSigned(cmd.Context(), rpc.MethodMarketList, key, payload, &out); err != nil {
				return err
			}
			return printResult(cmd, opts.RootOptions, out)
		},
	}

	cmd.Flags().StringVar(&opts.Unit, "unit", "", "asset unit (full escrow)")
	cmd.Flags().StringVar(&opts.AssetAccount, "asset-account", "", "seller account holding the asset (full escrow)")
	cmd.Flags().StringVar(&opts.Rarity, "rarity", "", "item rarity (no escrow)")
	cmd.Flags().StringVar(&opts.CardType, "card-type", "", "item card type (no escrow)")

	return cmd
}

// BuyOptions holds flags for the buy command.
type BuyOptions struct {
	*RootOptions
	Payment       string
	SellerPayment string
	AssetAccount  string
	Vault         string
}

// NewBuyCommand creates the buy command.
func NewBuyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "buy <listing>",
		Short: "Buy a listing as the keystore key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addrs [5]crypto.Address
			for i, f := range []struct{ name, raw string }{
				{"listing", args[0]},
				{"payment", opts.Payment},
				{"seller-payment", opts.SellerPayment},
				{"asset-account", opts.AssetAccount},
				{"vault", opts.Vault},
			} {
				if f.raw == "" {
					if i < 3 {
						return fmt.Errorf("--%s required", f.name)
					}
					continue
				}
				addr, err := crypto.ParseAddress(f.raw)
				if err != nil {
					return fmt.Errorf("invalid %s: %w", f.name, err)
				}
				addrs[i] = addr
			}
			key, err := opts.loadKey()
			if err != nil {
				return err
			}
			var out rpc.ListingResult
			payload := rpc.BuyPayload(key.Address(), addrs[0], addrs[1], addrs[2], addrs[3], addrs[4], time.Now())
			if err := opts.client().CallSigned(cmd.Context(), rpc.MethodMarketBuy, key, payload, &out); err != nil {
				return err
			}
			return printResult(cmd, opts.RootOptions, out)
		},
	}

	cmd.Flags().StringVar(&opts.Payment, "payment", "", "buyer account the price is paid from")
	cmd.Flags().StringVar(&opts.SellerPayment, "seller-payment", "", "seller account receiving the price")
	cmd.Flags().StringVar(&opts.AssetAccount, "asset-account", "", "buyer account receiving the asset (full escrow)")
	cmd.Flags().StringVar(&opts.Vault, "vault", "", "listing vault (derived when omitted)")

	return cmd
}

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	var seller, item string
	cmd := &cobra.Command{
		Use:   "show [listing]",
		Short: "Show a listing by address or by --seller and --item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := map[string]string{}
			switch {
			case len(args) == 1:
				query["listing"] = args[0]
			case seller != "" && item != "":
				query["seller"] = seller
				query["itemId"] = item
			default:
				return errors.New("listing address or --seller and --item required")
			}
			var out rpc.ListingResult
			if err := opts.client().Call(cmd.Context(), "market_getListing", query, &out); err != nil {
				return err
			}
			return printResult(cmd, opts, out)
		},
	}
	cmd.Flags().StringVar(&seller, "seller", "", "seller address")
	cmd.Flags().StringVar(&item, "item", "", "item id")
	return cmd
}

// NewDeriveCommand creates the derive command.
func NewDeriveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "derive <seller> <item-id>",
		Short: "Compute the listing address for a seller and item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out rpc.DeriveResult
			query := map[string]string{"seller": args[0], "itemId": args[1]}
			if err := opts.client().Call(cmd.Context(), "market_deriveListing", query, &out); err != nil {
				return err
			}
			return printResult(cmd, opts, out)
		},
	}
}

// NewEventsCommand creates the events command.
func NewEventsCommand(opts *RootOptions) *cobra.Command {
	var (
		eventType string
		listing   string
		limit     int
		export    string
		outPath   string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List committed events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := map[string]interface{}{"limit": limit}
			if eventType != "" {
				query["type"] = eventType
			}
			if listing != "" {
				query["listing"] = listing
			}
			var out []eventlog.Entry
			if err := opts.client().Call(cmd.Context(), "events_list", query, &out); err != nil {
				return err
			}
			if export == "" {
				return printResult(cmd, opts, out)
			}
			return writeExport(cmd, exports.Format(export), outPath, out)
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type, e.g. market.bought")
	cmd.Flags().StringVar(&listing, "listing", "", "listing address")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries")
	cmd.Flags().StringVar(&export, "export", "", "write entries as csv or jsonl instead of printing them")
	cmd.Flags().StringVar(&outPath, "out", "", "export destination (defaults to stdout)")
	return cmd
}

func writeExport(cmd *cobra.Command, format exports.Format, path string, entries []eventlog.Entry) error {
	var w io.Writer = cmd.OutOrStdout()
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	checksum, err := exports.Write(w, format, entries)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "exported %d entries, sha256 %s\n", len(entries), checksum)
	return nil
}

func optionalAddress(flag, raw string) (*crypto.Address, error) {
	if raw == "" {
		return nil, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return &addr, nil
}
