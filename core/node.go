package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"escrowmarket/core/events"
	"escrowmarket/core/runtime"
	"escrowmarket/crypto"
	"escrowmarket/native/common"
	"escrowmarket/native/market"
	"escrowmarket/native/token"
	"escrowmarket/observability"
	"escrowmarket/observability/metrics"
	telemetry "escrowmarket/observability/otel"
	"escrowmarket/storage"
)

var errNilNode = errors.New("node: not initialised")

// Node is the central controller, wiring storage, the runtime, the token
// ledger and the market engine together. Every mutating method runs as one
// runtime invocation.
type Node struct {
	db      storage.Database
	runtime *runtime.Runtime
	ledger  *token.Ledger
	engine  *market.Engine
	logger  *slog.Logger
	metrics *metrics.MarketMetrics
	tracer  trace.Tracer
}

// NewNode builds a node over db that settles listings with settlement.
func NewNode(db storage.Database, settlement market.Settlement) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	if settlement == nil {
		return nil, fmt.Errorf("node: settlement strategy required")
	}
	ledger := token.NewLedger()
	n := &Node{
		db:      db,
		runtime: runtime.New(db),
		ledger:  ledger,
		engine:  market.NewEngine(ledger, settlement),
		logger:  slog.Default(),
		metrics: metrics.Market(),
		tracer:  telemetry.Tracer(),
	}
	n.SetEmitter(nil)
	return n, nil
}

// SetProgramID changes the market program address.
func (n *Node) SetProgramID(id crypto.Address) { n.engine.SetProgramID(id) }

// SetLogger replaces the node and runtime logger.
func (n *Node) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	n.logger = l
	n.runtime.SetLogger(l)
}

// SetEmitter routes committed events to emitter. Event metrics are always
// recorded.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.runtime.SetEmitter(events.Fanout{eventMetricsEmitter{}, emitter})
}

// SetPauses installs operator pause switches on the market engine.
func (n *Node) SetPauses(p common.PauseView) { n.engine.SetPauses(p) }

// Engine exposes the market engine.
func (n *Node) Engine() *market.Engine { return n.engine }

// Variant reports the settlement variant.
func (n *Node) Variant() market.Variant { return n.engine.Variant() }

// Close closes the backing database.
func (n *Node) Close() {
	if n == nil || n.db == nil {
		return
	}
	n.db.Close()
}

type eventMetricsEmitter struct{}

func (eventMetricsEmitter) Emit(evt events.Event) {
	env, ok := evt.(events.Envelope)
	if !ok || env.Payload == nil {
		return
	}
	observability.Events().RecordEvent(env.Payload.Type)
	if env.Payload.Type == token.EventTypeTransfer {
		amount, _ := strconv.ParseUint(env.Payload.Attributes["amount"], 10, 64)
		observability.Events().RecordTransfer(env.Payload.Attributes["mint"], amount)
	}
}

func (n *Node) invoke(ctx context.Context, op string, inv runtime.Invocation, program crypto.Address, fn func(*runtime.Context) error) error {
	if n == nil || n.runtime == nil {
		return errNilNode
	}
	ctx, span := n.tracer.Start(ctx, "market."+op, trace.WithAttributes(attribute.String("market.op", op)))
	defer span.End()
	start := time.Now()
	err := n.runtime.Execute(ctx, inv, program, fn)
	n.metrics.ObserveLatency(op, time.Since(start))
	if err != nil {
		reason := n.reject(op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		return err
	}
	return nil
}

// reject records a failed operation, including failures found while resolving
// the accounts before an invocation starts.
func (n *Node) reject(op string, err error) string {
	reason := RejectionReason(err)
	n.metrics.ObserveRejection(op, reason)
	n.logger.Warn("invocation rejected",
		slog.String("op", op),
		slog.String("reason", reason),
		slog.String("error", err.Error()))
	return reason
}

// List opens a listing. signer is the address that authenticated the request
// and must equal req.Seller.
func (n *Node) List(ctx context.Context, signer crypto.Address, req market.ListRequest) (*market.Listing, error) {
	if n == nil {
		return nil, errNilNode
	}
	writable, err := n.engine.ListAccounts(req)
	if err != nil {
		n.reject("list", err)
		return nil, err
	}
	var listing *market.Listing
	err = n.invoke(ctx, "list", runtime.Invocation{
		Signers:  []crypto.Address{signer},
		Writable: writable,
	}, n.engine.ProgramID(), func(c *runtime.Context) error {
		l, err := n.engine.List(c, req)
		listing = l
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.ObserveListing(listing.Variant.String())
	n.logger.Info("listing opened",
		slog.String("listing", listing.Address.String()),
		slog.String("seller", listing.Seller.String()),
		slog.String("item", listing.ItemID),
		slog.Uint64("price", listing.Price))
	return listing, nil
}

// Buy settles a listing for signer, who must equal req.Buyer. In the
// full-escrow variant an unset req.Vault is filled with the listing's vault.
func (n *Node) Buy(ctx context.Context, signer crypto.Address, req market.BuyRequest) (*market.Listing, error) {
	if n == nil {
		return nil, errNilNode
	}
	if n.Variant() == market.VariantFullEscrow && req.Vault.IsZero() {
		vault, err := n.VaultFor(ctx, req.Listing)
		if err != nil {
			n.reject("buy", err)
			return nil, err
		}
		req.Vault = vault
	}
	writable, err := n.engine.BuyAccounts(req)
	if err != nil {
		n.reject("buy", err)
		return nil, err
	}
	var listing *market.Listing
	err = n.invoke(ctx, "buy", runtime.Invocation{
		Signers:  []crypto.Address{signer},
		Writable: writable,
	}, n.engine.ProgramID(), func(c *runtime.Context) error {
		l, err := n.engine.Buy(c, req)
		listing = l
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.ObserveSettlement(listing.Variant.String())
	n.logger.Info("listing settled",
		slog.String("listing", listing.Address.String()),
		slog.String("buyer", req.Buyer.String()),
		slog.Uint64("price", listing.Price))
	return listing, nil
}

// Listing reads the listing stored at addr.
func (n *Node) Listing(ctx context.Context, addr crypto.Address) (*market.Listing, error) {
	if n == nil {
		return nil, errNilNode
	}
	var listing *market.Listing
	err := n.runtime.View(ctx, n.engine.ProgramID(), func(c *runtime.Context) error {
		l, err := n.engine.Listing(c, addr)
		listing = l
		return err
	})
	return listing, err
}

// VaultFor returns the vault address of the full-escrow listing at addr.
func (n *Node) VaultFor(ctx context.Context, addr crypto.Address) (crypto.Address, error) {
	listing, err := n.Listing(ctx, addr)
	if err != nil {
		return crypto.Address{}, err
	}
	if listing.Variant != market.VariantFullEscrow {
		return crypto.Address{}, fmt.Errorf("%w: %s has no vault", market.ErrInvalidListing, addr)
	}
	return market.VaultAddress(addr, listing.AssetUnit)
}

// DeriveListing computes where the listing of (seller, itemID) lives without
// touching state.
func (n *Node) DeriveListing(seller crypto.Address, itemID string) (crypto.Address, uint8, error) {
	return n.engine.ListingAddress(seller, itemID)
}

// TokenAccount reads the holding account at addr.
func (n *Node) TokenAccount(ctx context.Context, addr crypto.Address) (*token.Account, error) {
	if n == nil {
		return nil, errNilNode
	}
	var account *token.Account
	err := n.runtime.View(ctx, token.ProgramID, func(c *runtime.Context) error {
		acc, err := n.ledger.Account(c, addr)
		account = acc
		return err
	})
	return account, err
}

// CreateMint registers the unit named name under authority and returns its
// address.
func (n *Node) CreateMint(ctx context.Context, authority crypto.Address, name string, decimals uint8) (crypto.Address, error) {
	addr, err := token.MintAddress(authority, name)
	if err != nil {
		return crypto.Address{}, err
	}
	err = n.invoke(ctx, "create_mint", runtime.Invocation{
		Signers:  []crypto.Address{authority},
		Writable: []crypto.Address{addr},
	}, token.ProgramID, func(c *runtime.Context) error {
		_, err := n.ledger.CreateMint(c, addr, authority, decimals)
		return err
	})
	if err != nil {
		return crypto.Address{}, err
	}
	return addr, nil
}

// OpenTokenAccount opens owner's associated holding account for mint.
func (n *Node) OpenTokenAccount(ctx context.Context, mint, owner crypto.Address) (crypto.Address, error) {
	addr, err := token.AssociatedAddress(owner, mint)
	if err != nil {
		return crypto.Address{}, err
	}
	err = n.invoke(ctx, "open_account", runtime.Invocation{
		Writable: []crypto.Address{addr},
	}, token.ProgramID, func(c *runtime.Context) error {
		_, err := n.ledger.OpenAccount(c, addr, mint, owner)
		return err
	})
	if err != nil {
		return crypto.Address{}, err
	}
	return addr, nil
}

// MintTo issues amount units of mint into to. authority must be the mint
// authority.
func (n *Node) MintTo(ctx context.Context, authority, mint, to crypto.Address, amount uint64) error {
	return n.invoke(ctx, "mint_to", runtime.Invocation{
		Signers:  []crypto.Address{authority},
		Writable: []crypto.Address{mint, to},
	}, token.ProgramID, func(c *runtime.Context) error {
		return n.ledger.MintTo(c, mint, to, amount)
	})
}

// RejectionReason maps an invocation error to a stable metric label.
func RejectionReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, market.ErrAlreadySold):
		return "already_sold"
	case errors.Is(err, market.ErrInsufficientFunds), errors.Is(err, token.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, market.ErrWrongPaymentUnit), errors.Is(err, token.ErrMintMismatch):
		return "wrong_unit"
	case errors.Is(err, market.ErrAssetMissing):
		return "asset_missing"
	case errors.Is(err, market.ErrItemIDTooLong):
		return "item_id_too_long"
	case errors.Is(err, crypto.ErrMaxSeedLengthExceeded), errors.Is(err, crypto.ErrInvalidSeeds):
		return "invalid_seeds"
	case errors.Is(err, market.ErrListingExists):
		return "listing_exists"
	case errors.Is(err, market.ErrListingNotFound), errors.Is(err, token.ErrAccountNotFound), errors.Is(err, token.ErrMintNotFound):
		return "not_found"
	case errors.Is(err, market.ErrAddressMismatch), errors.Is(err, market.ErrSellerAccountMismatch), errors.Is(err, token.ErrOwnerMismatch):
		return "account_mismatch"
	case errors.Is(err, runtime.ErrMissingSignature):
		return "missing_signature"
	case errors.Is(err, common.ErrModulePaused):
		return "paused"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
