package market

import (
	"errors"
	"fmt"

	"escrowmarket/core/runtime"
	"escrowmarket/core/state"
	"escrowmarket/crypto"
	"escrowmarket/native/common"
	"escrowmarket/native/token"
)

// Engine implements list and buy on top of the runtime and the token ledger.
// It holds no mutable state; every call works on the invocation context it is
// handed and relies on the runtime for atomicity and serialization.
type Engine struct {
	programID  crypto.Address
	ledger     *token.Ledger
	settlement Settlement
	pauses     common.PauseView
}

// ModuleName is the pause switch consulted by List and Buy.
const ModuleName = "market"

// NewEngine returns an engine settling through the provided strategy.
func NewEngine(ledger *token.Ledger, settlement Settlement) *Engine {
	return &Engine{programID: DefaultProgramID, ledger: ledger, settlement: settlement}
}

// SetProgramID changes the program under which listings are derived and owned.
func (e *Engine) SetProgramID(id crypto.Address) {
	if e == nil || id.IsZero() {
		return
	}
	e.programID = id
}

// ProgramID returns the marketplace program address.
func (e *Engine) ProgramID() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.programID
}

// Variant reports the configured settlement variant.
func (e *Engine) Variant() Variant {
	if e == nil || e.settlement == nil {
		return 0
	}
	return e.settlement.Variant()
}

// SetPauses installs the pause switches. While ModuleName is paused, List and
// Buy fail with common.ErrModulePaused and reads keep working.
func (e *Engine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Settlement returns the configured strategy.
func (e *Engine) Settlement() Settlement {
	if e == nil {
		return nil
	}
	return e.settlement
}

func (e *Engine) ready() error {
	if e == nil || e.ledger == nil {
		return errNilEngine
	}
	if e.settlement == nil {
		return errNilSettlement
	}
	return nil
}

// ListingAddress derives the listing address for (seller, itemID) under the
// engine's program.
func (e *Engine) ListingAddress(seller crypto.Address, itemID string) (crypto.Address, uint8, error) {
	if err := e.ready(); err != nil {
		return crypto.Address{}, 0, err
	}
	return ListingAddress(e.programID, seller, itemID)
}

// ListAccounts returns the accounts a list call writes. Variant checks on the
// request run first so an oversized item id is reported as such rather than as
// a derivation failure.
func (e *Engine) ListAccounts(req ListRequest) ([]crypto.Address, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.settlement.validate(req); err != nil {
		return nil, err
	}
	addr, _, err := e.ListingAddress(req.Seller, req.ItemID)
	if err != nil {
		return nil, err
	}
	return e.settlement.listAccounts(addr, req)
}

// BuyAccounts returns the accounts a buy call writes.
func (e *Engine) BuyAccounts(req BuyRequest) ([]crypto.Address, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.settlement.buyAccounts(req), nil
}

// Listing loads the listing stored at addr.
func (e *Engine) Listing(c *runtime.Context, addr crypto.Address) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	acc, err := c.Get(addr)
	if errors.Is(err, state.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrListingNotFound, addr)
	}
	if err != nil {
		return nil, err
	}
	if acc.Owner != e.programID {
		return nil, fmt.Errorf("%w: %s not owned by the market program", ErrListingNotFound, addr)
	}
	listing, err := DecodeListing(acc.Data)
	if err != nil {
		return nil, err
	}
	listing.Address = addr
	return listing, nil
}

// List opens a listing for req.Seller. In the full-escrow variant the
// listing's vault is created and funded from req.SellerAsset in the same
// invocation.
func (e *Engine) List(c *runtime.Context, req ListRequest) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	c = c.WithProgram(e.programID)
	if err := c.RequireSigner(req.Seller); err != nil {
		return nil, err
	}
	listing := &Listing{
		Variant: e.settlement.Variant(),
		Seller:  req.Seller,
		ItemID:  req.ItemID,
		Price:   req.Price,
		Status:  StatusOpen,
	}
	if err := e.settlement.populate(listing, req); err != nil {
		return nil, err
	}
	addr, bump, err := ListingAddress(e.programID, req.Seller, req.ItemID)
	if err != nil {
		return nil, err
	}
	listing.Address = addr
	listing.Bump = bump

	encoded, err := EncodeListing(listing)
	if err != nil {
		return nil, err
	}
	if err := c.Create(addr, encoded); err != nil {
		if errors.Is(err, state.ErrAccountExists) {
			return nil, fmt.Errorf("%w: %v", ErrListingExists, err)
		}
		return nil, err
	}
	if err := e.settlement.open(c, e.ledger, listing, req); err != nil {
		return nil, err
	}
	c.Emit(NewListedEvent(listing))
	return listing.Clone(), nil
}

// Buy settles an open listing: the price moves from the buyer to the seller,
// the full-escrow variant releases the vault to the buyer under the listing's
// derived authority, and the listing is marked sold.
func (e *Engine) Buy(c *runtime.Context, req BuyRequest) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	c = c.WithProgram(e.programID)
	listing, err := e.Listing(c, req.Listing)
	if err != nil {
		return nil, err
	}
	if listing.Variant != e.settlement.Variant() {
		return nil, fmt.Errorf("%w: %s record under %s engine", ErrInvalidListing, listing.Variant, e.settlement.Variant())
	}
	if err := verifyListingAddress(e.programID, req.Listing, listing); err != nil {
		return nil, err
	}
	if err := c.RequireSigner(req.Buyer); err != nil {
		return nil, err
	}
	if listing.Status != StatusOpen {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySold, req.Listing)
	}
	if err := e.settlement.precheck(c, e.ledger, listing, req); err != nil {
		return nil, err
	}
	sellerPayment, err := e.ledger.Account(c, req.SellerPayment)
	if err != nil {
		return nil, err
	}
	if sellerPayment.Owner != listing.Seller {
		return nil, fmt.Errorf("%w: %s owned by %s", ErrSellerAccountMismatch, req.SellerPayment, sellerPayment.Owner)
	}

	if err := e.ledger.Transfer(c, req.BuyerPayment, req.SellerPayment, listing.Price, req.Buyer); err != nil {
		return nil, err
	}
	if err := e.settlement.release(c, e.ledger, listing, req); err != nil {
		return nil, err
	}

	buyer := req.Buyer
	listing.Buyer = &buyer
	listing.Status = StatusSold
	encoded, err := EncodeListing(listing)
	if err != nil {
		return nil, err
	}
	if err := c.Update(req.Listing, encoded); err != nil {
		return nil, err
	}
	c.Emit(NewBoughtEvent(listing))
	return listing.Clone(), nil
}
