package market

import (
	"fmt"

	"escrowmarket/core/runtime"
	"escrowmarket/crypto"
	"escrowmarket/native/token"
)

// DefaultEscrowQuantity is the number of asset units a full-escrow listing
// locks in its vault.
const DefaultEscrowQuantity uint64 = 1

// Settlement carries the variant-specific steps of list and buy. The engine
// runs the shared steps and calls into the strategy where the variants differ.
type Settlement interface {
	Variant() Variant

	validate(req ListRequest) error
	populate(l *Listing, req ListRequest) error
	listAccounts(listing crypto.Address, req ListRequest) ([]crypto.Address, error)
	buyAccounts(req BuyRequest) []crypto.Address
	open(c *runtime.Context, ledger *token.Ledger, l *Listing, req ListRequest) error
	precheck(c *runtime.Context, ledger *token.Ledger, l *Listing, req BuyRequest) error
	release(c *runtime.Context, ledger *token.Ledger, l *Listing, req BuyRequest) error
}

// NewSettlement returns the strategy for variant. quantity only applies to the
// full-escrow variant; zero selects DefaultEscrowQuantity.
func NewSettlement(variant Variant, quantity uint64) (Settlement, error) {
	switch variant {
	case VariantNoEscrow:
		return NoEscrow(), nil
	case VariantFullEscrow:
		return FullEscrow(quantity), nil
	default:
		return nil, fmt.Errorf("market: unsupported variant %d", variant)
	}
}

type noEscrow struct{}

// NoEscrow settles payment only. The listing carries cosmetic metadata and the
// asset itself is delivered outside the protocol.
func NoEscrow() Settlement { return noEscrow{} }

func (noEscrow) Variant() Variant { return VariantNoEscrow }

func (noEscrow) validate(ListRequest) error { return nil }

func (noEscrow) populate(l *Listing, req ListRequest) error {
	l.Rarity = req.Rarity
	l.CardType = req.CardType
	return nil
}

func (noEscrow) listAccounts(listing crypto.Address, _ ListRequest) ([]crypto.Address, error) {
	return []crypto.Address{listing}, nil
}

func (noEscrow) buyAccounts(req BuyRequest) []crypto.Address {
	return []crypto.Address{req.Listing, req.BuyerPayment, req.SellerPayment}
}

func (noEscrow) open(*runtime.Context, *token.Ledger, *Listing, ListRequest) error {
	return nil
}

func (noEscrow) precheck(c *runtime.Context, ledger *token.Ledger, l *Listing, req BuyRequest) error {
	payment, err := ledger.Account(c, req.BuyerPayment)
	if err != nil {
		return err
	}
	if payment.Amount < l.Price {
		return fmt.Errorf("%w: balance %d below price %d", ErrInsufficientFunds, payment.Amount, l.Price)
	}
	return nil
}

func (noEscrow) release(*runtime.Context, *token.Ledger, *Listing, BuyRequest) error {
	return nil
}

type fullEscrow struct {
	quantity uint64
}

// FullEscrow locks quantity units of the listed asset in a vault owned by the
// listing address and releases them to the buyer in the same invocation that
// moves the payment.
func FullEscrow(quantity uint64) Settlement {
	if quantity == 0 {
		quantity = DefaultEscrowQuantity
	}
	return fullEscrow{quantity: quantity}
}

func (fullEscrow) Variant() Variant { return VariantFullEscrow }

// Quantity reports the escrowed amount per listing.
func (s fullEscrow) Quantity() uint64 { return s.quantity }

func (fullEscrow) validate(req ListRequest) error {
	if len(req.ItemID) > MaxItemIDLength {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrItemIDTooLong, len(req.ItemID), MaxItemIDLength)
	}
	return nil
}

func (s fullEscrow) populate(l *Listing, req ListRequest) error {
	if err := s.validate(req); err != nil {
		return err
	}
	l.AssetUnit = req.AssetUnit
	return nil
}

func (fullEscrow) listAccounts(listing crypto.Address, req ListRequest) ([]crypto.Address, error) {
	vault, err := VaultAddress(listing, req.AssetUnit)
	if err != nil {
		return nil, err
	}
	return []crypto.Address{listing, vault, req.SellerAsset}, nil
}

func (fullEscrow) buyAccounts(req BuyRequest) []crypto.Address {
	return []crypto.Address{req.Listing, req.BuyerPayment, req.SellerPayment, req.Vault, req.BuyerAsset}
}

func (s fullEscrow) open(c *runtime.Context, ledger *token.Ledger, l *Listing, req ListRequest) error {
	vault, err := VaultAddress(l.Address, l.AssetUnit)
	if err != nil {
		return err
	}
	if _, err := ledger.OpenAccount(c, vault, l.AssetUnit, l.Address); err != nil {
		return err
	}
	return ledger.Transfer(c, req.SellerAsset, vault, s.quantity, l.Seller)
}

func (s fullEscrow) precheck(c *runtime.Context, ledger *token.Ledger, l *Listing, req BuyRequest) error {
	vault, err := VaultAddress(l.Address, l.AssetUnit)
	if err != nil {
		return err
	}
	if req.Vault != vault {
		return fmt.Errorf("%w: vault %s, expected %s", ErrAddressMismatch, req.Vault, vault)
	}
	held, err := ledger.Account(c, vault)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssetMissing, err)
	}
	if held.Amount < s.quantity {
		return fmt.Errorf("%w: vault holds %d of %d", ErrAssetMissing, held.Amount, s.quantity)
	}
	for _, addr := range []crypto.Address{req.BuyerPayment, req.SellerPayment} {
		payment, err := ledger.Account(c, addr)
		if err != nil {
			return err
		}
		if payment.Mint != l.AssetUnit {
			return fmt.Errorf("%w: %s holds %s, listing expects %s", ErrWrongPaymentUnit, addr, payment.Mint, l.AssetUnit)
		}
	}
	return nil
}

func (s fullEscrow) release(c *runtime.Context, ledger *token.Ledger, l *Listing, req BuyRequest) error {
	signed, authority, err := c.InvokeSigned(listingSeeds(l.Seller, l.ItemID), l.Bump)
	if err != nil {
		return err
	}
	if authority != l.Address {
		return fmt.Errorf("%w: listing %s", ErrAddressMismatch, l.Address)
	}
	return ledger.Transfer(signed, req.Vault, req.BuyerAsset, s.quantity, authority)
}
