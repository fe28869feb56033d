package market

import (
	"fmt"
	"strings"

	"escrowmarket/crypto"
)

// Status is the listing lifecycle state. The only transition is Open → Sold.
type Status uint8

const (
	StatusOpen Status = iota
	StatusSold
)

func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusSold
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusSold:
		return "sold"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Variant selects how settlement treats the seller's asset.
type Variant uint8

const (
	// VariantNoEscrow moves only the payment; asset delivery happens off
	// protocol.
	VariantNoEscrow Variant = iota + 1
	// VariantFullEscrow custodies the asset in a vault from list until buy.
	VariantFullEscrow
)

func (v Variant) String() string {
	switch v {
	case VariantNoEscrow:
		return "no-escrow"
	case VariantFullEscrow:
		return "full-escrow"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// ParseVariant accepts the configuration spellings of a variant.
func ParseVariant(raw string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "no-escrow", "noescrow", "payment-only":
		return VariantNoEscrow, nil
	case "full-escrow", "fullescrow", "escrow", "":
		return VariantFullEscrow, nil
	default:
		return 0, fmt.Errorf("market: unknown variant %q", raw)
	}
}

// Listing is the persistent record of one seller's offer of one item. Address
// is not persisted; it is the derived address the record was loaded from.
type Listing struct {
	Address   crypto.Address
	Variant   Variant
	Seller    crypto.Address
	Buyer     *crypto.Address
	ItemID    string
	Price     uint64
	AssetUnit crypto.Address
	Rarity    string
	CardType  string
	Status    Status
	Bump      uint8
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Buyer != nil {
		buyer := *l.Buyer
		clone.Buyer = &buyer
	}
	return &clone
}

// ListRequest carries the inputs of a list call. AssetUnit and SellerAsset are
// used by the full-escrow variant; Rarity and CardType by the no-escrow variant.
type ListRequest struct {
	Seller      crypto.Address
	ItemID      string
	Price       uint64
	AssetUnit   crypto.Address
	SellerAsset crypto.Address
	Rarity      string
	CardType    string
}

// BuyRequest carries the inputs of a buy call. BuyerAsset and Vault are used by
// the full-escrow variant.
type BuyRequest struct {
	Buyer         crypto.Address
	Listing       crypto.Address
	BuyerPayment  crypto.Address
	SellerPayment crypto.Address
	BuyerAsset    crypto.Address
	Vault         crypto.Address
}
