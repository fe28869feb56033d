package market

import (
	"fmt"

	"escrowmarket/crypto"
	"escrowmarket/native/token"
)

// ListingSeedTag prefixes every listing derivation.
const ListingSeedTag = "listing"

// DefaultProgramID is the marketplace program unless configuration overrides it.
var DefaultProgramID = crypto.HashToAddress([]byte("escrowmarket/program/market"))

func listingSeeds(seller crypto.Address, itemID string) [][]byte {
	return [][]byte{[]byte(ListingSeedTag), seller[:], []byte(itemID)}
}

// ListingAddress derives the address of the listing for (seller, itemID) under
// program together with its bump.
func ListingAddress(program, seller crypto.Address, itemID string) (crypto.Address, uint8, error) {
	return crypto.FindProgramAddress(listingSeeds(seller, itemID), program)
}

// VaultAddress derives the vault of a listing: the listing's associated
// holding account for the escrowed unit.
func VaultAddress(listing, assetUnit crypto.Address) (crypto.Address, error) {
	return token.AssociatedAddress(listing, assetUnit)
}

// verifyListingAddress re-derives a stored listing from its recorded seeds and
// bump and requires the result to be addr.
func verifyListingAddress(program crypto.Address, addr crypto.Address, l *Listing) error {
	derived, err := crypto.CreateProgramAddress(listingSeeds(l.Seller, l.ItemID), l.Bump, program)
	if err != nil || derived != addr {
		return fmt.Errorf("%w: listing %s", ErrAddressMismatch, addr)
	}
	return nil
}
