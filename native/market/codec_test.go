package market

import (
	"errors"
	"testing"

	"escrowmarket/crypto"
)

func TestFullEscrowLayoutIsFixedSize(t *testing.T) {
	buyer := addr("buyer")
	for _, l := range []*Listing{
		{Variant: VariantFullEscrow, Seller: addr("seller"), ItemID: "a", Price: 1, AssetUnit: addr("unit"), Bump: 254},
		{Variant: VariantFullEscrow, Seller: addr("seller"), Buyer: &buyer, ItemID: "card-042", Price: 100, AssetUnit: addr("unit"), Status: StatusSold, Bump: 255},
	} {
		encoded, err := EncodeListing(l)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if len(encoded) != ListingSpace {
			t.Fatalf("expected %d bytes, got %d", ListingSpace, len(encoded))
		}
		decoded, err := DecodeListing(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.ItemID != l.ItemID || decoded.Price != l.Price || decoded.Status != l.Status || decoded.Bump != l.Bump {
			t.Fatalf("decoded listing mismatch: %+v", decoded)
		}
		if (decoded.Buyer == nil) != (l.Buyer == nil) {
			t.Fatalf("buyer presence mismatch")
		}
	}
	if ListingSpace != 169 {
		t.Fatalf("unexpected record size %d", ListingSpace)
	}
}

func TestPaymentListingLayoutFollowsStrings(t *testing.T) {
	l := &Listing{Variant: VariantNoEscrow, Seller: addr("seller"), ItemID: "card-9", Price: 7, Rarity: "mythic", CardType: "spell"}
	encoded, err := EncodeListing(l)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := 8 + 32 + 1 + (4 + 6) + 8 + (4 + 6) + (4 + 5) + 1 + 1
	if len(encoded) != want {
		t.Fatalf("expected %d bytes, got %d", want, len(encoded))
	}
	decoded, err := DecodeListing(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Variant != VariantNoEscrow || decoded.Rarity != "mythic" || decoded.CardType != "spell" {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
}

func TestDecodeRejectsMalformedRecords(t *testing.T) {
	valid, err := EncodeListing(&Listing{Variant: VariantFullEscrow, Seller: addr("s"), ItemID: "x", AssetUnit: addr("u")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cases := map[string][]byte{
		"empty":         nil,
		"discriminator": append([]byte("notalist"), valid[8:]...),
		"truncated":     valid[:60],
	}
	badFlag := append([]byte(nil), valid...)
	badFlag[8+32] = 7
	cases["buyer flag"] = badFlag

	for name, data := range cases {
		if _, err := DecodeListing(data); !errors.Is(err, ErrInvalidListing) {
			t.Fatalf("%s: expected ErrInvalidListing, got %v", name, err)
		}
	}
}

func TestEncodeRejectsOversizedItem(t *testing.T) {
	long := make([]byte, MaxItemIDLength+1)
	for i := range long {
		long[i] = 'q'
	}
	_, err := EncodeListing(&Listing{Variant: VariantFullEscrow, Seller: crypto.Address{1}, ItemID: string(long)})
	if !errors.Is(err, ErrItemIDTooLong) {
		t.Fatalf("expected ErrItemIDTooLong, got %v", err)
	}
}
