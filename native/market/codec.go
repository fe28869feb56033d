package market

import (
	"bytes"
	"encoding/binary"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowmarket/crypto"
)

const (
	// MaxItemIDLength bounds item identifiers in the full-escrow layout.
	MaxItemIDLength = 50
	// ListingSpace is the fixed record size of a full-escrow listing:
	// discriminator, seller, buyer option, item id, price, asset unit,
	// status and bump.
	ListingSpace = 8 + 32 + (1 + 32) + (4 + MaxItemIDLength) + 8 + 32 + 1 + 1

	discriminatorLen = 8
)

var (
	listingDiscriminator        = discriminator("account:Listing")
	paymentListingDiscriminator = discriminator("account:PaymentListing")
)

func discriminator(name string) [discriminatorLen]byte {
	var out [discriminatorLen]byte
	copy(out[:], ethcrypto.Keccak256([]byte(name)))
	return out
}

// EncodeListing renders a listing in the persisted layout of its variant.
func EncodeListing(l *Listing) ([]byte, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: nil listing", ErrInvalidListing)
	}
	if !l.Status.Valid() {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidListing, l.Status)
	}
	var buf bytes.Buffer
	switch l.Variant {
	case VariantFullEscrow:
		if len(l.ItemID) > MaxItemIDLength {
			return nil, fmt.Errorf("%w: %d bytes", ErrItemIDTooLong, len(l.ItemID))
		}
		buf.Grow(ListingSpace)
		buf.Write(listingDiscriminator[:])
	case VariantNoEscrow:
		buf.Write(paymentListingDiscriminator[:])
	default:
		return nil, fmt.Errorf("%w: variant %d", ErrInvalidListing, l.Variant)
	}
	buf.Write(l.Seller[:])
	if l.Buyer != nil {
		buf.WriteByte(1)
		buf.Write(l.Buyer[:])
	} else {
		buf.WriteByte(0)
	}
	writeString(&buf, l.ItemID)
	writeUint64(&buf, l.Price)
	if l.Variant == VariantFullEscrow {
		buf.Write(l.AssetUnit[:])
	} else {
		writeString(&buf, l.Rarity)
		writeString(&buf, l.CardType)
	}
	buf.WriteByte(byte(l.Status))
	buf.WriteByte(l.Bump)
	if l.Variant == VariantFullEscrow {
		buf.Write(make([]byte, ListingSpace-buf.Len()))
	}
	return buf.Bytes(), nil
}

// DecodeListing parses a persisted listing. The variant is taken from the
// record's discriminator.
func DecodeListing(data []byte) (*Listing, error) {
	r := &reader{data: data}
	disc := r.next(discriminatorLen)
	if r.err != nil {
		return nil, r.fail("discriminator")
	}
	l := &Listing{}
	switch {
	case bytes.Equal(disc, listingDiscriminator[:]):
		l.Variant = VariantFullEscrow
	case bytes.Equal(disc, paymentListingDiscriminator[:]):
		l.Variant = VariantNoEscrow
	default:
		return nil, fmt.Errorf("%w: unknown discriminator %x", ErrInvalidListing, disc)
	}
	copy(l.Seller[:], r.next(32))
	switch flag := r.readByte(); flag {
	case 0:
	case 1:
		var buyer crypto.Address
		copy(buyer[:], r.next(32))
		l.Buyer = &buyer
	default:
		if r.err == nil {
			return nil, fmt.Errorf("%w: buyer flag %d", ErrInvalidListing, flag)
		}
	}
	l.ItemID = r.readString()
	l.Price = r.readUint64()
	if l.Variant == VariantFullEscrow {
		copy(l.AssetUnit[:], r.next(32))
	} else {
		l.Rarity = r.readString()
		l.CardType = r.readString()
	}
	l.Status = Status(r.readByte())
	l.Bump = r.readByte()
	if r.err != nil {
		return nil, r.fail("record")
	}
	if !l.Status.Valid() {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidListing, l.Status)
	}
	return l, nil
}

func writeString(buf *bytes.Buffer, s string) {
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(s)))
	buf.Write(size[:])
	buf.WriteString(s)
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], v)
	buf.Write(out[:])
}

type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = fmt.Errorf("short buffer at offset %d", r.off)
		return nil
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) readByte() byte {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) readUint64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) readString() string {
	b := r.next(4)
	if b == nil {
		return ""
	}
	size := binary.LittleEndian.Uint32(b)
	if uint64(size) > uint64(len(r.data)) {
		r.err = fmt.Errorf("string length %d exceeds record", size)
		return ""
	}
	return string(r.next(int(size)))
}

func (r *reader) fail(what string) error {
	return fmt.Errorf("%w: %s: %v", ErrInvalidListing, what, r.err)
}
