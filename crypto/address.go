package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressLength is the size in bytes of every account identifier.
const AddressLength = 32

var errAddressLength = errors.New("crypto: address must be 32 bytes")

// Address identifies an account. Addresses of key pairs are x-only secp256k1
// public keys; derived addresses are hashes that are deliberately not on the
// curve and therefore have no private key.
type Address [AddressLength]byte

// String renders the address in base58.
func (a Address) String() string { return base58.Encode(a[:]) }

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte { return append([]byte(nil), a[:]...) }

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool { return a == Address{} }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AddressFromBytes copies a 32-byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var addr Address
	if len(b) != AddressLength {
		return addr, errAddressLength
	}
	copy(addr[:], b)
	return addr, nil
}

// ParseAddress accepts either the base58 form or a 0x-prefixed hex string.
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Address{}, fmt.Errorf("crypto: empty address")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return Address{}, fmt.Errorf("crypto: decode hex address: %w", err)
		}
		return AddressFromBytes(decoded)
	}
	decoded := base58.Decode(trimmed)
	if len(decoded) == 0 {
		return Address{}, fmt.Errorf("crypto: invalid base58 address %q", trimmed)
	}
	return AddressFromBytes(decoded)
}

// MustParseAddress is ParseAddress for constants; it panics on error.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// HashToAddress returns keccak256 over the concatenated parts. It is used for
// well-known program identifiers.
func HashToAddress(parts ...[]byte) Address {
	var addr Address
	copy(addr[:], ethcrypto.Keccak256(parts...))
	return addr
}

// IsOnCurve reports whether b is the x-coordinate of a secp256k1 point, i.e.
// whether some private key could control it.
func IsOnCurve(b []byte) bool {
	if len(b) != AddressLength {
		return false
	}
	compressed := make([]byte, 0, AddressLength+1)
	compressed = append(compressed, 0x02)
	compressed = append(compressed, b...)
	_, err := ethcrypto.DecompressPubkey(compressed)
	return err == nil
}
