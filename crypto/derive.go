package crypto

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxSeeds bounds the number of seeds accepted by the deriver, excluding
	// the bump.
	MaxSeeds = 16
	// MaxSeedLength bounds each individual seed.
	MaxSeedLength = 64
)

var (
	ErrMaxSeedLengthExceeded = errors.New("crypto: derivation seeds exceed length limits")
	ErrInvalidSeeds          = errors.New("crypto: derived address lies on the curve")
	ErrNoViableBump          = errors.New("crypto: no viable bump for derivation")
)

var derivedAddressMarker = []byte("ProgramDerivedAddress")

// CreateProgramAddress derives the keyless address for seeds, bump and the
// owning program. Only a result that is off the secp256k1 curve is accepted so
// that no private key can ever sign for it.
func CreateProgramAddress(seeds [][]byte, bump byte, program Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, ErrMaxSeedLengthExceeded
	}
	parts := make([][]byte, 0, len(seeds)+3)
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Address{}, ErrMaxSeedLengthExceeded
		}
		parts = append(parts, seed)
	}
	parts = append(parts, []byte{bump}, program[:], derivedAddressMarker)
	hash := ethcrypto.Keccak256(parts...)
	if IsOnCurve(hash) {
		return Address{}, ErrInvalidSeeds
	}
	var addr Address
	copy(addr[:], hash)
	return addr, nil
}

// FindProgramAddress searches bumps from 255 downwards and returns the first
// keyless address together with the bump that produced it.
func FindProgramAddress(seeds [][]byte, program Address) (Address, byte, error) {
	for bump := 255; bump >= 0; bump-- {
		addr, err := CreateProgramAddress(seeds, byte(bump), program)
		switch {
		case err == nil:
			return addr, byte(bump), nil
		case errors.Is(err, ErrInvalidSeeds):
			continue
		default:
			return Address{}, 0, err
		}
	}
	return Address{}, 0, ErrNoViableBump
}
