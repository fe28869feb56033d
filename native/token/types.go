package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"escrowmarket/crypto"
)

const (
	kindMint    byte = 0x01
	kindAccount byte = 0x02
)

var errRecordKind = errors.New("token: unexpected record kind")

// Mint describes a unit type. Only Authority may create new units.
type Mint struct {
	Authority crypto.Address
	Supply    uint64
	Decimals  uint8
}

// Account is a holding account for a single unit type. Owner is the identity
// allowed to authorise debits; for a vault it is a derived, keyless address.
type Account struct {
	Mint   crypto.Address
	Owner  crypto.Address
	Amount uint64
}

// Clone returns a copy of the mint.
func (m *Mint) Clone() *Mint {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// Clone returns a copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

func encodeRecord(kind byte, v interface{}) ([]byte, error) {
	payload, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, kind)
	return append(out, payload...), nil
}

func decodeRecord(kind byte, data []byte, v interface{}) error {
	if len(data) == 0 || data[0] != kind {
		return errRecordKind
	}
	if err := rlp.DecodeBytes(data[1:], v); err != nil {
		return fmt.Errorf("token: decode record: %w", err)
	}
	return nil
}

func encodeMint(m *Mint) ([]byte, error) { return encodeRecord(kindMint, m) }

func encodeAccount(a *Account) ([]byte, error) { return encodeRecord(kindAccount, a) }

func decodeMint(data []byte) (*Mint, error) {
	m := new(Mint)
	if err := decodeRecord(kindMint, data, m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeAccount(data []byte) (*Account, error) {
	a := new(Account)
	if err := decodeRecord(kindAccount, data, a); err != nil {
		return nil, err
	}
	return a, nil
}
