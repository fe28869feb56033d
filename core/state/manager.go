package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"escrowmarket/crypto"
	"escrowmarket/storage"
)

var (
	ErrAccountExists        = errors.New("state: account already exists")
	ErrAccountNotFound      = errors.New("state: account not found")
	ErrOwnerProgramMismatch = errors.New("state: account owned by another program")
)

var accountPrefix = []byte("account:")

// Account is the unit of persisted state: an opaque data blob owned by the
// program allowed to mutate it.
type Account struct {
	Owner crypto.Address
	Data  []byte
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	return &Account{Owner: a.Owner, Data: append([]byte(nil), a.Data...)}
}

func accountKey(addr crypto.Address) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

// Manager buffers account writes on top of a database. Nothing reaches the
// database until Commit, which applies every buffered write in one batch.
//
// Manager is not safe for concurrent use; the runtime creates one per
// invocation.
type Manager struct {
	db    storage.Database
	dirty map[crypto.Address]*Account
	order []crypto.Address
}

// NewManager creates a state manager reading through to db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[crypto.Address]*Account)}
}

func (m *Manager) load(addr crypto.Address) (*Account, error) {
	if acc, ok := m.dirty[addr]; ok {
		return acc, nil
	}
	if m.db == nil {
		return nil, fmt.Errorf("state: database not configured")
	}
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	acc := new(Account)
	if err := rlp.DecodeBytes(raw, acc); err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", addr, err)
	}
	return acc, nil
}

func (m *Manager) stage(addr crypto.Address, acc *Account) {
	if _, ok := m.dirty[addr]; !ok {
		m.order = append(m.order, addr)
	}
	m.dirty[addr] = acc
}

// Get returns a copy of the account stored at addr.
func (m *Manager) Get(addr crypto.Address) (*Account, error) {
	acc, err := m.load(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return acc.Clone(), nil
}

// Exists reports whether an account is stored at addr.
func (m *Manager) Exists(addr crypto.Address) (bool, error) {
	acc, err := m.load(addr)
	if err != nil {
		return false, err
	}
	return acc != nil, nil
}

// Create stores a new account owned by owner. It fails with ErrAccountExists
// when addr is already in use.
func (m *Manager) Create(addr, owner crypto.Address, data []byte) error {
	existing, err := m.load(addr)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrAccountExists, addr)
	}
	m.stage(addr, &Account{Owner: owner, Data: append([]byte(nil), data...)})
	return nil
}

// Update replaces the data of an existing account. Only the owning program
// may update an account.
func (m *Manager) Update(addr, program crypto.Address, data []byte) error {
	existing, err := m.load(addr)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if existing.Owner != program {
		return fmt.Errorf("%w: %s", ErrOwnerProgramMismatch, addr)
	}
	m.stage(addr, &Account{Owner: existing.Owner, Data: append([]byte(nil), data...)})
	return nil
}

// Dirty returns the addresses written so far in write order.
func (m *Manager) Dirty() []crypto.Address {
	return append([]crypto.Address(nil), m.order...)
}

// Commit writes every buffered account in a single atomic batch and clears the
// buffer.
func (m *Manager) Commit() error {
	if len(m.order) == 0 {
		return nil
	}
	batch := m.db.NewBatch()
	for _, addr := range m.order {
		encoded, err := rlp.EncodeToBytes(m.dirty[addr])
		if err != nil {
			return fmt.Errorf("state: encode account %s: %w", addr, err)
		}
		batch.Put(accountKey(addr), encoded)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.Discard()
	return nil
}

// Discard drops every buffered write.
func (m *Manager) Discard() {
	m.dirty = make(map[crypto.Address]*Account)
	m.order = nil
}
