package token

import (
	"errors"
	"fmt"
	"math"

	"escrowmarket/core/runtime"
	"escrowmarket/core/state"
	"escrowmarket/crypto"
)

var (
	ErrAccountNotFound   = errors.New("token: account not found")
	ErrMintNotFound      = errors.New("token: mint not found")
	ErrNotTokenAccount   = errors.New("token: account not owned by the token program")
	ErrOwnerMismatch     = errors.New("token: authority does not own the source account")
	ErrMintMismatch      = errors.New("token: source and destination mints differ")
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	ErrOverflow          = errors.New("token: amount overflow")
)

var (
	// ProgramID owns every mint and holding account.
	ProgramID = crypto.HashToAddress([]byte("escrowmarket/program/token"))
	// AssociatedProgramID is the derivation namespace for associated accounts.
	AssociatedProgramID = crypto.HashToAddress([]byte("escrowmarket/program/associated-token"))
)

// AssociatedAddress derives the canonical holding account of owner for mint.
func AssociatedAddress(owner, mint crypto.Address) (crypto.Address, error) {
	addr, _, err := crypto.FindProgramAddress([][]byte{owner[:], ProgramID[:], mint[:]}, AssociatedProgramID)
	return addr, err
}

// MintAddress derives the address of the mint named name under authority.
func MintAddress(authority crypto.Address, name string) (crypto.Address, error) {
	addr, _, err := crypto.FindProgramAddress([][]byte{[]byte("mint"), authority[:], []byte(name)}, ProgramID)
	return addr, err
}

// Ledger moves fungible units between holding accounts. It keeps no state of
// its own; every call operates on the invocation context it is given, so its
// writes commit or roll back together with the caller's.
type Ledger struct{}

// NewLedger returns a ledger.
func NewLedger() *Ledger { return &Ledger{} }

func (l *Ledger) loadMint(c *runtime.Context, addr crypto.Address) (*Mint, error) {
	acc, err := c.Get(addr)
	if errors.Is(err, state.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMintNotFound, addr)
	}
	if err != nil {
		return nil, err
	}
	if acc.Owner != ProgramID {
		return nil, fmt.Errorf("%w: %s", ErrNotTokenAccount, addr)
	}
	mint, err := decodeMint(acc.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMintNotFound, addr)
	}
	return mint, nil
}

func (l *Ledger) loadAccount(c *runtime.Context, addr crypto.Address) (*Account, error) {
	acc, err := c.Get(addr)
	if errors.Is(err, state.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if err != nil {
		return nil, err
	}
	if acc.Owner != ProgramID {
		return nil, fmt.Errorf("%w: %s", ErrNotTokenAccount, addr)
	}
	holding, err := decodeAccount(acc.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return holding, nil
}

func (l *Ledger) storeAccount(c *runtime.Context, addr crypto.Address, holding *Account) error {
	encoded, err := encodeAccount(holding)
	if err != nil {
		return err
	}
	return c.WithProgram(ProgramID).Update(addr, encoded)
}

// Account returns the holding account stored at addr.
func (l *Ledger) Account(c *runtime.Context, addr crypto.Address) (*Account, error) {
	return l.loadAccount(c, addr)
}

// MintInfo returns the mint stored at addr.
func (l *Ledger) MintInfo(c *runtime.Context, addr crypto.Address) (*Mint, error) {
	return l.loadMint(c, addr)
}

// CreateMint registers a new unit type at addr. The authority must sign.
func (l *Ledger) CreateMint(c *runtime.Context, addr, authority crypto.Address, decimals uint8) (*Mint, error) {
	if err := c.RequireSigner(authority); err != nil {
		return nil, err
	}
	mint := &Mint{Authority: authority, Decimals: decimals}
	encoded, err := encodeMint(mint)
	if err != nil {
		return nil, err
	}
	if err := c.WithProgram(ProgramID).Create(addr, encoded); err != nil {
		return nil, err
	}
	return mint.Clone(), nil
}

// OpenAccount creates an empty holding account at addr for mint, controlled by
// owner. It fails if addr is already in use.
func (l *Ledger) OpenAccount(c *runtime.Context, addr, mint, owner crypto.Address) (*Account, error) {
	if _, err := l.loadMint(c, mint); err != nil {
		return nil, err
	}
	holding := &Account{Mint: mint, Owner: owner}
	encoded, err := encodeAccount(holding)
	if err != nil {
		return nil, err
	}
	if err := c.WithProgram(ProgramID).Create(addr, encoded); err != nil {
		return nil, err
	}
	return holding.Clone(), nil
}

// MintTo issues amount new units of mint into the holding account to. The mint
// authority must sign.
func (l *Ledger) MintTo(c *runtime.Context, mintAddr, to crypto.Address, amount uint64) error {
	mint, err := l.loadMint(c, mintAddr)
	if err != nil {
		return err
	}
	if err := c.RequireSigner(mint.Authority); err != nil {
		return err
	}
	dest, err := l.loadAccount(c, to)
	if err != nil {
		return err
	}
	if dest.Mint != mintAddr {
		return ErrMintMismatch
	}
	if mint.Supply > math.MaxUint64-amount || dest.Amount > math.MaxUint64-amount {
		return ErrOverflow
	}
	mint.Supply += amount
	dest.Amount += amount
	encodedMint, err := encodeMint(mint)
	if err != nil {
		return err
	}
	if err := c.WithProgram(ProgramID).Update(mintAddr, encodedMint); err != nil {
		return err
	}
	if err := l.storeAccount(c, to, dest); err != nil {
		return err
	}
	c.Emit(NewMintEvent(mintAddr, to, amount))
	return nil
}

// Transfer moves amount units from one holding account to another. The
// authority must own the source account and must have signed the invocation,
// either with a key or as a program-derived signer.
func (l *Ledger) Transfer(c *runtime.Context, from, to crypto.Address, amount uint64, authority crypto.Address) error {
	source, err := l.loadAccount(c, from)
	if err != nil {
		return err
	}
	dest, err := l.loadAccount(c, to)
	if err != nil {
		return err
	}
	if source.Owner != authority {
		return fmt.Errorf("%w: %s", ErrOwnerMismatch, from)
	}
	if err := c.RequireSigner(authority); err != nil {
		return err
	}
	if source.Mint != dest.Mint {
		return ErrMintMismatch
	}
	if source.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, source.Amount, amount)
	}
	if from == to {
		c.Emit(NewTransferEvent(source.Mint, from, to, authority, amount))
		return nil
	}
	if dest.Amount > math.MaxUint64-amount {
		return ErrOverflow
	}
	source.Amount -= amount
	dest.Amount += amount
	if err := l.storeAccount(c, from, source); err != nil {
		return err
	}
	if err := l.storeAccount(c, to, dest); err != nil {
		return err
	}
	c.Emit(NewTransferEvent(source.Mint, from, to, authority, amount))
	return nil
}
