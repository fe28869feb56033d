package runtime

import (
	"context"
	"errors"
	"fmt"

	"escrowmarket/core/state"
	"escrowmarket/core/types"
	"escrowmarket/crypto"
)

var (
	ErrMissingSignature   = errors.New("runtime: missing required signature")
	ErrAccountNotWritable = errors.New("runtime: account not declared writable")
)

type invocationState struct {
	id       string
	state    *state.Manager
	writable map[crypto.Address]struct{}
	readOnly bool
	events   []*types.Event
}

// Context is the view of one invocation handed to program code. It exposes the
// invocation's signer set, the calling program and the buffered account state.
// Child contexts created by WithProgram and InvokeSigned share the same
// buffered state and event log.
type Context struct {
	ctx     context.Context
	inv     *invocationState
	program crypto.Address
	signers map[crypto.Address]struct{}
}

func newContext(ctx context.Context, inv *invocationState, program crypto.Address, signers []crypto.Address) *Context {
	set := make(map[crypto.Address]struct{}, len(signers))
	for _, s := range signers {
		set[s] = struct{}{}
	}
	return &Context{ctx: ctx, inv: inv, program: program, signers: set}
}

// Context returns the caller's context.Context.
func (c *Context) Context() context.Context { return c.ctx }

// InvocationID returns the identifier assigned to the running invocation.
func (c *Context) InvocationID() string { return c.inv.id }

// Program returns the program on whose behalf the context writes.
func (c *Context) Program() crypto.Address { return c.program }

// WithProgram returns a context for a cross-program call. Signer privileges of
// the caller carry over to the callee.
func (c *Context) WithProgram(program crypto.Address) *Context {
	return &Context{ctx: c.ctx, inv: c.inv, program: program, signers: c.signers}
}

// IsSigner reports whether addr authorised the invocation, either by signature
// or as an address derived by the running program.
func (c *Context) IsSigner(addr crypto.Address) bool {
	_, ok := c.signers[addr]
	return ok
}

// RequireSigner fails with ErrMissingSignature unless addr is a signer.
func (c *Context) RequireSigner(addr crypto.Address) error {
	if !c.IsSigner(addr) {
		return fmt.Errorf("%w: %s", ErrMissingSignature, addr)
	}
	return nil
}

// InvokeSigned returns a child context in which the address derived from
// seeds and bump under the current program also counts as a signer. This is
// the only way a keyless address can authorise anything: the program must
// reproduce the exact derivation inputs.
func (c *Context) InvokeSigned(seeds [][]byte, bump byte) (*Context, crypto.Address, error) {
	derived, err := crypto.CreateProgramAddress(seeds, bump, c.program)
	if err != nil {
		return nil, crypto.Address{}, err
	}
	set := make(map[crypto.Address]struct{}, len(c.signers)+1)
	for s := range c.signers {
		set[s] = struct{}{}
	}
	set[derived] = struct{}{}
	return &Context{ctx: c.ctx, inv: c.inv, program: c.program, signers: set}, derived, nil
}

// Get returns the account stored at addr.
func (c *Context) Get(addr crypto.Address) (*state.Account, error) {
	return c.inv.state.Get(addr)
}

// Exists reports whether an account is stored at addr.
func (c *Context) Exists(addr crypto.Address) (bool, error) {
	return c.inv.state.Exists(addr)
}

func (c *Context) requireWritable(addr crypto.Address) error {
	if c.inv.readOnly {
		return fmt.Errorf("%w: %s (read-only view)", ErrAccountNotWritable, addr)
	}
	if _, ok := c.inv.writable[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotWritable, addr)
	}
	return nil
}

// Create stores a new account owned by the current program.
func (c *Context) Create(addr crypto.Address, data []byte) error {
	if err := c.requireWritable(addr); err != nil {
		return err
	}
	return c.inv.state.Create(addr, c.program, data)
}

// Update rewrites an account owned by the current program.
func (c *Context) Update(addr crypto.Address, data []byte) error {
	if err := c.requireWritable(addr); err != nil {
		return err
	}
	return c.inv.state.Update(addr, c.program, data)
}

// Emit buffers an event. Buffered events reach the emitter only if the
// invocation commits.
func (c *Context) Emit(evt *types.Event) {
	if evt == nil {
		return
	}
	c.inv.events = append(c.inv.events, evt.Clone())
}
