package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"escrowmarket/core/events"
	"escrowmarket/core/state"
	"escrowmarket/crypto"
	"escrowmarket/storage"
)

var errNilDatabase = errors.New("runtime: database not configured")

// Invocation describes one externally submitted unit of work: who signed it
// and which accounts it may write. Accounts outside Writable are readable but
// any write to them fails.
type Invocation struct {
	ID       string
	Signers  []crypto.Address
	Writable []crypto.Address
}

// Runtime executes invocations with all-or-nothing semantics. Every write an
// invocation makes is buffered and lands in the database as one batch only if
// the invocation returns nil; otherwise nothing is written and nothing is
// emitted.
type Runtime struct {
	db      storage.Database
	locks   *lockTable
	emitter events.Emitter
	logger  *slog.Logger
}

// New creates a runtime over db with a no-op emitter.
func New(db storage.Database) *Runtime {
	return &Runtime{
		db:      db,
		locks:   newLockTable(),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

// SetEmitter configures the sink for committed events. Passing nil resets the
// emitter to a no-op implementation.
func (r *Runtime) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetLogger overrides the logger used for commit diagnostics.
func (r *Runtime) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.logger = logger
}

// Execute runs fn as program inside a fresh invocation. It blocks until every
// writable account is locked or ctx is done.
func (r *Runtime) Execute(ctx context.Context, inv Invocation, program crypto.Address, fn func(*Context) error) error {
	if r == nil || r.db == nil {
		return errNilDatabase
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	id := inv.ID
	if id == "" {
		id = uuid.NewString()
	}
	writable := canonicalAddresses(inv.Writable)
	release, err := r.locks.acquire(ctx, writable)
	if err != nil {
		return fmt.Errorf("runtime: lock accounts for %s: %w", id, err)
	}
	defer release()

	st := &invocationState{
		id:       id,
		state:    state.NewManager(r.db),
		writable: make(map[crypto.Address]struct{}, len(writable)),
	}
	for _, addr := range writable {
		st.writable[addr] = struct{}{}
	}
	c := newContext(ctx, st, program, inv.Signers)
	if err := fn(c); err != nil {
		st.state.Discard()
		r.logger.Debug("invocation rolled back", slog.String("invocation", id), slog.String("error", err.Error()))
		return err
	}
	dirty := len(st.state.Dirty())
	if err := st.state.Commit(); err != nil {
		return fmt.Errorf("runtime: commit %s: %w", id, err)
	}
	for i, evt := range st.events {
		r.emitter.Emit(events.Envelope{InvocationID: id, Sequence: i, Payload: evt})
	}
	r.logger.Debug("invocation committed",
		slog.String("invocation", id),
		slog.Int("accounts", dirty),
		slog.Int("events", len(st.events)))
	return nil
}

// View runs fn against committed state without the ability to write.
func (r *Runtime) View(ctx context.Context, program crypto.Address, fn func(*Context) error) error {
	if r == nil || r.db == nil {
		return errNilDatabase
	}
	if ctx == nil {
		ctx = context.Background()
	}
	st := &invocationState{
		id:       uuid.NewString(),
		state:    state.NewManager(r.db),
		readOnly: true,
	}
	return fn(newContext(ctx, st, program, nil))
}
