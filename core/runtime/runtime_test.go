package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"escrowmarket/core/events"
	"escrowmarket/core/state"
	"escrowmarket/core/types"
	"escrowmarket/crypto"
	"escrowmarket/storage"
)

var testProgram = crypto.HashToAddress([]byte("program:runtime-test"))

func newTestRuntime(t *testing.T) (*Runtime, *events.Recorder) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	rt := New(db)
	rec := &events.Recorder{}
	rt.SetEmitter(rec)
	return rt, rec
}

func addr(label string) crypto.Address { return crypto.HashToAddress([]byte(label)) }

func TestExecuteCommitsWritesAndEvents(t *testing.T) {
	rt, rec := newTestRuntime(t)
	a := addr("a")
	err := rt.Execute(context.Background(), Invocation{ID: "inv-1", Writable: []crypto.Address{a}}, testProgram, func(c *Context) error {
		require.Equal(t, "inv-1", c.InvocationID())
		if err := c.Create(a, []byte("hello")); err != nil {
			return err
		}
		c.Emit(&types.Event{Type: "test.created", Attributes: map[string]string{"k": "v"}})
		return nil
	})
	require.NoError(t, err)

	err = rt.View(context.Background(), testProgram, func(c *Context) error {
		acc, err := c.Get(a)
		require.NoError(t, err)
		require.Equal(t, "hello", string(acc.Data))
		require.Equal(t, testProgram, acc.Owner)
		return nil
	})
	require.NoError(t, err)

	recorded := rec.Events()
	require.Len(t, recorded, 1)
	env, ok := recorded[0].(events.Envelope)
	require.True(t, ok)
	require.Equal(t, "inv-1", env.InvocationID)
	require.Equal(t, 0, env.Sequence)
	require.Equal(t, "test.created", env.EventType())
}

func TestExecuteRollsBackOnError(t *testing.T) {
	rt, rec := newTestRuntime(t)
	a, b := addr("a"), addr("b")
	boom := errors.New("second leg failed")
	err := rt.Execute(context.Background(), Invocation{Writable: []crypto.Address{a, b}}, testProgram, func(c *Context) error {
		require.NoError(t, c.Create(a, []byte("first leg")))
		c.Emit(&types.Event{Type: "test.partial"})
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, rec.Events())

	err = rt.View(context.Background(), testProgram, func(c *Context) error {
		ok, err := c.Exists(a)
		require.NoError(t, err)
		require.False(t, ok, "rolled back write must not persist")
		return nil
	})
	require.NoError(t, err)
}

func TestWritesRequireDeclaredAccounts(t *testing.T) {
	rt, _ := newTestRuntime(t)
	err := rt.Execute(context.Background(), Invocation{}, testProgram, func(c *Context) error {
		return c.Create(addr("undeclared"), nil)
	})
	require.ErrorIs(t, err, ErrAccountNotWritable)

	err = rt.View(context.Background(), testProgram, func(c *Context) error {
		return c.Create(addr("view"), nil)
	})
	require.ErrorIs(t, err, ErrAccountNotWritable)
}

func TestUpdateRespectsOwnerProgram(t *testing.T) {
	rt, _ := newTestRuntime(t)
	a := addr("owned")
	other := crypto.HashToAddress([]byte("program:other"))
	err := rt.Execute(context.Background(), Invocation{Writable: []crypto.Address{a}}, testProgram, func(c *Context) error {
		require.NoError(t, c.Create(a, []byte{1}))
		return c.WithProgram(other).Update(a, []byte{2})
	})
	require.ErrorIs(t, err, state.ErrOwnerProgramMismatch)
}

func TestSignersAndDerivedSigners(t *testing.T) {
	rt, _ := newTestRuntime(t)
	signer := addr("signer")
	seeds := [][]byte{[]byte("vault"), signer[:]}
	derived, bump, err := crypto.FindProgramAddress(seeds, testProgram)
	require.NoError(t, err)

	err = rt.Execute(context.Background(), Invocation{Signers: []crypto.Address{signer}}, testProgram, func(c *Context) error {
		require.NoError(t, c.RequireSigner(signer))
		require.ErrorIs(t, c.RequireSigner(derived), ErrMissingSignature)

		child, got, err := c.InvokeSigned(seeds, bump)
		require.NoError(t, err)
		require.Equal(t, derived, got)
		require.True(t, child.IsSigner(derived))
		require.True(t, child.IsSigner(signer))
		require.False(t, c.IsSigner(derived), "parent context must not gain the derived signer")

		// Another program reproducing the same seeds derives a different address.
		foreign, foreignAddr, err := c.WithProgram(crypto.HashToAddress([]byte("program:other"))).InvokeSigned(seeds, bump)
		if err == nil {
			require.NotEqual(t, derived, foreignAddr)
			require.False(t, foreign.IsSigner(derived))
		}
		return nil
	})
	require.NoError(t, err)
}

func TestConflictingInvocationsSerialize(t *testing.T) {
	rt, _ := newTestRuntime(t)
	shared := addr("shared")
	require.NoError(t, rt.Execute(context.Background(), Invocation{Writable: []crypto.Address{shared}}, testProgram, func(c *Context) error {
		return c.Create(shared, []byte{0})
	}))

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- rt.Execute(context.Background(), Invocation{Writable: []crypto.Address{shared}}, testProgram, func(c *Context) error {
				acc, err := c.Get(shared)
				if err != nil {
					return err
				}
				return c.Update(shared, []byte{acc.Data[0] + 1})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, rt.View(context.Background(), testProgram, func(c *Context) error {
		acc, err := c.Get(shared)
		require.NoError(t, err)
		require.Equal(t, byte(workers), acc.Data[0], "lost update detected")
		return nil
	}))
}

func TestLockWaitHonoursContext(t *testing.T) {
	rt, _ := newTestRuntime(t)
	shared := addr("busy")
	entered := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- rt.Execute(context.Background(), Invocation{Writable: []crypto.Address{shared}}, testProgram, func(c *Context) error {
			close(entered)
			<-finish
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rt.Execute(ctx, Invocation{Writable: []crypto.Address{shared}}, testProgram, func(c *Context) error {
		t.Fatalf("must not run while the account is locked")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(finish)
	require.NoError(t, <-done)

	// The lock is free again once the holder returns.
	require.NoError(t, rt.Execute(context.Background(), Invocation{Writable: []crypto.Address{shared}}, testProgram, func(c *Context) error {
		return nil
	}))
}

func TestDisjointInvocationsDoNotBlock(t *testing.T) {
	rt, _ := newTestRuntime(t)
	first, second := addr("first"), addr("second")
	entered := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- rt.Execute(context.Background(), Invocation{Writable: []crypto.Address{first}}, testProgram, func(c *Context) error {
			close(entered)
			<-finish
			return c.Create(first, nil)
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rt.Execute(ctx, Invocation{Writable: []crypto.Address{second}}, testProgram, func(c *Context) error {
		return c.Create(second, nil)
	}))
	close(finish)
	require.NoError(t, <-done)
}
