package runtime

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"escrowmarket/crypto"
)

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// lockTable serialises invocations that write the same account. Invocations
// with disjoint writable sets never wait on each other.
type lockTable struct {
	mu    sync.Mutex
	slots map[crypto.Address]*lockSlot
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[crypto.Address]*lockSlot)}
}

func (t *lockTable) ref(addr crypto.Address) *lockSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.slots[addr]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		t.slots[addr] = slot
	}
	slot.refs++
	return slot
}

func (t *lockTable) unref(addr crypto.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.slots[addr]
	if !ok {
		return
	}
	slot.refs--
	if slot.refs <= 0 {
		delete(t.slots, addr)
	}
}

// acquire locks every address in canonical order so that overlapping
// invocations cannot deadlock. The returned release func must be called
// exactly once.
func (t *lockTable) acquire(ctx context.Context, addrs []crypto.Address) (func(), error) {
	held := make([]crypto.Address, 0, len(addrs))
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			addr := held[i]
			t.mu.Lock()
			slot := t.slots[addr]
			t.mu.Unlock()
			<-slot.ch
			t.unref(addr)
		}
	}
	for _, addr := range addrs {
		slot := t.ref(addr)
		select {
		case slot.ch <- struct{}{}:
			held = append(held, addr)
		case <-ctx.Done():
			t.unref(addr)
			releaseHeld()
			return nil, ctx.Err()
		}
	}
	return releaseHeld, nil
}

func canonicalAddresses(addrs []crypto.Address) []crypto.Address {
	if len(addrs) == 0 {
		return nil
	}
	seen := make(map[crypto.Address]struct{}, len(addrs))
	out := make([]crypto.Address, 0, len(addrs))
	for _, addr := range addrs {
		if addr.IsZero() {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
