package eventlog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"escrowmarket/core/events"
	"escrowmarket/core/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("sqlite", filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func envelope(inv string, seq int, typ, listing string) events.Envelope {
	return events.Envelope{
		InvocationID: inv,
		Sequence:     seq,
		Payload: &types.Event{Type: typ, Attributes: map[string]string{
			"listing": listing,
			"price":   "100",
		}},
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.SetNowFunc(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	for i := 0; i < 3; i++ {
		store.Emit(envelope(fmt.Sprintf("inv-%d", i), 0, "market.listed", fmt.Sprintf("listing-%d", i)))
	}
	store.Emit(envelope("inv-3", 1, "market.bought", "listing-1"))

	entries, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Equal(t, "market.bought", entries[0].Type)
	require.Equal(t, "inv-0", entries[3].InvocationID)
	require.True(t, entries[0].CreatedAt.After(entries[3].CreatedAt))
	require.Equal(t, "100", entries[0].Attributes["price"])
	require.Equal(t, 1, entries[0].Sequence)
}

func TestListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, envelope("a", 0, "market.listed", "l1")))
	require.NoError(t, store.Append(ctx, envelope("b", 0, "market.listed", "l2")))
	require.NoError(t, store.Append(ctx, envelope("c", 0, "market.bought", "l1")))

	listed, err := store.List(ctx, Filter{Type: "market.listed"})
	require.NoError(t, err)
	require.Len(t, listed, 2)

	forListing, err := store.List(ctx, Filter{Listing: "l1"})
	require.NoError(t, err)
	require.Len(t, forListing, 2)
	require.Equal(t, "market.bought", forListing[0].Type)

	limited, err := store.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "c", limited[0].InvocationID)
}

func TestEmitIgnoresBareEvents(t *testing.T) {
	store := newTestStore(t)
	store.Emit(events.Envelope{InvocationID: "x"})

	entries, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "")
	require.Error(t, err)
}
