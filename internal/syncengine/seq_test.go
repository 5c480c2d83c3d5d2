package syncengine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hworldcom/mdrecorder/internal/events"
	"github.com/hworldcom/mdrecorder/internal/orderbook"
)

func lvl(price, qty string) orderbook.Level {
	return orderbook.Level{Price: decimal.RequireFromString(price), Qty: decimal.RequireFromString(qty)}
}

func diff(u, lastU int64) Diff {
	return Diff{FirstUpdateID: u, LastUpdateID: lastU, Bids: []orderbook.Level{lvl("100", "1")}}
}

// Binance bridge: buffered pre-snapshot diffs get applied once the snapshot arrives.
func TestSeqEngine_Scenario1_Bridge(t *testing.T) {
	t.Parallel()
	book := orderbook.NewDepth()
	e := NewSeqEngine(book, 5000)
	e.BeginSnapshot()

	act, err := e.OnUpdate(diff(95, 99)) // discarded: u <= L once snapshot arrives
	require.NoError(t, err)
	require.Equal(t, ActionBuffered, act)

	act, err = e.OnUpdate(diff(98, 101)) // will become the bridge
	require.NoError(t, err)
	require.Equal(t, ActionBuffered, act)

	act, err = e.OnUpdate(diff(102, 103))
	require.NoError(t, err)
	require.Equal(t, ActionBuffered, act)

	act, err = e.OnUpdate(diff(104, 107))
	require.NoError(t, err)
	require.Equal(t, ActionBuffered, act)

	synced, err := e.OnSnapshot([]orderbook.Level{lvl("100", "1")}, []orderbook.Level{lvl("101", "1")}, 100, 1)
	require.NoError(t, err)
	require.True(t, synced)
	require.Equal(t, events.StateSynced, e.State())
	require.Equal(t, int64(107), e.lastU)
	require.Equal(t, int64(1), e.EpochID())
}

// A sequence gap after a successful bridge triggers a resync.
func TestSeqEngine_Scenario2_Gap(t *testing.T) {
	t.Parallel()
	book := orderbook.NewDepth()
	e := NewSeqEngine(book, 5000)
	e.BeginSnapshot()
	_, _ = e.OnSnapshot([]orderbook.Level{lvl("100", "1")}, []orderbook.Level{lvl("101", "1")}, 100, 1)
	for _, d := range []Diff{diff(95, 99), diff(98, 101), diff(102, 103), diff(104, 107)} {
		_, _ = e.OnUpdate(d)
	}
	require.Equal(t, events.StateSynced, e.State())

	act, err := e.OnUpdate(diff(109, 110))
	require.Error(t, err)
	require.Equal(t, ActionGap, act)
}

func TestSeqEngine_BridgeArrivesBeforeSnapshotHasEnoughData(t *testing.T) {
	t.Parallel()
	book := orderbook.NewDepth()
	e := NewSeqEngine(book, 5000)
	e.BeginSnapshot()

	synced, err := e.OnSnapshot([]orderbook.Level{lvl("100", "1")}, []orderbook.Level{lvl("101", "1")}, 100, 1)
	require.NoError(t, err)
	require.False(t, synced) // no diffs buffered yet at all
	require.Equal(t, events.StateSyncing, e.State())

	act, err := e.OnUpdate(diff(98, 101))
	require.NoError(t, err)
	require.Equal(t, ActionNewlySynced, act)
	require.Equal(t, events.StateSynced, e.State())
}

func TestSeqEngine_StaleSnapshotTriggersResnapshot(t *testing.T) {
	t.Parallel()
	book := orderbook.NewDepth()
	e := NewSeqEngine(book, 5000)
	e.BeginSnapshot()
	// Buffer already strictly ahead of L+1: oldest buffered U (200) > L+1 (101).
	_, _ = e.OnUpdate(diff(200, 205))

	synced, err := e.OnSnapshot([]orderbook.Level{lvl("100", "1")}, []orderbook.Level{lvl("101", "1")}, 100, 1)
	require.False(t, synced)
	require.ErrorIs(t, err, ErrStaleSnapshot)
	require.Equal(t, 0, e.BufferDepth())
}

func TestSeqEngine_DuplicateDiscardedAtSteadyState(t *testing.T) {
	t.Parallel()
	book := orderbook.NewDepth()
	e := NewSeqEngine(book, 5000)
	e.BeginSnapshot()
	_, _ = e.OnSnapshot([]orderbook.Level{lvl("100", "1")}, []orderbook.Level{lvl("101", "1")}, 100, 1)
	_, _ = e.OnUpdate(diff(101, 101))
	require.Equal(t, events.StateSynced, e.State())

	act, err := e.OnUpdate(diff(50, 101)) // u <= last_u
	require.NoError(t, err)
	require.Equal(t, ActionDiscardedDuplicate, act)
}

func TestSeqEngine_CrossedBookTriggersResync(t *testing.T) {
	t.Parallel()
	book := orderbook.NewDepth()
	e := NewSeqEngine(book, 5000)
	e.BeginSnapshot()
	_, _ = e.OnSnapshot([]orderbook.Level{lvl("100", "1")}, []orderbook.Level{lvl("101", "1")}, 100, 1)
	_, _ = e.OnUpdate(diff(101, 101))

	bad := Diff{FirstUpdateID: 102, LastUpdateID: 102, Bids: []orderbook.Level{lvl("105", "1")}}
	act, err := e.OnUpdate(bad)
	require.Error(t, err)
	require.Equal(t, ActionCrossedBook, act)
}
