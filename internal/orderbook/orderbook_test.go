package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func lvl(price, qty string) Level {
	return Level{Price: decimal.RequireFromString(price), Qty: decimal.RequireFromString(qty)}
}

func TestApplySide_DeleteAndUpsert(t *testing.T) {
	t.Parallel()
	b := NewBase()
	b.Replace([]Level{lvl("100", "1")}, []Level{lvl("101", "1")}, 1)

	b.ApplySide([]Level{lvl("100", "2")}, Bid) // overwrite
	best, err := b.BestBid()
	require.NoError(t, err)
	require.True(t, best.Qty.Equal(decimal.RequireFromString("2")))

	b.ApplySide([]Level{lvl("100", "0")}, Bid) // delete
	_, err = b.BestBid()
	require.ErrorIs(t, err, ErrEmptyBook)
}

func TestTopN_OrderingPerSide(t *testing.T) {
	t.Parallel()
	b := NewBase()
	b.Replace(
		[]Level{lvl("99", "1"), lvl("100", "1"), lvl("98", "1")},
		[]Level{lvl("102", "1"), lvl("101", "1"), lvl("103", "1")},
		1,
	)
	bids, asks := b.TopN(2)
	require.Len(t, bids, 2)
	require.True(t, bids[0].Price.Equal(decimal.RequireFromString("100")))
	require.True(t, bids[1].Price.Equal(decimal.RequireFromString("99")))

	require.Len(t, asks, 2)
	require.True(t, asks[0].Price.Equal(decimal.RequireFromString("101")))
	require.True(t, asks[1].Price.Equal(decimal.RequireFromString("102")))
}

func TestValidateCrossed(t *testing.T) {
	t.Parallel()
	b := NewBase()
	b.Replace([]Level{lvl("100", "1")}, []Level{lvl("101", "1")}, 1)
	require.NoError(t, b.ValidateCrossed())

	b.ApplySide([]Level{lvl("102", "1")}, Bid) // crosses: bid 102 >= ask 101
	require.ErrorIs(t, b.ValidateCrossed(), ErrCrossedBook)
}

func TestTrimToDepth(t *testing.T) {
	t.Parallel()
	b := NewBase()
	b.Replace(
		[]Level{lvl("100", "1"), lvl("99", "1"), lvl("98", "1")},
		[]Level{lvl("101", "1"), lvl("102", "1"), lvl("103", "1")},
		0,
	)
	b.TrimToDepth(2)
	bids, asks := b.TopN(10)
	require.Len(t, bids, 2)
	require.Len(t, asks, 2)
}

func TestDepth_LoadSnapshotAndApplyUpdate(t *testing.T) {
	t.Parallel()
	d := NewDepth()
	require.False(t, d.IsValid())

	d.LoadSnapshot([]Level{lvl("100", "1")}, []Level{lvl("101", "1")}, 100, 1)
	require.True(t, d.IsValid())
	require.Equal(t, int64(1), d.EpochID())

	require.NoError(t, d.ApplyUpdate([]Level{lvl("100", "2")}, nil))
	snap := d.Retrieve(10)
	require.True(t, snap.Bids[0].Qty.Equal(decimal.RequireFromString("2")))

	// Crossing update invalidates the book.
	err := d.ApplyUpdate([]Level{lvl("105", "1")}, nil)
	require.ErrorIs(t, err, ErrCrossedBook)
	require.False(t, d.IsValid())

	// Further updates are rejected until the next snapshot.
	err = d.ApplyUpdate([]Level{lvl("100", "1")}, nil)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestDepth_Invalidate(t *testing.T) {
	t.Parallel()
	d := NewDepth()
	d.LoadSnapshot([]Level{lvl("100", "1")}, []Level{lvl("101", "1")}, 1, 1)
	d.Invalidate()
	require.False(t, d.IsValid())
	require.ErrorIs(t, d.ApplyUpdate(nil, nil), ErrInvalid)
}
