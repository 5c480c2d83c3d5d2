package syncengine

import (
	"hash/crc32"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hworldcom/mdrecorder/internal/events"
	"github.com/hworldcom/mdrecorder/internal/orderbook"
)

func rawLvl(price, qty string) orderbook.Level {
	return orderbook.Level{
		Price: decimal.RequireFromString(price), Qty: decimal.RequireFromString(qty),
		RawPrice: price, RawQty: qty,
	}
}

// Bitfinex checksum string is exactly "6000:1:6100:-3:5900:2:6200:-4".
func TestBitfinexFlavor_ChecksumStringExact(t *testing.T) {
	t.Parallel()
	bids := []orderbook.Level{rawLvl("6000", "1"), rawLvl("5900", "2")}
	asks := []orderbook.Level{rawLvl("6100", "3"), rawLvl("6200", "4")}
	f := BitfinexFlavor{}
	require.Equal(t, "6000:1:6100:-3:5900:2:6200:-4", f.ChecksumString(bids, asks))
}

func TestBitfinexEngine_SignedMismatchTriggersResync(t *testing.T) {
	t.Parallel()
	book := orderbook.NewDepth()
	e := NewChecksumEngine(book, BitfinexFlavor{})
	e.BeginSnapshot()

	bids := []orderbook.Level{rawLvl("6000", "1"), rawLvl("5900", "2")}
	asks := []orderbook.Level{rawLvl("6100", "3"), rawLvl("6200", "4")}
	str := BitfinexFlavor{}.ChecksumString(bids, asks)
	good := crc32.ChecksumIEEE([]byte(str))

	require.NoError(t, e.OnSnapshot(bids, asks, 1, &good))
	require.Equal(t, events.StateSynced, e.State())

	bad := good + 1
	act, err := e.OnUpdate(Diff{Bids: []orderbook.Level{rawLvl("5900", "2")}, Checksum: &bad})
	require.Error(t, err)
	require.Equal(t, ActionChecksumMismatch, act)
}

// Kraken delete removes the level and checksum still matches afterward.
func TestKrakenEngine_DeleteThenChecksumMatches(t *testing.T) {
	t.Parallel()
	book := orderbook.NewDepth()
	flavor, ok := NewKrakenFlavor(10)
	require.True(t, ok)
	e := NewChecksumEngine(book, flavor)
	e.BeginSnapshot()

	bids := []orderbook.Level{rawLvl("50000.0", "1.0")}
	asks := []orderbook.Level{rawLvl("50001.0", "2.5")}
	str := flavor.ChecksumString(bids, asks)
	good := crc32.ChecksumIEEE([]byte(str))
	require.NoError(t, e.OnSnapshot(bids, asks, 1, &good))

	// Delete the only ask by setting qty to zero; the bid side is untouched.
	nextStr := flavor.ChecksumString(bids, []orderbook.Level{})
	nextChecksum := crc32.ChecksumIEEE([]byte(nextStr))

	del := rawLvl("50001.0", "0.00000000")
	act, err := e.OnUpdate(Diff{Asks: []orderbook.Level{del}, Checksum: &nextChecksum})
	require.NoError(t, err)
	require.Equal(t, ActionApplied, act)

	snap := book.Retrieve(10)
	require.Empty(t, snap.Asks)
}

func TestKrakenStrip(t *testing.T) {
	t.Parallel()
	require.Equal(t, "554130000", krakenStrip("5541.30000"))
	require.Equal(t, "25", krakenStrip("0025"))
	require.Equal(t, "0", krakenStrip("0.0"))
}

func TestNewKrakenFlavor_RejectsInvalidDepth(t *testing.T) {
	t.Parallel()
	_, ok := NewKrakenFlavor(7)
	require.False(t, ok)
	_, ok = NewKrakenFlavor(25)
	require.True(t, ok)
}
