package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hworldcom/mdrecorder/internal/config"
	"github.com/hworldcom/mdrecorder/internal/events"
	"github.com/hworldcom/mdrecorder/internal/logging"
	"github.com/hworldcom/mdrecorder/internal/orderbook"
	"github.com/hworldcom/mdrecorder/internal/seqalloc"
	"github.com/hworldcom/mdrecorder/internal/syncengine"
	"github.com/hworldcom/mdrecorder/internal/transport"
	"github.com/hworldcom/mdrecorder/internal/wire"
	"github.com/hworldcom/mdrecorder/internal/writer"
)

func baseCfg(exch config.Exchange) *config.Config {
	return &config.Config{
		Symbol: "BTC/USD", Exchange: exch, DepthLevels: 10, StoreDepthDiffs: true,
		WSPingIntervalS: 20, WSPingTimeoutS: 10, WSOpenTimeoutS: 10,
		WSReconnectBackoffS: 1, WSReconnectBackoffMaxS: 60, WSMaxSessionS: 3600, WSNoDataWarnS: 30,
		WindowTZ: "UTC", WindowStartHHMM: "0000", WindowEndHHMM: "0000", WindowEndDayOffset: 1,
		HeartbeatSec: 30, SyncWarnAfterSec: 30, MaxBufferWarn: 5000,
		OrderbookBufferRows: 10, TradesBufferRows: 10, BufferFlushIntervalSec: 5,
		DataDir: "data",
	}
}

func TestBuildExchangeAdapter_Binance(t *testing.T) {
	t.Parallel()
	a, err := buildExchangeAdapter(baseCfg(config.Binance))
	require.NoError(t, err)
	require.False(t, a.inBandSnapshot)
	require.NotNil(t, a.restSnapshot)
	require.Nil(t, a.subscribe)
	require.Contains(t, a.wsURL, "btcusd@depth@100ms")
}

func TestBuildExchangeAdapter_Kraken(t *testing.T) {
	t.Parallel()
	a, err := buildExchangeAdapter(baseCfg(config.Kraken))
	require.NoError(t, err)
	require.True(t, a.inBandSnapshot)
	require.NotNil(t, a.subscribe)
}

func TestBuildExchangeAdapter_KrakenInvalidDepth(t *testing.T) {
	t.Parallel()
	cfg := baseCfg(config.Kraken)
	cfg.DepthLevels = 7
	_, err := buildExchangeAdapter(cfg)
	require.Error(t, err)
}

func TestBuildExchangeAdapter_Bitfinex(t *testing.T) {
	t.Parallel()
	a, err := buildExchangeAdapter(baseCfg(config.Bitfinex))
	require.NoError(t, err)
	require.True(t, a.inBandSnapshot)
	require.NotNil(t, a.subscribe)
}

func TestBuildExchangeAdapter_Unsupported(t *testing.T) {
	t.Parallel()
	_, err := buildExchangeAdapter(baseCfg(config.Exchange("coinbase")))
	require.Error(t, err)
}

func TestSeqEngineAdapter_OnSnapshotDelegates(t *testing.T) {
	t.Parallel()
	book := orderbook.NewDepth()
	a := seqEngineAdapter{syncengine.NewSeqEngine(book, 100)}
	a.BeginSnapshot()
	bids := []orderbook.Level{lvlFor("100", "1")}
	asks := []orderbook.Level{lvlFor("101", "1")}
	synced, err := a.OnSnapshot(snapshotInput{Bids: bids, Asks: asks, LastUpdateID: 100}, 1)
	require.NoError(t, err)
	require.False(t, synced) // nothing buffered yet, the bridge diff must still arrive
	require.Equal(t, events.StateSyncing, a.State())

	act, err := a.OnUpdate(syncengine.Diff{FirstUpdateID: 98, LastUpdateID: 101, Bids: bids})
	require.NoError(t, err)
	require.Equal(t, syncengine.ActionNewlySynced, act)
	require.Equal(t, events.StateSynced, a.State())
}

func TestChecksumEngineAdapter_OnSnapshotAlwaysSynced(t *testing.T) {
	t.Parallel()
	book := orderbook.NewDepth()
	a := checksumEngineAdapter{syncengine.NewChecksumEngine(book, syncengine.BitfinexFlavor{})}
	a.BeginSnapshot()
	bids := []orderbook.Level{lvlFor("100", "1")}
	asks := []orderbook.Level{lvlFor("101", "1")}
	synced, err := a.OnSnapshot(snapshotInput{Bids: bids, Asks: asks}, 1)
	require.NoError(t, err)
	require.True(t, synced)
	require.Equal(t, events.StateSynced, a.State())
}

func lvlFor(price, qty string) orderbook.Level {
	return orderbook.Level{
		Price: decimal.RequireFromString(price), Qty: decimal.RequireFromString(qty),
		RawPrice: price, RawQty: qty,
	}
}

func TestCheckFrame_DecodesSignedChecksum(t *testing.T) {
	t.Parallel()
	d, err := checksumFrame([]byte(`[1234,"cs",-1]`))
	require.NoError(t, err)
	require.NotNil(t, d.Checksum)
	require.Equal(t, uint32(0xFFFFFFFF), *d.Checksum)
}

// newTestRecorder wires a Recorder by hand (bypassing New/buildExchangeAdapter)
// so the dispatch loop can be driven with synthetic frames instead of a live
// socket.
func newTestRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := baseCfg(config.Binance)
	cfg.DataDir = dir

	book := orderbook.NewDepth()
	r := &Recorder{
		cfg: cfg, runID: "test-run", seq: seqalloc.New(), book: book, log: logging.For(logging.Recorder),
		eng: seqEngineAdapter{syncengine.NewSeqEngine(book, cfg.MaxBufferWarn)},
		// inBandSnapshot avoids a live REST fetch when a gap forces a resync.
		adapter: &exchangeAdapter{inBandSnapshot: true, decodeTrade: wire.DecodeBinanceTrade},
	}
	fabric, err := writer.Open(writer.Config{
		DataDir: dir, Symbol: cfg.Symbol, Exchange: string(cfg.Exchange), Day: time.Now().UTC(),
		DepthLevels: cfg.DepthLevels, OrderbookBufferRows: 1, TradesBufferRows: 1,
		BufferFlushInterval: time.Second, DiffsBytesThreshold: 1 << 20, RawTradesBytesThreshold: 1 << 20,
		EnableGaps: true,
	})
	require.NoError(t, err)
	r.fabric = fabric
	r.sink = &eventSink{seq: r.seq, fabric: fabric, runID: r.runID, epochFunc: r.eng.EpochID}
	r.frames = make(chan transport.Message, 16)
	return r, dir
}

func TestHandleDiff_GapTriggersResyncEvent(t *testing.T) {
	t.Parallel()
	r, _ := newTestRecorder(t)
	defer r.fabric.Close()

	r.eng.BeginSnapshot()
	bids := []orderbook.Level{lvlFor("100", "1")}
	asks := []orderbook.Level{lvlFor("101", "1")}
	_, err := r.eng.OnSnapshot(snapshotInput{Bids: bids, Asks: asks, LastUpdateID: 100}, 1)
	require.NoError(t, err)

	bridge := syncengine.Diff{FirstUpdateID: 98, LastUpdateID: 101, Bids: bids}
	err = r.handleDiff(context.Background(), bridge, time.Now().UnixMilli())
	require.NoError(t, err)
	require.Equal(t, events.StateSynced, r.eng.State())

	// A diff whose FirstUpdateID doesn't continue from lastU=101 is a gap:
	// the engine resets and waits in SNAPSHOT for the next authoritative book.
	gapDiff := syncengine.Diff{FirstUpdateID: 500, LastUpdateID: 501, Bids: bids}
	err = r.handleDiff(context.Background(), gapDiff, time.Now().UnixMilli())
	require.NoError(t, err)
	require.Equal(t, events.StateSnapshot, r.eng.State())
}

func TestHandleTrade_WritesNormalizedAndRaw(t *testing.T) {
	t.Parallel()
	r, _ := newTestRecorder(t)
	defer r.fabric.Close()

	raw := []byte(`{"e":"trade","E":1690000000000,"t":1,"p":"50000.0","q":"0.1","T":1690000000001,"m":false}`)
	err := r.handleTrade(transport.Message{Kind: transport.Trade, Raw: raw}, time.Now().UnixMilli())
	require.NoError(t, err)
}
