package writer

import (
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hworldcom/mdrecorder/internal/events"
	"github.com/hworldcom/mdrecorder/internal/orderbook"
)

func readGzipCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()
	rows, err := csv.NewReader(gz).ReadAll()
	require.NoError(t, err)
	return rows
}

func readGzipLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()
	b, err := io.ReadAll(gz)
	require.NoError(t, err)
	var lines []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			if i > start {
				lines = append(lines, string(b[start:i]))
			}
			start = i + 1
		}
	}
	return lines
}

func TestCSVStream_HeaderOnceAndRowsFlush(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out.csv.gz")
	s, err := newCSVStream(path, []string{"a", "b"}, 2, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.writeRow([]string{"1", "2"}))
	require.NoError(t, s.writeRow([]string{"3", "4"})) // hits rowThreshold, flushes
	require.NoError(t, s.close())

	rows := readGzipCSV(t, path)
	require.Equal(t, []string{"a", "b"}, rows[0])
	require.Equal(t, [][]string{{"a", "b"}, {"1", "2"}, {"3", "4"}}, rows)
}

func TestNDJSONStream_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out.ndjson.gz")
	s, err := newNDJSONStream(path, 1<<20)
	require.NoError(t, err)
	require.NoError(t, s.writeLine([]byte(`{"a":1}`)))
	require.NoError(t, s.writeLine([]byte(`{"a":2}`)))
	require.NoError(t, s.close())

	lines := readGzipLines(t, path)
	require.Equal(t, []string{`{"a":1}`, `{"a":2}`}, lines)
}

func lvl(price, qty string) orderbook.Level {
	return orderbook.Level{
		Price: decimal.RequireFromString(price), Qty: decimal.RequireFromString(qty),
		RawPrice: price, RawQty: qty,
	}
}

func testFabric(t *testing.T) (*Fabric, string) {
	t.Helper()
	dir := t.TempDir()
	f, err := Open(Config{
		DataDir: dir, Symbol: "BTC/USD", Exchange: "binance",
		Day:                     time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		DepthLevels:             2,
		OrderbookBufferRows:     10,
		TradesBufferRows:        10,
		BufferFlushInterval:     time.Hour,
		DiffsBytesThreshold:     1 << 20,
		RawTradesBytesThreshold: 1 << 20,
		EnableGaps:              true,
	})
	require.NoError(t, err)
	return f, dir
}

func TestFabric_OpenWritesSchemaAndStreams(t *testing.T) {
	t.Parallel()
	f, dir := testFabric(t)

	require.NoError(t, f.WriteBookTop(1000, 1, 1, 55, []orderbook.Level{lvl("100", "1")}, []orderbook.Level{lvl("101", "1")}))
	require.NoError(t, f.WriteTrade(events.Trade{RecvTimeMs: 1000, RecvSeq: 2, EventTimeMs: 999, TradeID: "t1", Price: "100", Qty: "0.5", Side: "buy"}))
	require.NoError(t, f.WriteEvent(events.Record{RecvTimeMs: 1000, RecvSeq: 3, EventID: 1, RunID: "run1", Type: events.SnapshotDone, EpochID: 1, Details: "{}"}))
	require.NoError(t, f.WriteDiff(1000, 4, 1, []byte(`{"u":1}`)))
	require.NoError(t, f.WriteRawTrade(1000, 5, []byte(`{"t":1}`)))
	require.NoError(t, f.WriteGap(events.GapRecord{RecvTimeMs: 1000, RecvSeq: 6, RunID: "run1", EpochID: 1, Event: events.Gap, Details: "{}"}))
	require.NoError(t, f.WriteSnapshot(SnapshotRecord{EventID: 1, RecvMs: 1000, RecvSeq: 7, EpochID: 1, Symbol: "BTC/USD", Exchange: "binance", LastUpdateID: 55},
		[]orderbook.Level{lvl("100", "1")}, []orderbook.Level{lvl("101", "1")}, []byte(`{"raw":true}`), "initial"))
	require.NoError(t, f.Close())

	dayDirPath := dayDir(dir, "binance", "BTCUSD", time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))

	manifestBytes, err := os.ReadFile(filepath.Join(dayDirPath, "schema.json"))
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(manifestBytes, &m))
	require.Equal(t, SchemaVersion, m.SchemaVersion)
	require.Len(t, m.Streams, 7) // book, trades, events, diffs, raw trades, snapshots, gaps

	bookRows := readGzipCSV(t, filepath.Join(dayDirPath, "orderbook_ws_depth_BTCUSD_20260731.csv.gz"))
	require.Equal(t, bookCSVHeader(2), bookRows[0])
	require.Equal(t, "100", bookRows[1][4]) // bid_price_0

	diffLines := readGzipLines(t, filepath.Join(dayDirPath, "diffs", "depth_diffs_BTCUSD_20260731.ndjson.gz"))
	require.Len(t, diffLines, 1)
	require.Contains(t, diffLines[0], `"recv_seq":4`)

	_, err = os.Stat(filepath.Join(dayDirPath, "snapshots", "snapshot_1_initial.csv"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dayDirPath, "snapshots", "snapshot_1_initial.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dayDirPath, "snapshots", "snapshot_1_initial.raw"))
	require.NoError(t, err)
}

func TestFabric_GapsDisabledIsNoOp(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f, err := Open(Config{
		DataDir: dir, Symbol: "ETHUSD", Exchange: "kraken",
		Day: time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), DepthLevels: 1,
		OrderbookBufferRows: 10, TradesBufferRows: 10, BufferFlushInterval: time.Hour,
		DiffsBytesThreshold: 1 << 20, RawTradesBytesThreshold: 1 << 20, EnableGaps: false,
	})
	require.NoError(t, err)
	require.NoError(t, f.WriteGap(events.GapRecord{RecvSeq: 1}))
	require.NoError(t, f.Close())
}
