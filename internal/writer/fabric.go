package writer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hworldcom/mdrecorder/internal/config"
	"github.com/hworldcom/mdrecorder/internal/events"
	"github.com/hworldcom/mdrecorder/internal/orderbook"
)

// Config configures one day's worth of writer fabric for a single symbol/run.
type Config struct {
	DataDir  string
	Symbol   string // as configured, e.g. "BTC/USD"
	Exchange string
	Day      time.Time // calendar day this fabric covers, in the window's timezone

	DepthLevels int

	OrderbookBufferRows    int
	TradesBufferRows       int
	BufferFlushInterval    time.Duration
	DiffsBytesThreshold    int
	RawTradesBytesThreshold int

	EnableGaps bool
}

// Fabric owns every output stream for one trading day of one symbol. All
// Write* methods take an already-allocated recv_seq: the allocator is called
// exactly once per ingress message, not once per stream row derived from it.
type Fabric struct {
	cfg Config
	dir string

	book      *csvStream
	trades    *csvStream
	eventsLog *csvStream
	gaps      *csvStream
	diffs     *ndjsonStream
	rawTrades *ndjsonStream

	snapDir string
}

// dayDir is the output directory layout:
// data/<EXCHANGE>/<SYMBOL_FS>/<YYYYMMDD>/...
func dayDir(dataDir, exchange, symbolFS string, day time.Time) string {
	return filepath.Join(dataDir, exchange, symbolFS, day.Format("20060102"))
}

// Open creates the day directory (and diffs/trades/snapshots subdirectories),
// opens every stream, and writes schema.json.
func Open(cfg Config) (*Fabric, error) {
	symFS := config.SymbolFS(cfg.Symbol)
	dir := dayDir(cfg.DataDir, cfg.Exchange, symFS, cfg.Day)
	for _, sub := range []string{"", "diffs", "trades", "snapshots"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", filepath.Join(dir, sub), err)
		}
	}
	ymd := cfg.Day.Format("20060102")

	bookHeader := bookCSVHeader(cfg.DepthLevels)
	book, err := newCSVStream(
		filepath.Join(dir, fmt.Sprintf("orderbook_ws_depth_%s_%s.csv.gz", symFS, ymd)),
		bookHeader, cfg.OrderbookBufferRows, cfg.BufferFlushInterval,
	)
	if err != nil {
		return nil, err
	}

	trades, err := newCSVStream(
		filepath.Join(dir, fmt.Sprintf("trades_ws_%s_%s.csv.gz", symFS, ymd)),
		[]string{"recv_ms", "recv_seq", "event_time_ms", "trade_id", "price", "qty", "side"},
		cfg.TradesBufferRows, cfg.BufferFlushInterval,
	)
	if err != nil {
		_ = book.close()
		return nil, err
	}

	eventsLog, err := newCSVStream(
		filepath.Join(dir, fmt.Sprintf("events_%s_%s.csv.gz", symFS, ymd)),
		[]string{"recv_ms", "recv_seq", "event_id", "run_id", "type", "epoch_id", "details"},
		1, 0, // flush per event
	)
	if err != nil {
		_ = book.close()
		_ = trades.close()
		return nil, err
	}

	var gaps *csvStream
	if cfg.EnableGaps {
		gaps, err = newCSVStream(
			filepath.Join(dir, fmt.Sprintf("gaps_%s_%s.csv.gz", symFS, ymd)),
			[]string{"recv_ms", "recv_seq", "run_id", "epoch_id", "event", "details"},
			1, 0,
		)
		if err != nil {
			_ = book.close()
			_ = trades.close()
			_ = eventsLog.close()
			return nil, err
		}
	}

	diffs, err := newNDJSONStream(
		filepath.Join(dir, "diffs", fmt.Sprintf("depth_diffs_%s_%s.ndjson.gz", symFS, ymd)),
		cfg.DiffsBytesThreshold,
	)
	if err != nil {
		_ = book.close()
		_ = trades.close()
		_ = eventsLog.close()
		if gaps != nil {
			_ = gaps.close()
		}
		return nil, err
	}

	rawTrades, err := newNDJSONStream(
		filepath.Join(dir, "trades", fmt.Sprintf("trades_ws_raw_%s_%s.ndjson.gz", symFS, ymd)),
		cfg.RawTradesBytesThreshold,
	)
	if err != nil {
		_ = book.close()
		_ = trades.close()
		_ = eventsLog.close()
		_ = diffs.close()
		if gaps != nil {
			_ = gaps.close()
		}
		return nil, err
	}

	f := &Fabric{
		cfg: cfg, dir: dir,
		book: book, trades: trades, eventsLog: eventsLog, gaps: gaps,
		diffs: diffs, rawTrades: rawTrades,
		snapDir: filepath.Join(dir, "snapshots"),
	}

	streams := []StreamSchema{
		{Name: "orderbook_top", Path: filepath.Base(book.file.Name()), Format: "csv.gz", Columns: bookHeader},
		{Name: "trades", Path: filepath.Base(trades.file.Name()), Format: "csv.gz",
			Columns: []string{"recv_ms", "recv_seq", "event_time_ms", "trade_id", "price", "qty", "side"}},
		{Name: "events", Path: filepath.Base(eventsLog.file.Name()), Format: "csv.gz",
			Columns: []string{"recv_ms", "recv_seq", "event_id", "run_id", "type", "epoch_id", "details"}},
		{Name: "diffs_raw", Path: "diffs/" + filepath.Base(diffs.file.Name()), Format: "ndjson.gz"},
		{Name: "trades_raw", Path: "trades/" + filepath.Base(rawTrades.file.Name()), Format: "ndjson.gz"},
		{Name: "snapshots", Path: "snapshots/", Format: "csv+json pair"},
	}
	if gaps != nil {
		streams = append(streams, StreamSchema{
			Name: "gaps", Path: filepath.Base(gaps.file.Name()), Format: "csv.gz",
			Columns: []string{"recv_ms", "recv_seq", "run_id", "epoch_id", "event", "details"},
		})
	}
	if err := writeManifest(dir, Manifest{Symbol: cfg.Symbol, Exchange: cfg.Exchange, Streams: streams}); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func bookCSVHeader(n int) []string {
	h := []string{"recv_ms", "recv_seq", "epoch_id", "update_id"}
	for i := 0; i < n; i++ {
		h = append(h, fmt.Sprintf("bid_price_%d", i), fmt.Sprintf("bid_qty_%d", i))
	}
	for i := 0; i < n; i++ {
		h = append(h, fmt.Sprintf("ask_price_%d", i), fmt.Sprintf("ask_qty_%d", i))
	}
	return h
}

// WriteBookTop writes one normalized top-N row. bids/asks are already
// sorted/trimmed by the caller (orderbook.Depth.Retrieve).
func (f *Fabric) WriteBookTop(recvMs, recvSeq, epochID, updateID int64, bids, asks []orderbook.Level) error {
	row := make([]string, 0, 4+4*f.cfg.DepthLevels)
	row = append(row,
		strconv.FormatInt(recvMs, 10), strconv.FormatInt(recvSeq, 10),
		strconv.FormatInt(epochID, 10), strconv.FormatInt(updateID, 10),
	)
	for i := 0; i < f.cfg.DepthLevels; i++ {
		if i < len(bids) {
			row = append(row, bids[i].Price.String(), bids[i].Qty.String())
		} else {
			row = append(row, "", "")
		}
	}
	for i := 0; i < f.cfg.DepthLevels; i++ {
		if i < len(asks) {
			row = append(row, asks[i].Price.String(), asks[i].Qty.String())
		} else {
			row = append(row, "", "")
		}
	}
	return f.book.writeRow(row)
}

// WriteTrade writes one normalized trade row.
func (f *Fabric) WriteTrade(t events.Trade) error {
	return f.trades.writeRow([]string{
		strconv.FormatInt(t.RecvTimeMs, 10), strconv.FormatInt(t.RecvSeq, 10),
		strconv.FormatInt(t.EventTimeMs, 10), t.TradeID, t.Price, t.Qty, t.Side,
	})
}

// WriteEvent appends one row to the events ledger and flushes immediately.
func (f *Fabric) WriteEvent(r events.Record) error {
	return f.eventsLog.writeRow([]string{
		strconv.FormatInt(r.RecvTimeMs, 10), strconv.FormatInt(r.RecvSeq, 10),
		strconv.FormatInt(r.EventID, 10), r.RunID, string(r.Type),
		strconv.FormatInt(r.EpochID, 10), r.Details,
	})
}

// WriteGap appends one row to the optional gaps stream. A no-op if gaps are
// disabled for this fabric.
func (f *Fabric) WriteGap(g events.GapRecord) error {
	if f.gaps == nil {
		return nil
	}
	return f.gaps.writeRow([]string{
		strconv.FormatInt(g.RecvTimeMs, 10), strconv.FormatInt(g.RecvSeq, 10),
		g.RunID, strconv.FormatInt(g.EpochID, 10), string(g.Event), g.Details,
	})
}

// rawEnvelope wraps one raw wire frame with the ordering columns needed to
// replay the diffs/trades streams in (recv_ms, recv_seq) order: rows are
// strictly monotonic in that pair.
type rawEnvelope struct {
	RecvMs  int64           `json:"recv_ms"`
	RecvSeq int64           `json:"recv_seq"`
	EpochID int64           `json:"epoch_id,omitempty"`
	Raw     json.RawMessage `json:"raw"`
}

// WriteDiff appends one raw depth frame to the NDJSON diffs stream.
func (f *Fabric) WriteDiff(recvMs, recvSeq, epochID int64, raw []byte) error {
	b, err := json.Marshal(rawEnvelope{RecvMs: recvMs, RecvSeq: recvSeq, EpochID: epochID, Raw: rawJSON(raw)})
	if err != nil {
		return err
	}
	return f.diffs.writeLine(b)
}

// WriteRawTrade appends one raw trade frame to the NDJSON raw-trades stream.
func (f *Fabric) WriteRawTrade(recvMs, recvSeq int64, raw []byte) error {
	b, err := json.Marshal(rawEnvelope{RecvMs: recvMs, RecvSeq: recvSeq, Raw: rawJSON(raw)})
	if err != nil {
		return err
	}
	return f.rawTrades.writeLine(b)
}

// rawJSON returns raw as a json.RawMessage if it is valid JSON, else encodes
// it as a base64 JSON string so non-JSON wire frames never corrupt the
// envelope.
func rawJSON(raw []byte) json.RawMessage {
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	b, _ := json.Marshal(raw)
	return json.RawMessage(b)
}

// Flush forces every buffered stream out to its file. The orchestrator's
// periodic flush timer calls this so buffered rows never sit longer than the
// configured interval when the feed goes quiet.
func (f *Fabric) Flush() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(f.book.forceFlush())
	record(f.trades.forceFlush())
	record(f.eventsLog.forceFlush())
	if f.gaps != nil {
		record(f.gaps.forceFlush())
	}
	record(f.diffs.forceFlush())
	record(f.rawTrades.forceFlush())
	return firstErr
}

// Close flushes and finalizes every stream. Safe to call once at clean
// shutdown; each underlying stream tolerates a second close.
func (f *Fabric) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if f.book != nil {
		record(f.book.close())
	}
	if f.trades != nil {
		record(f.trades.close())
	}
	if f.eventsLog != nil {
		record(f.eventsLog.close())
	}
	if f.gaps != nil {
		record(f.gaps.close())
	}
	if f.diffs != nil {
		record(f.diffs.close())
	}
	if f.rawTrades != nil {
		record(f.rawTrades.close())
	}
	return firstErr
}
