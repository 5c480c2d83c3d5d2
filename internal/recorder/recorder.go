// Package recorder implements the orchestrator: the top-level state machine
// CONNECTING -> SNAPSHOT -> SYNCING -> SYNCED -> (RESYNCING -> SYNCED)* ->
// STOPPED, trading-window gating, and the wiring between transport, the sync
// engine, the snapshot source, and the writer fabric. The constructor
// pattern, New(cfg) (*Recorder, error) with sentinel validation up front,
// follows the subsystem-manager shape used elsewhere in this codebase.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hworldcom/mdrecorder/internal/config"
	"github.com/hworldcom/mdrecorder/internal/errkind"
	"github.com/hworldcom/mdrecorder/internal/events"
	"github.com/hworldcom/mdrecorder/internal/logging"
	"github.com/hworldcom/mdrecorder/internal/orderbook"
	"github.com/hworldcom/mdrecorder/internal/seqalloc"
	"github.com/hworldcom/mdrecorder/internal/syncengine"
	"github.com/hworldcom/mdrecorder/internal/transport"
	"github.com/hworldcom/mdrecorder/internal/writer"
)

// maxStaleSnapshotRetries bounds the re-snapshot loop a stale REST fetch
// triggers; exceeding it is treated as a fatal SnapshotTransient.
const maxStaleSnapshotRetries = 5

// Recorder owns one symbol's run lifecycle for the process's duration.
type Recorder struct {
	cfg     *config.Config
	runID   string
	log     zerolog.Logger
	adapter *exchangeAdapter

	seq  *seqalloc.Allocator
	book *orderbook.Depth
	eng  engine

	frames chan transport.Message
	client *transport.Client
	sink   *eventSink
	fabric *writer.Fabric

	everSynced bool
	lastMsgAt  time.Time
}

// New validates configuration and builds the exchange-specific wiring. It
// does not open any network connection or file; that happens in Run.
func New(cfg *config.Config) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, err)
	}
	adapter, err := buildExchangeAdapter(cfg)
	if err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, err)
	}
	book := orderbook.NewDepth()
	eng, err := adapter.newEngine(book)
	if err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, err)
	}
	return &Recorder{
		cfg: cfg, runID: uuid.NewString(), log: logging.For(logging.Recorder),
		adapter: adapter, seq: seqalloc.New(), book: book, eng: eng,
	}, nil
}

// Run blocks until ctx is canceled or a fatal error occurs, cycling through
// trading windows. A clean window close returns nil; the caller
// (cmd/recorder) maps that to exit code 0 and any non-nil error to a
// non-zero exit.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		w, err := nextWindow(r.cfg, time.Now())
		if err != nil {
			return errkind.New(errkind.ConfigInvalid, err)
		}
		if wait := time.Until(w.Start); wait > 0 {
			r.log.Info().Time("window_start", w.Start).Dur("wait", wait).Msg("waiting for trading window")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}
		if err := r.runWindow(ctx, w); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *Recorder) runWindow(ctx context.Context, w window) error {
	fabric, err := writer.Open(writer.Config{
		DataDir: r.cfg.DataDir, Symbol: r.cfg.Symbol, Exchange: string(r.cfg.Exchange), Day: w.Start,
		DepthLevels:             r.cfg.DepthLevels,
		OrderbookBufferRows:     r.cfg.OrderbookBufferRows,
		TradesBufferRows:        r.cfg.TradesBufferRows,
		BufferFlushInterval:     time.Duration(r.cfg.BufferFlushIntervalSec) * time.Second,
		DiffsBytesThreshold:     1 << 20,
		RawTradesBytesThreshold: 1 << 20,
		EnableGaps:              true,
	})
	if err != nil {
		return errkind.New(errkind.DiskIO, fmt.Errorf("open writer fabric: %w", err))
	}
	r.fabric = fabric
	r.sink = &eventSink{seq: r.seq, fabric: fabric, runID: r.runID, epochFunc: r.eng.EpochID, log: r.log}
	r.everSynced = false

	r.sink.record(events.RunStart, fmt.Sprintf(`{"symbol":%q,"exchange":%q}`, r.cfg.Symbol, r.cfg.Exchange))
	r.sink.record(events.WindowStart, fmt.Sprintf(`{"start":%q,"end":%q}`, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339)))

	windowCtx, cancel := context.WithDeadline(ctx, w.End)
	defer cancel()

	r.frames = make(chan transport.Message, 4096)
	r.client = transport.New(transport.Config{
		URL: r.adapter.wsURL, PingIntervalS: r.cfg.WSPingIntervalS, PingTimeoutS: r.cfg.WSPingTimeoutS,
		OpenTimeoutS: r.cfg.WSOpenTimeoutS, ReconnectBackoffS: r.cfg.WSReconnectBackoffS,
		ReconnectBackoffMaxS: r.cfg.WSReconnectBackoffMaxS, MaxSessionS: r.cfg.WSMaxSessionS,
		NoDataWarnS: r.cfg.WSNoDataWarnS, InsecureTLS: r.cfg.InsecureTLS,
	}, r.adapter.subscribe, r.adapter.classify, r.frames, r.sink)

	transportErr := make(chan error, 1)
	go func() { transportErr <- r.client.Run(windowCtx) }()

	r.eng.BeginSnapshot()
	r.sink.record(events.StateChange, `{"state":"SNAPSHOT"}`)
	r.lastMsgAt = time.Now()
	runErr := r.establishSync(windowCtx)
	if runErr == nil {
		runErr = r.dispatchLoop(windowCtx)
	}

	cancel()
	<-transportErr

	r.sink.record(events.WindowEnd, fmt.Sprintf(`{"end":%q}`, w.End.Format(time.RFC3339)))
	r.sink.record(events.RunEnd, "{}")
	if closeErr := r.fabric.Close(); closeErr != nil {
		return errkind.New(errkind.DiskIO, fmt.Errorf("close writer fabric: %w", closeErr))
	}
	if runErr != nil && !errors.Is(runErr, context.DeadlineExceeded) && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func (r *Recorder) dispatchLoop(ctx context.Context) error {
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatSec) * time.Second)
	defer heartbeat.Stop()
	flush := time.NewTicker(time.Duration(r.cfg.BufferFlushIntervalSec) * time.Second)
	defer flush.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.frames:
			if err := r.handleMessage(ctx, msg); err != nil {
				if isFatal(err) {
					return err
				}
				r.log.Warn().Err(err).Msg("dispatch error")
			}
		case <-flush.C:
			if err := r.fabric.Flush(); err != nil {
				return errkind.New(errkind.DiskIO, fmt.Errorf("periodic flush: %w", err))
			}
		case <-heartbeat.C:
			r.emitHeartbeat()
		}
	}
}

// isFatal reports whether err ends the run: a fatal Kind, or a
// SnapshotTransient fault, which reaches the dispatch loop only once the
// snapshot source's retries (or maxStaleSnapshotRetries) are exhausted.
func isFatal(err error) bool {
	var fault *errkind.Fault
	return errors.As(err, &fault) && (fault.Kind.Fatal() || fault.Kind == errkind.SnapshotTransient)
}

// establishSync drives the CONNECTING/SNAPSHOT/SYNCING states until the
// engine reaches SYNCED, or ctx is canceled.
func (r *Recorder) establishSync(ctx context.Context) error {
	if !r.adapter.inBandSnapshot {
		if err := r.fetchRESTSnapshotRetrying(ctx, 0); err != nil {
			return err
		}
	}
	for r.eng.State() != events.StateSynced {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.frames:
			if err := r.handleMessage(ctx, msg); err != nil {
				if isFatal(err) {
					return err
				}
				r.log.Warn().Err(err).Msg("error while establishing sync")
			}
		}
	}
	return nil
}

// persist runs one stream write, retrying once on failure; a second failure
// is a fatal DiskIO fault that terminates the run after a best-effort flush.
func (r *Recorder) persist(op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	r.log.Warn().Err(err).Str("op", op).Msg("write failed, retrying once")
	if err = fn(); err != nil {
		return errkind.New(errkind.DiskIO, fmt.Errorf("%s: %w", op, err))
	}
	return nil
}

func (r *Recorder) emitHeartbeat() {
	sinceLast := time.Since(r.lastMsgAt)
	r.log.Info().
		Str("state", string(r.eng.State())).
		Bool("book_valid", r.book.IsValid()).
		Int("buffered", r.eng.BufferDepth()).
		Dur("since_last_msg", sinceLast).
		Msg("heartbeat")
	if sinceLast > time.Duration(r.cfg.SyncWarnAfterSec)*time.Second && r.eng.State() != events.StateSynced {
		r.sink.record(events.Warning, `{"reason":"sync_warn_after_sec elapsed"}`)
	}
	if r.eng.BufferDepth() >= r.cfg.MaxBufferWarn {
		r.sink.record(events.Warning, `{"reason":"max_buffer_warn exceeded"}`)
	}
}

func (r *Recorder) handleMessage(ctx context.Context, msg transport.Message) error {
	r.lastMsgAt = time.Now()
	recvMs := msg.RecvTime.UnixMilli()
	if msg.RecvTime.IsZero() {
		recvMs = time.Now().UnixMilli()
	}
	switch msg.Kind {
	case transport.Trade:
		return r.handleTrade(msg, recvMs)
	case transport.Heartbeat:
		return nil
	case transport.Checksum:
		d, err := checksumFrame(msg.Raw)
		if err != nil {
			r.sink.record(events.Warning, fmt.Sprintf(`{"reason":"decode_error","frame":"checksum","err":%q}`, err.Error()))
			return nil
		}
		return r.handleDiff(ctx, d, recvMs)
	case transport.Depth, transport.Snapshot:
		bd, err := r.adapter.decodeBook(msg.Kind, msg.Raw)
		if err != nil {
			r.sink.record(events.Warning, fmt.Sprintf(`{"reason":"decode_error","frame":"book","err":%q}`, err.Error()))
			return nil
		}
		if bd.IsSnapshot {
			return r.handleSnapshotFrame(ctx, bd, msg.Raw)
		}
		return r.handleDiff(ctx, bd.Diff, recvMs)
	default:
		return nil
	}
}

func (r *Recorder) handleSnapshotFrame(ctx context.Context, bd bookDecode, raw []byte) error {
	nextEpoch := r.book.EpochID() + 1
	in := snapshotInput{Bids: bd.Diff.Bids, Asks: bd.Diff.Asks, Checksum: bd.Diff.Checksum}
	r.sink.record(events.SnapshotStart, "{}")
	if _, err := r.eng.OnSnapshot(in, nextEpoch); err != nil {
		// An in-band snapshot failing its own checksum cannot be applied;
		// drop the book and wait for the exchange's next snapshot frame.
		r.sink.record(events.ChecksumMismatch, fmt.Sprintf(`{"frame":"snapshot","error":%q}`, err.Error()))
		return r.triggerResync(ctx)
	}
	return r.recordSnapshotDone(in, nextEpoch, raw)
}

// handleDiff allocates this ingress message's recv_seq exactly once and
// shares it across every stream row derived from the frame (raw diff, top-N
// book row).
func (r *Recorder) handleDiff(ctx context.Context, d syncengine.Diff, recvMs int64) error {
	recvSeq := r.seq.Next()
	action, err := r.eng.OnUpdate(d)
	if r.cfg.StoreDepthDiffs && len(d.Raw) > 0 {
		if werr := r.persist("diff", func() error {
			return r.fabric.WriteDiff(recvMs, recvSeq, r.eng.EpochID(), d.Raw)
		}); werr != nil {
			return werr
		}
	}
	if err != nil && errors.Is(err, syncengine.ErrStaleSnapshot) {
		r.sink.record(events.StaleSnapshot, fmt.Sprintf(`{"error":%q}`, err.Error()))
		if !r.adapter.inBandSnapshot {
			return r.fetchRESTSnapshotRetrying(ctx, 0)
		}
		return nil
	}
	switch action {
	case syncengine.ActionGap:
		r.sink.record(events.Gap, fmt.Sprintf(`{"error":%q}`, err.Error()))
		return r.triggerResync(ctx)
	case syncengine.ActionChecksumMismatch:
		r.sink.record(events.ChecksumMismatch, fmt.Sprintf(`{"error":%q}`, err.Error()))
		return r.triggerResync(ctx)
	case syncengine.ActionCrossedBook:
		r.sink.record(events.Warning, fmt.Sprintf(`{"reason":"crossed_book","error":%q}`, err.Error()))
		return r.triggerResync(ctx)
	case syncengine.ActionNewlySynced:
		return r.recordSyncReached()
	case syncengine.ActionApplied:
		return r.writeBookTopAt(recvMs, recvSeq)
	}
	return nil
}

func (r *Recorder) handleTrade(msg transport.Message, recvMs int64) error {
	tr, err := r.adapter.decodeTrade(msg.Raw)
	if err != nil {
		r.sink.record(events.Warning, fmt.Sprintf(`{"reason":"decode_error","frame":"trade","err":%q}`, err.Error()))
		return nil
	}
	tr.RecvTimeMs = recvMs
	tr.RecvSeq = r.seq.Next()
	if err := r.persist("trade", func() error { return r.fabric.WriteTrade(*tr) }); err != nil {
		return err
	}
	return r.persist("raw trade", func() error {
		return r.fabric.WriteRawTrade(tr.RecvTimeMs, tr.RecvSeq, msg.Raw)
	})
}

// triggerResync drops to RESYNCING and re-establishes the book. For REST
// exchanges this fetches a fresh snapshot immediately; for in-band exchanges
// the next snapshot-shaped frame the exchange sends (after its own
// resubscribe cadence) completes the resync — this recorder does not force a
// mid-session unsubscribe/resubscribe round-trip, a scope simplification
// recorded in DESIGN.md.
func (r *Recorder) triggerResync(ctx context.Context) error {
	r.sink.record(events.ResyncStart, "{}")
	r.sink.record(events.StateChange, `{"state":"RESYNCING"}`)
	r.eng.Reset()
	r.book.Invalidate()
	r.eng.BeginSnapshot()
	r.sink.record(events.StateChange, `{"state":"SNAPSHOT"}`)
	if !r.adapter.inBandSnapshot {
		return r.fetchRESTSnapshotRetrying(ctx, 0)
	}
	return nil
}

func (r *Recorder) fetchRESTSnapshotRetrying(ctx context.Context, attempt int) error {
	if attempt > maxStaleSnapshotRetries {
		return errkind.New(errkind.SnapshotTransient, fmt.Errorf("recorder: exceeded stale-snapshot retries"))
	}
	snap, err := r.adapter.restSnapshot.Fetch(ctx)
	if err != nil {
		return err
	}
	nextEpoch := r.book.EpochID() + 1
	in := snapshotInput{Bids: snap.Bids, Asks: snap.Asks, LastUpdateID: snap.LastUpdateID, Checksum: snap.Checksum}
	synced, serr := r.eng.OnSnapshot(in, nextEpoch)
	if serr != nil {
		if errors.Is(serr, syncengine.ErrStaleSnapshot) {
			r.sink.record(events.StaleSnapshot, fmt.Sprintf(`{"attempt":%d,"last_update_id":%d}`, attempt, in.LastUpdateID))
			return r.fetchRESTSnapshotRetrying(ctx, attempt+1)
		}
		return serr
	}
	if !synced {
		r.sink.record(events.StateChange, `{"state":"SYNCING"}`)
	}
	return r.recordSnapshotDone(in, nextEpoch, snap.Raw)
}

func (r *Recorder) recordSnapshotDone(in snapshotInput, epoch int64, raw []byte) error {
	recvMs := time.Now().UnixMilli()
	recvSeq := r.seq.Next()
	rec := r.sink.record(events.SnapshotDone, fmt.Sprintf(`{"epoch":%d,"last_update_id":%d}`, epoch, in.LastUpdateID))
	tag := "initial"
	if r.everSynced {
		tag = "resync"
	}
	snapRec := writer.SnapshotRecord{
		EventID: rec.EventID, RecvMs: recvMs, RecvSeq: recvSeq, EpochID: epoch,
		Symbol: r.cfg.Symbol, Exchange: string(r.cfg.Exchange), LastUpdateID: in.LastUpdateID, Checksum: in.Checksum,
	}
	if err := r.persist("snapshot", func() error {
		return r.fabric.WriteSnapshot(snapRec, in.Bids, in.Asks, raw, tag)
	}); err != nil {
		return err
	}
	if r.eng.State() == events.StateSynced {
		return r.recordSyncReached()
	}
	return nil
}

// recordSyncReached emits state_change plus resync_done with the new epoch on
// every completed (re)bridge, then writes the fresh top-of-book row.
func (r *Recorder) recordSyncReached() error {
	r.sink.record(events.StateChange, `{"state":"SYNCED"}`)
	r.sink.record(events.ResyncDone, fmt.Sprintf(`{"epoch":%d}`, r.eng.EpochID()))
	r.everSynced = true
	return r.writeBookTopNow()
}

// writeBookTopNow stamps a fresh (recv_ms, recv_seq) for book rows emitted
// outside a market-data ingress, e.g. right after a (re)sync completes.
func (r *Recorder) writeBookTopNow() error {
	return r.writeBookTopAt(time.Now().UnixMilli(), r.seq.Next())
}

func (r *Recorder) writeBookTopAt(recvMs, recvSeq int64) error {
	snap := r.book.Retrieve(r.cfg.DepthLevels)
	if !snap.Valid {
		return nil
	}
	return r.persist("book top", func() error {
		return r.fabric.WriteBookTop(recvMs, recvSeq, snap.EpochID, snap.LastUpdateID, snap.Bids, snap.Asks)
	})
}
