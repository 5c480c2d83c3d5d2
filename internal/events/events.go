// Package events defines the ledger and gap record types shared between the
// sync engine, orchestrator, and writer fabric.
package events

// Type enumerates the recognized event ledger entries.
type Type string

const (
	RunStart         Type = "run_start"
	RunEnd           Type = "run_end"
	WSOpen           Type = "ws_open"
	WSClose          Type = "ws_close"
	SnapshotStart    Type = "snapshot_start"
	SnapshotDone     Type = "snapshot_done"
	StateChange      Type = "state_change"
	ResyncStart      Type = "resync_start"
	ResyncDone       Type = "resync_done"
	Gap              Type = "gap"
	ChecksumMismatch Type = "checksum_mismatch"
	WindowStart      Type = "window_start"
	WindowEnd        Type = "window_end"
	// StaleSnapshot logs the decision to discard the buffer and re-snapshot
	// immediately: a REST snapshot whose lastUpdateId is older than the
	// oldest buffered diff's U-1.
	StaleSnapshot Type = "stale_snapshot"
	// Warning covers no_data_warn_s / sync_warn_after_s / max_buffer_warn
	// telemetry warnings, which are not resync-triggering.
	Warning Type = "warning"
)

// Record is one row of the events ledger.
type Record struct {
	EventID    int64 // monotonic, process-local
	RecvTimeMs int64
	RecvSeq    int64
	RunID      string
	Type       Type
	EpochID    int64
	Details    string // JSON-encoded details blob
}

// GapRecord is one row of the optional gaps stream.
type GapRecord struct {
	RecvTimeMs int64
	RecvSeq    int64
	RunID      string
	EpochID    int64
	Event      Type
	Details    string
}

// Trade is one normalized trade print. Side is "buy" or "sell" from the
// taker's perspective where the exchange reports it; IsBuyerMaker is only
// meaningful for exchanges (Binance) that report it directly.
type Trade struct {
	EventTimeMs  int64
	RecvTimeMs   int64
	RecvSeq      int64
	TradeID      string
	Price        string // decimal string, never float-formatted
	Qty          string
	Side         string
	IsBuyerMaker *bool
	Raw          []byte
}

// State enumerates the orchestrator/sync-engine lifecycle states. Reused by
// both so a state_change event can report either layer with the same
// vocabulary.
type State string

const (
	StateConnecting State = "CONNECTING"
	StateSnapshot   State = "SNAPSHOT"
	StateSyncing    State = "SYNCING"
	StateSynced     State = "SYNCED"
	StateResyncing  State = "RESYNCING"
	StateStopped    State = "STOPPED"
)
