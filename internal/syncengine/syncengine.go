// Package syncengine implements the sync state machine: bridging an
// asynchronous snapshot with a continuous diff stream, using either
// sequence-id bridging (Binance, seq.go) or periodic CRC32 checksums
// (Kraken/Bitfinex, checksum.go/kraken.go/bitfinex.go). This is the heart of
// the recorder — a correctness bug here silently poisons every downstream
// research pipeline.
//
// Both variants implement the common Engine interface: SyncEngine is
// logically a sum type (Seq(Binance) | Checksum(Kraken) | Checksum(Bitfinex))
// expressed as two Go types behind one interface rather than a string-keyed
// exchange dispatch.
package syncengine

import (
	"errors"

	"github.com/hworldcom/mdrecorder/internal/events"
	"github.com/hworldcom/mdrecorder/internal/orderbook"
)

// Action classifies what happened to one OnUpdate call.
type Action int

const (
	ActionBuffered Action = iota
	ActionApplied
	ActionDiscardedDuplicate
	ActionDiscardedStale
	ActionGap
	ActionChecksumMismatch
	ActionCrossedBook
	// ActionNewlySynced is returned (instead of ActionApplied) as the
	// dedicated outcome of the call that completes a (re)bridge/(re)sync, so
	// the orchestrator knows to emit resync_done with the new epoch.
	ActionNewlySynced
)

// Diff is the logical, exchange-normalized incremental depth update. For
// checksum exchanges FirstUpdateID/LastUpdateID are zero sentinels; Checksum
// carries the exchange-reported CRC32 instead.
type Diff struct {
	EventTimeMs    int64
	FirstUpdateID  int64 // U
	LastUpdateID   int64 // u
	Bids, Asks     []orderbook.Level
	Checksum       *uint32
	Raw            []byte
}

// ErrStaleSnapshot is returned by OnSnapshot when the buffer is too stale to
// bridge (oldest buffered diff's U > L+1): the buffer is discarded and a
// fresh snapshot fetched immediately.
var ErrStaleSnapshot = errors.New("syncengine: buffered diffs too stale to bridge, re-snapshot required")

// Engine is the common interface both variants implement.
type Engine interface {
	// State returns the current lifecycle state.
	State() events.State
	// Reset drops to CONNECTING and clears any buffered/pending state, ready
	// for a fresh (re)snapshot attempt.
	Reset()
	// BeginSnapshot transitions to SNAPSHOT, signaling a fetch is underway.
	BeginSnapshot()
	// BufferDepth reports how many diffs are buffered awaiting sync, for the
	// max_buffer_warn diagnostic.
	BufferDepth() int
	// EpochID returns the book's current epoch.
	EpochID() int64
}
