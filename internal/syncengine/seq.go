// SeqEngine implements the sequence-id bridge sync variant for Binance.
package syncengine

import (
	"fmt"

	"github.com/hworldcom/mdrecorder/internal/events"
	"github.com/hworldcom/mdrecorder/internal/orderbook"
)

// SeqEngine bridges an asynchronous REST snapshot with Binance's U/u
// sequence-numbered diff stream.
type SeqEngine struct {
	book          *orderbook.Depth
	state         events.State
	buffer        []Diff
	maxBufferWarn int

	// pending snapshot awaiting a bridge
	havePending  bool
	pendingL     int64
	pendingBids  []orderbook.Level
	pendingAsks  []orderbook.Level
	pendingEpoch int64

	lastU int64 // last applied u, valid once state == SYNCED
}

func NewSeqEngine(book *orderbook.Depth, maxBufferWarn int) *SeqEngine {
	return &SeqEngine{book: book, state: events.StateConnecting, maxBufferWarn: maxBufferWarn}
}

func (e *SeqEngine) State() events.State { return e.state }
func (e *SeqEngine) BufferDepth() int    { return len(e.buffer) }
func (e *SeqEngine) EpochID() int64      { return e.book.EpochID() }

func (e *SeqEngine) Reset() {
	e.state = events.StateConnecting
	e.buffer = nil
	e.havePending = false
	e.lastU = 0
}

func (e *SeqEngine) BeginSnapshot() {
	e.state = events.StateSnapshot
}

// OnSnapshot records the new snapshot (lastUpdateId = L) and immediately
// attempts to bridge it against already-buffered diffs. Returns (true, nil)
// if the bridge completed and the book is now
// SYNCED; (false, nil) if more diffs must arrive before a bridge can be
// determined (state becomes SYNCING); or a non-nil error — ErrStaleSnapshot
// when the buffer cannot possibly bridge and a fresh snapshot must be
// fetched immediately.
func (e *SeqEngine) OnSnapshot(bids, asks []orderbook.Level, lastUpdateID, epoch int64) (bool, error) {
	e.havePending = true
	e.pendingL = lastUpdateID
	e.pendingBids = bids
	e.pendingAsks = asks
	e.pendingEpoch = epoch
	e.state = events.StateSyncing
	return e.tryBridge()
}

// OnUpdate processes one incoming diff according to the current state.
func (e *SeqEngine) OnUpdate(d Diff) (Action, error) {
	switch e.state {
	case events.StateConnecting, events.StateSnapshot:
		e.buffer = append(e.buffer, d)
		return ActionBuffered, nil
	case events.StateSyncing:
		e.buffer = append(e.buffer, d)
		synced, err := e.tryBridge()
		if err != nil {
			return ActionDiscardedStale, err
		}
		if synced {
			return ActionNewlySynced, nil
		}
		return ActionBuffered, nil
	case events.StateSynced:
		return e.applySteadyState(d)
	case events.StateResyncing:
		e.buffer = append(e.buffer, d)
		return ActionBuffered, nil
	default:
		return ActionBuffered, nil
	}
}

func (e *SeqEngine) applySteadyState(d Diff) (Action, error) {
	if d.LastUpdateID <= e.lastU {
		return ActionDiscardedDuplicate, nil
	}
	if d.FirstUpdateID != e.lastU+1 {
		return ActionGap, fmt.Errorf("syncengine: gap, want U=%d got U=%d (u=%d)", e.lastU+1, d.FirstUpdateID, d.LastUpdateID)
	}
	if err := e.book.ApplyUpdate(d.Bids, d.Asks); err != nil {
		return ActionCrossedBook, err
	}
	e.lastU = d.LastUpdateID
	return ActionApplied, nil
}

// tryBridge discards stale buffered diffs, looks for the bridge diff, and if
// found applies it plus every contiguous diff after it.
func (e *SeqEngine) tryBridge() (bool, error) {
	L := e.pendingL

	// Discard buffered diffs whose u <= L (duplicates of data already in the
	// snapshot).
	kept := e.buffer[:0]
	for _, d := range e.buffer {
		if d.LastUpdateID <= L {
			continue
		}
		kept = append(kept, d)
	}
	e.buffer = kept

	if len(e.buffer) == 0 {
		return false, nil // wait for more diffs
	}

	bridgeIdx := -1
	for i, d := range e.buffer {
		if d.FirstUpdateID <= L+1 && L+1 <= d.LastUpdateID {
			bridgeIdx = i
			break
		}
	}

	if bridgeIdx == -1 {
		newest := e.buffer[len(e.buffer)-1]
		if newest.LastUpdateID < L+1 {
			return false, nil // not enough data yet, wait for more diffs
		}
		// Either the oldest buffered diff starts after L+1 (buffer too
		// stale), or L+1 falls in a gap between two buffered diffs. Neither
		// can ever be bridged by waiting for more (forward-only) diffs, so
		// both re-snapshot immediately rather than speculate across the gap.
		e.buffer = nil
		e.havePending = false
		return false, ErrStaleSnapshot
	}

	// Load the book with the full snapshot, then apply the bridge diff and
	// every subsequent buffered diff requiring contiguous U.
	e.book.LoadSnapshot(e.pendingBids, e.pendingAsks, L, e.pendingEpoch)

	bridge := e.buffer[bridgeIdx]
	if err := e.book.ApplyUpdate(bridge.Bids, bridge.Asks); err != nil {
		return false, err
	}
	prevU := bridge.LastUpdateID

	for _, d := range e.buffer[bridgeIdx+1:] {
		if d.FirstUpdateID != prevU+1 {
			// A gap inside the buffered run: cannot speculate across it.
			// Leave what's already applied in place; the caller's next
			// steady-state OnUpdate call will detect the same gap and
			// trigger a resync.
			break
		}
		if err := e.book.ApplyUpdate(d.Bids, d.Asks); err != nil {
			return false, err
		}
		prevU = d.LastUpdateID
	}

	e.lastU = prevU
	e.buffer = nil
	e.havePending = false
	e.state = events.StateSynced
	return true, nil
}
