// ChecksumEngine implements the checksum-bridge sync variant shared by
// Kraken and Bitfinex. The exchange-specific checksum string construction is
// supplied by a Flavor (kraken.go, bitfinex.go); this file holds the state
// machine and CRC32 verification common to both.
package syncengine

import (
	"fmt"
	"hash/crc32"

	"github.com/hworldcom/mdrecorder/internal/events"
	"github.com/hworldcom/mdrecorder/internal/orderbook"
)

// Flavor supplies the exchange-specific parts of checksum verification: how
// many levels per side to track, and how to render the checksum string from
// the trimmed book.
type Flavor interface {
	// TrackDepth is how many levels per side the engine must trim the book to
	// after every apply (Kraken's subscribed depth, Bitfinex's fixed top-25).
	TrackDepth() int
	// ChecksumString renders the exact string to CRC32 over, given the
	// trimmed top-of-book snapshot.
	ChecksumString(bids, asks []orderbook.Level) string
	// Signed reports whether the checksum should be interpreted as a signed
	// int32 before comparison (Bitfinex) rather than unsigned (Kraken).
	Signed() bool
}

// ChecksumEngine bridges an in-band WebSocket snapshot with a checksummed
// diff stream. Unlike SeqEngine there is no sequence-id gap detection: every
// apply of a diff that carries a reported checksum (a Kraken update, or a
// Bitfinex "cs" frame) is followed by a CRC32 comparison, and any mismatch
// forces a resync. Diffs without a checksum are applied unverified.
type ChecksumEngine struct {
	book   *orderbook.Depth
	flavor Flavor
	state  events.State
	buffer []Diff
}

func NewChecksumEngine(book *orderbook.Depth, flavor Flavor) *ChecksumEngine {
	return &ChecksumEngine{book: book, flavor: flavor, state: events.StateConnecting}
}

func (e *ChecksumEngine) State() events.State { return e.state }
func (e *ChecksumEngine) BufferDepth() int    { return len(e.buffer) }
func (e *ChecksumEngine) EpochID() int64      { return e.book.EpochID() }

func (e *ChecksumEngine) Reset() {
	e.state = events.StateConnecting
	e.buffer = nil
}

func (e *ChecksumEngine) BeginSnapshot() {
	e.state = events.StateSnapshot
}

// OnSnapshot replaces the book wholesale with the in-band snapshot, verifies
// the exchange-reported checksum against it, trims to the tracked depth, and
// transitions to SYNCED. The snapshot itself is checksum-verified, same as
// any subsequent update.
func (e *ChecksumEngine) OnSnapshot(bids, asks []orderbook.Level, epoch int64, reportedChecksum *uint32) error {
	e.book.LoadSnapshot(bids, asks, 0, epoch)
	e.book.TrimToDepth(e.flavor.TrackDepth())
	e.buffer = nil

	if reportedChecksum != nil {
		if err := e.verify(*reportedChecksum); err != nil {
			return err
		}
	}
	e.state = events.StateSynced
	return nil
}

// OnUpdate applies one checksummed diff and verifies the result.
func (e *ChecksumEngine) OnUpdate(d Diff) (Action, error) {
	if e.state != events.StateSynced {
		e.buffer = append(e.buffer, d)
		return ActionBuffered, nil
	}

	if err := e.book.ApplyUpdate(d.Bids, d.Asks); err != nil {
		return ActionCrossedBook, err
	}
	e.book.TrimToDepth(e.flavor.TrackDepth())

	if d.Checksum == nil {
		return ActionApplied, nil
	}
	if err := e.verify(*d.Checksum); err != nil {
		return ActionChecksumMismatch, err
	}
	return ActionApplied, nil
}

func (e *ChecksumEngine) verify(reported uint32) error {
	snap := e.book.Retrieve(e.flavor.TrackDepth())
	str := e.flavor.ChecksumString(snap.Bids, snap.Asks)
	local := crc32.ChecksumIEEE([]byte(str))

	var mismatch bool
	if e.flavor.Signed() {
		mismatch = int32(local) != int32(reported)
	} else {
		mismatch = local != reported
	}
	if mismatch {
		return fmt.Errorf("syncengine: checksum mismatch local=%d reported=%d over %q", local, reported, str)
	}
	return nil
}
