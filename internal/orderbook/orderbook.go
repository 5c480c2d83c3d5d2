// Package orderbook implements the local level-2 order book: an in-memory
// price->quantity mapping per side with top-N extraction, crossed-book
// detection, and atomic snapshot replacement. The shape (a Depth handle
// exposing LoadSnapshot/Retrieve/ApplyUpdate/Invalidate over a Base of two
// sides) follows the pattern seen in production exchange connectivity code,
// scoped here to a single book owned exclusively by one orchestrator
// goroutine for its lifetime.
//
// Price comparison always uses decimal.Decimal; floating point is never used
// between wire ingest and gzip write.
package orderbook

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrCrossedBook is returned by Validate when best_bid >= best_ask.
	ErrCrossedBook = errors.New("orderbook: crossed book")
	// ErrInvalid is returned by Retrieve when the book has been Invalidate()d and
	// not yet replaced by a fresh snapshot.
	ErrInvalid = errors.New("orderbook: invalid, awaiting resync")
	// ErrEmptyBook is returned by BestBid/BestAsk when a side has no levels.
	ErrEmptyBook = errors.New("orderbook: side empty")
)

// Level is a single (price, qty) pair. qty == 0 denotes a delete on apply, but
// a Level retrieved from the book always carries qty > 0.
//
// RawPrice/RawQty preserve the exact wire-carried numeric strings (decimal
// points, leading/trailing zero formatting and all) for checksum exchanges,
// where the CRC32 must be computed over the bytes the exchange actually sent
// rather than our own decimal-to-string rendering. They are empty for
// sources (e.g. Binance) that don't need wire-exact checksums.
type Level struct {
	Price    decimal.Decimal
	Qty      decimal.Decimal
	RawPrice string
	RawQty   string
}

// Side is ascending (asks) or descending (bids) order.
type Side int

const (
	Bid Side = iota
	Ask
)

// side is one book side: a map for O(1) apply plus a sorted price slice
// rebuilt lazily (dirty-flagged) for top-N reads — two dense arrays re-sorted
// on flush rather than a balanced tree, since reads are bursty and writes are
// frequent.
type side struct {
	levels map[string]Level
	sorted []decimal.Decimal // keys, in side order; rebuilt when dirty
	dirty  bool
	kind   Side
}

func newSide(kind Side) *side {
	return &side{levels: make(map[string]Level), kind: kind}
}

func (s *side) apply(levels []Level) {
	for _, l := range levels {
		key := l.Price.String()
		if l.Qty.IsZero() {
			if _, ok := s.levels[key]; ok {
				delete(s.levels, key)
				s.dirty = true
			}
			continue
		}
		s.levels[key] = l
		s.dirty = true
	}
}

func (s *side) replace(levels []Level) {
	s.levels = make(map[string]Level, len(levels))
	for _, l := range levels {
		if l.Qty.IsZero() {
			continue
		}
		s.levels[l.Price.String()] = l
	}
	s.dirty = true
}

func (s *side) resort() {
	if !s.dirty {
		return
	}
	s.sorted = s.sorted[:0]
	for k := range s.levels {
		d, _ := decimal.NewFromString(k)
		s.sorted = append(s.sorted, d)
	}
	if s.kind == Bid {
		sort.Slice(s.sorted, func(i, j int) bool { return s.sorted[i].GreaterThan(s.sorted[j]) })
	} else {
		sort.Slice(s.sorted, func(i, j int) bool { return s.sorted[i].LessThan(s.sorted[j]) })
	}
	s.dirty = false
}

func (s *side) best() (Level, bool) {
	s.resort()
	if len(s.sorted) == 0 {
		return Level{}, false
	}
	return s.levels[s.sorted[0].String()], true
}

func (s *side) topN(n int) []Level {
	s.resort()
	if n > len(s.sorted) {
		n = len(s.sorted)
	}
	out := make([]Level, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.levels[s.sorted[i].String()])
	}
	return out
}

// trim drops every level beyond the top depth entries (checksum exchanges
// must track exactly their subscribed depth).
func (s *side) trim(depth int) {
	s.resort()
	if len(s.sorted) <= depth {
		return
	}
	for _, p := range s.sorted[depth:] {
		delete(s.levels, p.String())
	}
	s.sorted = s.sorted[:depth]
}

// Base is the two-sided book plus lifecycle metadata. It is not safe for
// concurrent use directly; callers embed it in Depth for a mutex, or rely on
// the single-owner-goroutine guarantee the orchestrator provides.
type Base struct {
	Bids *side
	Asks *side

	Valid        bool
	EpochID      int64
	LastUpdateID int64
}

// NewBase returns an empty, invalid book (no snapshot applied yet).
func NewBase() *Base {
	return &Base{Bids: newSide(Bid), Asks: newSide(Ask)}
}

// Replace wholesale-replaces both sides, used on (re)snapshot, and marks the
// book valid. It does not change EpochID; callers set the new epoch
// themselves (NextEpoch, or the epoch argument of Depth.LoadSnapshot).
func (b *Base) Replace(bids, asks []Level, lastUpdateID int64) {
	b.Bids.replace(bids)
	b.Asks.replace(asks)
	b.LastUpdateID = lastUpdateID
	b.Valid = true
}

// ApplySide applies incremental levels to one side; qty == 0 deletes.
func (b *Base) ApplySide(levels []Level, s Side) {
	if s == Bid {
		b.Bids.apply(levels)
	} else {
		b.Asks.apply(levels)
	}
}

// TrimToDepth trims both sides to at most depth levels (Kraken/Bitfinex
// checksum bookkeeping).
func (b *Base) TrimToDepth(depth int) {
	b.Bids.trim(depth)
	b.Asks.trim(depth)
}

// TopN returns up to n levels per side, best first.
func (b *Base) TopN(n int) (bids, asks []Level) {
	return b.Bids.topN(n), b.Asks.topN(n)
}

// BestBid/BestAsk return the best price level on a side.
func (b *Base) BestBid() (Level, error) {
	l, ok := b.Bids.best()
	if !ok {
		return Level{}, ErrEmptyBook
	}
	return l, nil
}

func (b *Base) BestAsk() (Level, error) {
	l, ok := b.Asks.best()
	if !ok {
		return Level{}, ErrEmptyBook
	}
	return l, nil
}

// ValidateCrossed fails if best_bid >= best_ask. A crossed book after apply
// is a hard fault and forces a resync.
func (b *Base) ValidateCrossed() error {
	bid, errB := b.BestBid()
	ask, errA := b.BestAsk()
	if errB != nil || errA != nil {
		return nil // an empty side cannot be crossed
	}
	if bid.Price.GreaterThanOrEqual(ask.Price) {
		return fmt.Errorf("%w: bid %s >= ask %s", ErrCrossedBook, bid.Price, ask.Price)
	}
	return nil
}

// NextEpoch increments and returns the epoch id. Called on every successful
// (re)bridge or (re)checksum-sync.
func (b *Base) NextEpoch() int64 {
	b.EpochID++
	return b.EpochID
}

// Depth is the mutex-guarded handle the orchestrator and its sync engine
// share a reference to; writers receive copied level slices (Retrieve), never
// the handle, and nothing holds a back-pointer from the book to its users.
type Depth struct {
	mu   sync.Mutex
	base *Base
}

func NewDepth() *Depth {
	return &Depth{base: NewBase()}
}

// LoadSnapshot atomically replaces the book. epoch is the caller-computed new
// epoch id (the orchestrator owns epoch sequencing so that it can emit the
// resync_done event with the same number it stamps here).
func (d *Depth) LoadSnapshot(bids, asks []Level, lastUpdateID, epoch int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.base.Replace(bids, asks, lastUpdateID)
	d.base.EpochID = epoch
}

// ApplyUpdate applies incremental levels then validates the result is not
// crossed. On failure the book is invalidated and the error returned so the
// orchestrator can trigger a resync.
func (d *Depth) ApplyUpdate(bids, asks []Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.base.Valid {
		return ErrInvalid
	}
	d.base.ApplySide(bids, Bid)
	d.base.ApplySide(asks, Ask)
	if err := d.base.ValidateCrossed(); err != nil {
		d.base.Valid = false
		return err
	}
	return nil
}

// TrimToDepth delegates to Base.TrimToDepth under the lock.
func (d *Depth) TrimToDepth(depth int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.base.TrimToDepth(depth)
}

// Invalidate marks the book unusable; further ApplyUpdate calls fail until the
// next LoadSnapshot.
func (d *Depth) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.base.Valid = false
}

// Retrieve returns a read-only top-N snapshot of the book plus metadata.
type Snapshot struct {
	Bids, Asks   []Level
	Valid        bool
	EpochID      int64
	LastUpdateID int64
}

func (d *Depth) Retrieve(n int) Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	bids, asks := d.base.TopN(n)
	return Snapshot{
		Bids: bids, Asks: asks,
		Valid: d.base.Valid, EpochID: d.base.EpochID, LastUpdateID: d.base.LastUpdateID,
	}
}

// IsValid reports the book's validity flag without copying level data.
func (d *Depth) IsValid() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.base.Valid
}

// EpochID returns the current epoch without copying level data.
func (d *Depth) EpochID() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.base.EpochID
}
