// Package snapshot implements the REST snapshot source (Binance). Kraken and
// Bitfinex instead take their authoritative book from the first post-
// (re)subscribe WebSocket frame, decoded inline off the transport dispatch
// loop rather than through a Source — see internal/recorder.
package snapshot

import (
	"context"

	"github.com/hworldcom/mdrecorder/internal/orderbook"
)

// Snapshot is the authoritative book state returned by any Source.
type Snapshot struct {
	Bids, Asks   []orderbook.Level
	LastUpdateID int64  // 0 sentinel for in-band/checksum exchanges
	Checksum     *uint32 // exchange-reported checksum, if any
	Raw          []byte  // wire-exact bytes, preserved for audit/replay
}

// Source fetches one authoritative snapshot.
type Source interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}
