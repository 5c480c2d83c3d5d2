// Package wire holds the three exchanges' frame classification and decoding:
// turning raw WebSocket bytes into internal/syncengine.Diff and
// internal/events.Trade values. Kept separate from internal/syncengine so the
// sync state machine stays exchange-agnostic and this package carries the
// wire-format quirks instead (Bitfinex's dual update shapes, Kraken's
// stripped-zero numeric strings, Binance's combined-stream envelope).
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hworldcom/mdrecorder/internal/orderbook"
	"github.com/hworldcom/mdrecorder/internal/transport"
)

// envelopeProbe sniffs just enough of a frame to classify it without a full
// decode: a cheap discriminator struct ahead of the real unmarshal.
type envelopeProbe struct {
	Event   string `json:"e"`      // Binance (possibly nested under "data")
	Stream  string `json:"stream"` // Binance combined-stream wrapper
	Channel string `json:"channel"` // Kraken v2
	Type    string `json:"type"`    // Kraken v2
}

func peek(raw []byte) envelopeProbe {
	var p envelopeProbe
	_ = json.Unmarshal(raw, &p)
	return p
}

// ErrUnhandledFrame is returned by a Decode* function given a frame shape it
// doesn't recognize (heartbeats, subscription acks). Callers treat this as
// Kind Unknown and drop the frame.
var ErrUnhandledFrame = fmt.Errorf("wire: unhandled frame shape")

var _ transport.Classifier = ClassifyBinance

// levelsFromWire converts exchange [price, qty] string pairs (Binance
// depthUpdate) into orderbook.Level, preserving the raw wire strings.
func levelsFromWire(pairs [][]string) ([]orderbook.Level, error) {
	out := make([]orderbook.Level, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("wire: malformed level %v", p)
		}
		price, err := decimal.NewFromString(p[0])
		if err != nil {
			return nil, fmt.Errorf("wire: bad price %q: %w", p[0], err)
		}
		qty, err := decimal.NewFromString(p[1])
		if err != nil {
			return nil, fmt.Errorf("wire: bad qty %q: %w", p[1], err)
		}
		out = append(out, orderbook.Level{Price: price, Qty: qty, RawPrice: p[0], RawQty: p[1]})
	}
	return out, nil
}
