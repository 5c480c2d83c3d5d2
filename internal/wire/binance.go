package wire

import (
	"encoding/json"
	"fmt"

	"github.com/hworldcom/mdrecorder/internal/events"
	"github.com/hworldcom/mdrecorder/internal/syncengine"
	"github.com/hworldcom/mdrecorder/internal/transport"
)

// BinanceStreamURL builds the combined-stream endpoint for a symbol's depth
// and trade channels. Binance has no post-connect subscribe message; the
// subscription is encoded in the URL itself.
func BinanceStreamURL(baseWS, lowerSymbol string) string {
	return fmt.Sprintf("%s/stream?streams=%s@depth@100ms/%s@trade", baseWS, lowerSymbol, lowerSymbol)
}

// binanceEnvelope is the combined-stream wrapper: {"stream":"...","data":{...}}.
type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// unwrapBinance returns the inner data payload, or raw itself if the frame
// isn't wrapped (single-stream endpoints skip the envelope).
func unwrapBinance(raw []byte) []byte {
	var env binanceEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		return env.Data
	}
	return raw
}

// ClassifyBinance implements transport.Classifier for the combined stream.
func ClassifyBinance(raw []byte) transport.Kind {
	p := peek(unwrapBinance(raw))
	switch p.Event {
	case "depthUpdate":
		return transport.Depth
	case "trade":
		return transport.Trade
	default:
		return transport.Unknown
	}
}

// EventType binds the lowercase "e" key exactly; without it encoding/json's
// case-insensitive fallback would route "e" into the int64 "E" field.
type binanceDepthUpdate struct {
	EventType     string     `json:"e"`
	EventTimeMs   int64      `json:"E"`
	FirstUpdateID int64      `json:"U"`
	LastUpdateID  int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// DecodeBinanceDiff decodes one depthUpdate frame (combined-stream wrapped or
// not) into a syncengine.Diff.
func DecodeBinanceDiff(raw []byte) (*syncengine.Diff, error) {
	data := unwrapBinance(raw)
	var u binanceDepthUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("wire: decode binance depthUpdate: %w", err)
	}
	bids, err := levelsFromWire(u.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := levelsFromWire(u.Asks)
	if err != nil {
		return nil, err
	}
	return &syncengine.Diff{
		EventTimeMs:   u.EventTimeMs,
		FirstUpdateID: u.FirstUpdateID,
		LastUpdateID:  u.LastUpdateID,
		Bids:          bids,
		Asks:          asks,
		Raw:           raw,
	}, nil
}

// EventType and Ignore bind "e" and "M" exactly so the case-insensitive
// fallback cannot route them into the "E" and "m" fields.
type binanceTrade struct {
	EventType   string `json:"e"`
	EventTimeMs int64  `json:"E"`
	TradeID     int64  `json:"t"`
	Price       string `json:"p"`
	Qty         string `json:"q"`
	TradeTimeMs int64  `json:"T"`
	BuyerMaker  bool   `json:"m"`
	Ignore      bool   `json:"M"`
}

// DecodeBinanceTrade decodes one trade frame into an events.Trade. RecvTimeMs
// and RecvSeq are stamped by the caller at ingress, not here.
func DecodeBinanceTrade(raw []byte) (*events.Trade, error) {
	data := unwrapBinance(raw)
	var t binanceTrade
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("wire: decode binance trade: %w", err)
	}
	// Binance's m==true means the buyer was the resting (maker) order, so the
	// taker side of the trade was a sell.
	side := "buy"
	if t.BuyerMaker {
		side = "sell"
	}
	maker := t.BuyerMaker
	return &events.Trade{
		EventTimeMs:  t.TradeTimeMs,
		TradeID:      fmt.Sprintf("%d", t.TradeID),
		Price:        t.Price,
		Qty:          t.Qty,
		Side:         side,
		IsBuyerMaker: &maker,
		Raw:          raw,
	}, nil
}
