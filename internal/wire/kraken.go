package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/hworldcom/mdrecorder/internal/orderbook"
	"github.com/hworldcom/mdrecorder/internal/syncengine"
	"github.com/hworldcom/mdrecorder/internal/transport"
)

// krakenLevel is one book level as Kraken v2 sends it: numeric JSON values,
// not strings, so the wire-exact string is reconstructed from the raw token
// via json.Number to avoid float round-tripping.
type krakenLevel struct {
	Price json.Number `json:"price"`
	Qty   json.Number `json:"qty"`
}

type krakenBookPayload struct {
	Symbol   string        `json:"symbol"`
	Bids     []krakenLevel `json:"bids"`
	Asks     []krakenLevel `json:"asks"`
	Checksum *uint32       `json:"checksum"`
	Timestamp string       `json:"timestamp"`
}

type krakenBookFrame struct {
	Channel string              `json:"channel"`
	Type    string              `json:"type"` // "snapshot" | "update"
	Data    []krakenBookPayload `json:"data"`
}

type krakenTradePayload struct {
	Symbol  string      `json:"symbol"`
	Side    string      `json:"side"`
	Price   json.Number `json:"price"`
	Qty     json.Number `json:"qty"`
	TradeID int64       `json:"trade_id"`
	Timestamp string    `json:"timestamp"`
}

type krakenTradeFrame struct {
	Channel string               `json:"channel"`
	Type    string               `json:"type"`
	Data    []krakenTradePayload `json:"data"`
}

// ClassifyKraken implements transport.Classifier for Kraken's v2 JSON
// channel frames.
func ClassifyKraken(raw []byte) transport.Kind {
	p := peek(raw)
	switch p.Channel {
	case "book":
		return transport.Depth
	case "trade":
		return transport.Trade
	case "heartbeat":
		return transport.Heartbeat
	default:
		return transport.Unknown
	}
}

func krakenLevelsToOrderbook(in []krakenLevel) ([]orderbook.Level, error) {
	out := make([]orderbook.Level, 0, len(in))
	for _, l := range in {
		priceStr := l.Price.String()
		qtyStr := l.Qty.String()
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("wire: kraken bad price %q: %w", priceStr, err)
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return nil, fmt.Errorf("wire: kraken bad qty %q: %w", qtyStr, err)
		}
		out = append(out, orderbook.Level{Price: price, Qty: qty, RawPrice: priceStr, RawQty: qtyStr})
	}
	return out, nil
}

// DecodeKrakenBook decodes one "book" channel frame. isSnapshot reports
// whether Type == "snapshot" (the caller routes accordingly: OnSnapshot vs
// OnUpdate on the ChecksumEngine).
func DecodeKrakenBook(raw []byte) (payload krakenBookPayload, isSnapshot bool, err error) {
	var f krakenBookFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return krakenBookPayload{}, false, fmt.Errorf("wire: decode kraken book frame: %w", err)
	}
	if len(f.Data) == 0 {
		return krakenBookPayload{}, false, ErrUnhandledFrame
	}
	return f.Data[0], f.Type == "snapshot", nil
}

// DiffFromKrakenUpdate converts a "book"/"update" frame's payload into a
// syncengine.Diff. Kraken's timestamp is RFC3339; parsed defensively and
// zeroed on failure rather than failing the whole update.
func DiffFromKrakenUpdate(raw []byte, payload krakenBookPayload) (*syncengine.Diff, error) {
	bids, err := krakenLevelsToOrderbook(payload.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := krakenLevelsToOrderbook(payload.Asks)
	if err != nil {
		return nil, err
	}
	var eventMs int64
	if t, perr := time.Parse(time.RFC3339, payload.Timestamp); perr == nil {
		eventMs = t.UnixMilli()
	}
	return &syncengine.Diff{
		EventTimeMs: eventMs,
		Bids:        bids,
		Asks:        asks,
		Checksum:    payload.Checksum,
		Raw:         raw,
	}, nil
}

// DecodeKrakenTrade decodes one "trade" channel frame's first entry.
func DecodeKrakenTrade(raw []byte) (price, qty, side string, tradeID int64, eventMs int64, err error) {
	var f krakenTradeFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", "", "", 0, 0, fmt.Errorf("wire: decode kraken trade frame: %w", err)
	}
	if len(f.Data) == 0 {
		return "", "", "", 0, 0, ErrUnhandledFrame
	}
	d := f.Data[0]
	if t, perr := time.Parse(time.RFC3339, d.Timestamp); perr == nil {
		eventMs = t.UnixMilli()
	}
	return d.Price.String(), d.Qty.String(), d.Side, d.TradeID, eventMs, nil
}

// SubscribeKraken sends the book+trade subscribe messages for symbol at the
// given book depth, per Kraken v2's JSON subscribe shape.
func SubscribeKraken(symbol string, depth int) transport.Subscriber {
	return func(ctx context.Context, conn *websocket.Conn) error {
		bookMsg := map[string]any{
			"method": "subscribe",
			"params": map[string]any{"channel": "book", "symbol": []string{symbol}, "depth": depth},
		}
		tradeMsg := map[string]any{
			"method": "subscribe",
			"params": map[string]any{"channel": "trade", "symbol": []string{symbol}},
		}
		for _, m := range []map[string]any{bookMsg, tradeMsg} {
			b, err := json.Marshal(m)
			if err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return err
			}
		}
		return nil
	}
}

// KrakenTradeID renders a trade_id as the decimal string events.Trade expects.
func KrakenTradeID(id int64) string {
	return strconv.FormatInt(id, 10)
}
