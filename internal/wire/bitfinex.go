package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/hworldcom/mdrecorder/internal/orderbook"
	"github.com/hworldcom/mdrecorder/internal/syncengine"
	"github.com/hworldcom/mdrecorder/internal/transport"
)

// Bitfinex's public WS protocol is positional JSON arrays, not objects, for
// every data frame: [chanId, payload] where payload is either
// a tagged string ("hb", "cs", "te", "tu") followed by its fields, or a bare
// numeric tuple/array-of-tuples for book frames. Subscription acks and info
// messages are the only JSON objects on the wire.
//
// Single book updates arrive in either of two equivalent shapes:
// [chanId, [price,count,amount]] (nested) or [chanId, price, count, amount]
// (flat, four top-level array elements). Both must be handled.

// ClassifyBitfinex implements transport.Classifier for Bitfinex's array
// protocol.
func ClassifyBitfinex(raw []byte) transport.Kind {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		return transport.Unknown // subscription ack / info / error object
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) < 2 {
		return transport.Unknown
	}
	tag := bareString(arr[1])
	switch tag {
	case "hb":
		return transport.Heartbeat
	case "cs":
		return transport.Checksum
	case "te":
		return transport.Trade
	case "tu":
		// "tu" repeats the execution "te" already carried; recording both
		// would double every print.
		return transport.Unknown
	}
	// Untagged: either a book snapshot ([][]3), a single nested book update
	// ([3]), a trade snapshot ([][]4), or a flat single book update
	// (4 scalar top-level elements: chanId, price, count, amount).
	if len(arr) == 4 && isScalar(arr[1]) && isScalar(arr[2]) && isScalar(arr[3]) {
		return transport.Depth
	}
	var nested []json.RawMessage
	if err := json.Unmarshal(arr[1], &nested); err != nil {
		return transport.Unknown
	}
	if len(nested) == 0 {
		return transport.Unknown
	}
	var probe []json.RawMessage
	if err := json.Unmarshal(nested[0], &probe); err == nil {
		// array of arrays: snapshot
		switch len(probe) {
		case 3:
			return transport.Snapshot
		case 4:
			return transport.Trade
		}
		return transport.Unknown
	}
	// flat array: single update tuple
	switch len(nested) {
	case 3:
		return transport.Depth
	default:
		return transport.Unknown
	}
}

// bareString returns s unquoted if it's a JSON string literal, else "".
func bareString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// isScalar reports whether raw is a bare JSON number/string/bool/null rather
// than an array or object.
func isScalar(raw json.RawMessage) bool {
	t := strings.TrimSpace(string(raw))
	return len(t) > 0 && t[0] != '[' && t[0] != '{'
}

func bitfinexTriple(raw json.RawMessage) (price, count, amount string, err error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) != 3 {
		return "", "", "", fmt.Errorf("wire: bitfinex malformed level tuple")
	}
	return string(parts[0]), string(parts[1]), string(parts[2]), nil
}

// bitfinexUpdateFields extracts (price, count, amount) from either of
// Bitfinex's two equivalent single-update shapes: the nested
// [chanId, [price,count,amount]] (len(arr) == 2) or the flat
// [chanId, price, count, amount] (len(arr) == 4).
func bitfinexUpdateFields(arr []json.RawMessage) (price, count, amount string, err error) {
	if len(arr) == 4 {
		return string(arr[1]), string(arr[2]), string(arr[3]), nil
	}
	if len(arr) == 2 {
		return bitfinexTriple(arr[1])
	}
	return "", "", "", fmt.Errorf("wire: bitfinex malformed update envelope")
}

func bitfinexLevelFromTriple(priceStr, amountStr string) (orderbook.Level, bool, error) {
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return orderbook.Level{}, false, fmt.Errorf("wire: bitfinex bad price %q: %w", priceStr, err)
	}
	amt, err := decimal.NewFromString(amountStr)
	if err != nil {
		return orderbook.Level{}, false, fmt.Errorf("wire: bitfinex bad amount %q: %w", amountStr, err)
	}
	isBid := amt.IsPositive()
	qty := amt.Abs()
	qtyStr := strings.TrimPrefix(amountStr, "-")
	return orderbook.Level{Price: price, Qty: qty, RawPrice: priceStr, RawQty: qtyStr}, isBid, nil
}

// DecodeBitfinexBookSnapshot decodes [chanId, [[price,count,amount], ...]]
// into bid/ask levels, partitioned by the sign of amount (positive = bid,
// negative = ask, per Bitfinex convention).
func DecodeBitfinexBookSnapshot(raw []byte) (bids, asks []orderbook.Level, err error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) < 2 {
		return nil, nil, fmt.Errorf("wire: decode bitfinex book snapshot envelope: %w", err)
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(arr[1], &rows); err != nil {
		return nil, nil, fmt.Errorf("wire: decode bitfinex book snapshot rows: %w", err)
	}
	for _, row := range rows {
		priceStr, _, amountStr, err := bitfinexTriple(row)
		if err != nil {
			return nil, nil, err
		}
		lvl, isBid, err := bitfinexLevelFromTriple(priceStr, amountStr)
		if err != nil {
			return nil, nil, err
		}
		if isBid {
			bids = append(bids, lvl)
		} else {
			asks = append(asks, lvl)
		}
	}
	return bids, asks, nil
}

// DecodeBitfinexBookUpdate decodes either of Bitfinex's two equivalent
// single-update shapes, [chanId, [price,count,amount]] or
// [chanId, price, count, amount], into a syncengine.Diff carrying a single
// upsert or delete on one side. count == 0 means delete (the level is
// carried with Qty zero so orderbook.Depth's normal apply-delete path
// handles it).
func DecodeBitfinexBookUpdate(raw []byte) (*syncengine.Diff, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) < 2 {
		return nil, fmt.Errorf("wire: decode bitfinex book update envelope: %w", err)
	}
	priceStr, countStr, amountStr, err := bitfinexUpdateFields(arr)
	if err != nil {
		return nil, err
	}
	var count int64
	if _, err := fmt.Sscanf(countStr, "%d", &count); err != nil {
		return nil, fmt.Errorf("wire: bitfinex bad count %q: %w", countStr, err)
	}
	shape := syncengine.BitfinexUpdateShape{Price: priceStr, Count: count, Amount: amountStr}

	lvl, isBid, err := bitfinexLevelFromTriple(priceStr, amountStr)
	if err != nil {
		return nil, err
	}
	if shape.IsDelete() {
		lvl.Qty = decimal.Zero
		lvl.RawQty = "0"
	}

	d := &syncengine.Diff{Raw: raw}
	if isBid {
		d.Bids = []orderbook.Level{lvl}
	} else {
		d.Asks = []orderbook.Level{lvl}
	}
	return d, nil
}

// DecodeBitfinexChecksum decodes [chanId, "cs", checksum] into the signed
// int32 Bitfinex reports, reinterpreted as the uint32 syncengine.Diff.Checksum
// expects (ChecksumEngine compares it signed when Flavor.Signed() is true).
func DecodeBitfinexChecksum(raw []byte) (uint32, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) < 3 {
		return 0, fmt.Errorf("wire: decode bitfinex checksum frame: %w", err)
	}
	var signed int32
	if err := json.Unmarshal(arr[2], &signed); err != nil {
		return 0, fmt.Errorf("wire: bitfinex bad checksum value: %w", err)
	}
	return uint32(signed), nil
}

// DecodeBitfinexTrade decodes a "te"/"tu" trade frame:
// [chanId, "te"|"tu", [ID, MTS, AMOUNT, PRICE]].
func DecodeBitfinexTrade(raw []byte) (id string, eventMs int64, price, qty, side string, err error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) < 3 {
		return "", 0, "", "", "", fmt.Errorf("wire: decode bitfinex trade envelope: %w", err)
	}
	var fields []json.RawMessage
	if err := json.Unmarshal(arr[2], &fields); err != nil || len(fields) != 4 {
		return "", 0, "", "", "", fmt.Errorf("wire: decode bitfinex trade fields: %w", err)
	}
	id = string(fields[0])
	if err := json.Unmarshal(fields[1], &eventMs); err != nil {
		return "", 0, "", "", "", fmt.Errorf("wire: bitfinex bad trade mts: %w", err)
	}
	amountStr := string(fields[2])
	price = string(fields[3])
	amt, err := decimal.NewFromString(amountStr)
	if err != nil {
		return "", 0, "", "", "", fmt.Errorf("wire: bitfinex bad trade amount %q: %w", amountStr, err)
	}
	side = "buy"
	if amt.IsNegative() {
		side = "sell"
	}
	qty = strings.TrimPrefix(amountStr, "-")
	return id, eventMs, price, qty, side, nil
}

// SubscribeBitfinex sends the book+trades subscribe messages for symbol
// (e.g. "tBTCUSD") at the fixed top-25 precision/length this recorder tracks.
func SubscribeBitfinex(symbol string) transport.Subscriber {
	return func(ctx context.Context, conn *websocket.Conn) error {
		book := map[string]any{
			"event": "subscribe", "channel": "book", "symbol": symbol,
			"prec": "P0", "freq": "F0", "len": "25",
		}
		trades := map[string]any{"event": "subscribe", "channel": "trades", "symbol": symbol}
		for _, m := range []map[string]any{book, trades} {
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
