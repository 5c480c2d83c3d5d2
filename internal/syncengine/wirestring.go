package syncengine

import "github.com/hworldcom/mdrecorder/internal/orderbook"

// wireString returns the exact wire-carried numeric string for a level field
// if the decoder captured one, falling back to the decimal's canonical
// string representation otherwise. Checksum exchanges always decode with the
// raw string populated; the fallback only protects tests and synthetic diffs
// that construct Levels directly from decimal values.
func wirePriceString(l orderbook.Level) string {
	if l.RawPrice != "" {
		return l.RawPrice
	}
	return l.Price.String()
}

func wireQtyString(l orderbook.Level) string {
	if l.RawQty != "" {
		return l.RawQty
	}
	return l.Qty.String()
}
