// Bitfinex checksum flavor: CRC32 (signed int32) over a colon-separated
// string interleaved by rank across the top-25 levels per side, asks
// carrying a negative amount.
package syncengine

import (
	"strings"

	"github.com/hworldcom/mdrecorder/internal/orderbook"
)

const bitfinexChecksumLevels = 25

// BitfinexFlavor implements Flavor for Bitfinex's fixed top-25 book.
type BitfinexFlavor struct{}

func (BitfinexFlavor) TrackDepth() int { return bitfinexChecksumLevels }
func (BitfinexFlavor) Signed() bool    { return true }

func (BitfinexFlavor) ChecksumString(bids, asks []orderbook.Level) string {
	parts := make([]string, 0, bitfinexChecksumLevels*4)
	for i := 0; i < bitfinexChecksumLevels; i++ {
		if i < len(bids) {
			parts = append(parts, wirePriceString(bids[i]), wireQtyString(bids[i]))
		}
		if i < len(asks) {
			parts = append(parts, wirePriceString(asks[i]), negateWireAmount(wireQtyString(asks[i])))
		}
	}
	return strings.Join(parts, ":")
}

// negateWireAmount prefixes a positive wire amount string with '-'; internal
// Levels always store qty > 0, and Bitfinex's checksum semantics require ask
// amounts to carry a negative sign.
func negateWireAmount(s string) string {
	if strings.HasPrefix(s, "-") {
		return s
	}
	return "-" + s
}

// BitfinexUpdateShape normalizes Bitfinex's two equivalent update wire
// shapes: `[chanId, [price,count,amount]]` and `[chanId, price, count,
// amount]`. Decoders call this after extracting the three numeric fields
// regardless of which shape arrived.
type BitfinexUpdateShape struct {
	Price  string
	Count  int64
	Amount string
}

// IsDelete reports whether this update removes the price level: Bitfinex
// signals delete with count == 0.
func (u BitfinexUpdateShape) IsDelete() bool { return u.Count == 0 }
