// Kraken checksum flavor: CRC32 (IEEE, unsigned) over top-10 asks then
// top-10 bids, each price/qty rendered with its decimal point and leading
// zeros stripped but otherwise exactly as the exchange sent it. The book
// itself is trimmed to the subscribed depth (one of {10,25,100,500,1000});
// the checksum always looks at the top 10 regardless of subscribed depth.
package syncengine

import (
	"strings"

	"github.com/hworldcom/mdrecorder/internal/orderbook"
)

const krakenChecksumLevels = 10

var krakenValidDepths = map[int]bool{10: true, 25: true, 100: true, 500: true, 1000: true}

// KrakenFlavor implements Flavor for a Kraken book subscribed at the given
// depth.
type KrakenFlavor struct {
	depth int
}

// NewKrakenFlavor validates depth is one of Kraken's allowed subscription
// depths before returning a Flavor.
func NewKrakenFlavor(depth int) (*KrakenFlavor, bool) {
	if !krakenValidDepths[depth] {
		return nil, false
	}
	return &KrakenFlavor{depth: depth}, true
}

func (k *KrakenFlavor) TrackDepth() int { return k.depth }
func (k *KrakenFlavor) Signed() bool    { return false }

func (k *KrakenFlavor) ChecksumString(bids, asks []orderbook.Level) string {
	var b strings.Builder
	n := krakenChecksumLevels
	for i := 0; i < n && i < len(asks); i++ {
		b.WriteString(krakenStrip(wirePriceString(asks[i])))
		b.WriteString(krakenStrip(wireQtyString(asks[i])))
	}
	for i := 0; i < n && i < len(bids); i++ {
		b.WriteString(krakenStrip(wirePriceString(bids[i])))
		b.WriteString(krakenStrip(wireQtyString(bids[i])))
	}
	return b.String()
}

// krakenStrip removes the decimal point and any leading zeros from a
// Kraken-formatted numeric string.
func krakenStrip(s string) string {
	s = strings.ReplaceAll(s, ".", "")
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}
