package writer

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hworldcom/mdrecorder/internal/orderbook"
)

// SnapshotRecord is the JSON companion file for one snapshot event, written
// next to the snapshot CSV and, when raw bytes are present, a .raw file.
// Unlike the buffered streams these are written once, immediately, and never
// gzipped — they are audit artifacts, not high-volume time series.
type SnapshotRecord struct {
	EventID      int64  `json:"event_id"`
	RecvMs       int64  `json:"recv_ms"`
	RecvSeq      int64  `json:"recv_seq"`
	EpochID      int64  `json:"epoch_id"`
	Symbol       string `json:"symbol"`
	Exchange     string `json:"exchange"`
	LastUpdateID int64  `json:"last_update_id"`
	Checksum     *uint32 `json:"checksum,omitempty"`
	RawBase64    string `json:"raw_base64,omitempty"`
}

// WriteSnapshot persists the CSV side-by-side with the raw payload bytes for
// audit/replay. tag distinguishes initial snapshots from resync snapshots,
// e.g. "initial" or "resync".
func (f *Fabric) WriteSnapshot(rec SnapshotRecord, bids, asks []orderbook.Level, raw []byte, tag string) error {
	base := filepath.Join(f.snapDir, fmt.Sprintf("snapshot_%d_%s", rec.EventID, tag))

	csvPath := base + ".csv"
	cf, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", csvPath, err)
	}
	w := csv.NewWriter(cf)
	if err := w.Write([]string{"side", "rank", "price", "qty"}); err != nil {
		_ = cf.Close()
		return err
	}
	for i, l := range bids {
		if err := w.Write([]string{"bid", fmt.Sprintf("%d", i), priceOf(l), qtyOf(l)}); err != nil {
			_ = cf.Close()
			return err
		}
	}
	for i, l := range asks {
		if err := w.Write([]string{"ask", fmt.Sprintf("%d", i), priceOf(l), qtyOf(l)}); err != nil {
			_ = cf.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = cf.Close()
		return err
	}
	if err := cf.Close(); err != nil {
		return err
	}

	if len(raw) > 0 {
		rawPath := base + ".raw"
		if err := os.WriteFile(rawPath, raw, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rawPath, err)
		}
	}

	jsonPath := base + ".json"
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(jsonPath, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", jsonPath, err)
	}
	return nil
}

// priceOf/qtyOf prefer the wire-exact raw string (when captured), falling
// back to the decimal's canonical rendering for synthesized levels.
func priceOf(l orderbook.Level) string {
	if l.RawPrice != "" {
		return l.RawPrice
	}
	return l.Price.String()
}

func qtyOf(l orderbook.Level) string {
	if l.RawQty != "" {
		return l.RawQty
	}
	return l.Qty.String()
}
