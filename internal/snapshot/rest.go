// REST snapshot source (Binance), built on go-resty/resty/v2 for a
// single-shot GET-with-retry against a public exchange endpoint.
package snapshot

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/hworldcom/mdrecorder/internal/errkind"
	"github.com/hworldcom/mdrecorder/internal/orderbook"
)

// RESTConfig configures the Binance depth-endpoint fetch.
type RESTConfig struct {
	BaseURL     string // e.g. https://api.binance.com
	Symbol      string
	Limit       int // depth levels requested from the endpoint
	Timeout     time.Duration
	MaxRetries  int
	InsecureTLS bool
}

type binanceDepthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// RESTSource fetches Binance's /api/v3/depth snapshot with exponential
// backoff on HTTP errors and TLS required by default (INSECURE_TLS is a debug
// escape hatch only).
type RESTSource struct {
	cfg    RESTConfig
	client *resty.Client
}

func NewRESTSource(cfg RESTConfig) *RESTSource {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	if cfg.InsecureTLS {
		c.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // INSECURE_TLS is an explicit debug escape hatch
	}
	return &RESTSource{cfg: cfg, client: c}
}

func (s *RESTSource) Fetch(ctx context.Context) (*Snapshot, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": s.cfg.Symbol,
			"limit":  fmt.Sprintf("%d", s.cfg.Limit),
		}).
		Get("/api/v3/depth")
	if err != nil {
		return nil, errkind.New(errkind.SnapshotTransient, fmt.Errorf("fetch depth: %w", err))
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errkind.New(errkind.SnapshotTransient,
			fmt.Errorf("depth endpoint returned %d: %s", resp.StatusCode(), resp.String()))
	}

	decoded, err := DecodeBinanceDepth(resp.Body())
	if err != nil {
		return nil, errkind.New(errkind.DecodeError, err)
	}
	decoded.Raw = resp.Body()
	return decoded, nil
}

// DecodeBinanceDepth parses the Binance REST depth response. Binance's
// canonical JSON round-trip is acceptable for Raw serialization; unlike the
// checksum exchanges there is no bit-exact wire format to preserve.
func DecodeBinanceDepth(raw []byte) (*Snapshot, error) {
	var resp binanceDepthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode binance depth: %w", err)
	}
	bids, err := levelsFromStrings(resp.Bids)
	if err != nil {
		return nil, fmt.Errorf("decode binance bids: %w", err)
	}
	asks, err := levelsFromStrings(resp.Asks)
	if err != nil {
		return nil, fmt.Errorf("decode binance asks: %w", err)
	}
	return &Snapshot{Bids: bids, Asks: asks, LastUpdateID: resp.LastUpdateID}, nil
}

func levelsFromStrings(raw [][]string) ([]orderbook.Level, error) {
	out := make([]orderbook.Level, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("expected [price, qty], got %v", pair)
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("qty %q: %w", pair[1], err)
		}
		out = append(out, orderbook.Level{Price: price, Qty: qty})
	}
	return out, nil
}
