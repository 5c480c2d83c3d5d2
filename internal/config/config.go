// Package config loads the recorder's environment-driven configuration. The
// core does not own a CLI or file-based config surface (that lives with an
// external operator tool, out of scope for this repo); it only needs to turn
// the recognized environment variables into a typed, validated struct. The
// loader follows the common env-override-via-viper shape.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Exchange identifies which sync-engine variant and wire protocol to use.
type Exchange string

const (
	Binance  Exchange = "binance"
	Kraken   Exchange = "kraken"
	Bitfinex Exchange = "bitfinex"
)

func (e Exchange) Valid() bool {
	switch e {
	case Binance, Kraken, Bitfinex:
		return true
	default:
		return false
	}
}

// Config is the complete set of recognized environment inputs.
type Config struct {
	Symbol   string   `mapstructure:"symbol"`
	Exchange Exchange `mapstructure:"exchange"`

	DepthLevels     int  `mapstructure:"depth_levels"`
	StoreDepthDiffs bool `mapstructure:"store_depth_diffs"`

	WSPingIntervalS         int `mapstructure:"ws_ping_interval_s"`
	WSPingTimeoutS          int `mapstructure:"ws_ping_timeout_s"`
	WSOpenTimeoutS          int `mapstructure:"ws_open_timeout_s"`
	WSReconnectBackoffS     int `mapstructure:"ws_reconnect_backoff_s"`
	WSReconnectBackoffMaxS  int `mapstructure:"ws_reconnect_backoff_max_s"`
	WSMaxSessionS           int `mapstructure:"ws_max_session_s"`
	WSNoDataWarnS           int `mapstructure:"ws_no_data_warn_s"`

	WindowTZ           string `mapstructure:"window_tz"`
	WindowStartHHMM    string `mapstructure:"window_start_hhmm"`
	WindowEndHHMM      string `mapstructure:"window_end_hhmm"`
	WindowEndDayOffset int    `mapstructure:"window_end_day_offset"`

	HeartbeatSec     int `mapstructure:"heartbeat_sec"`
	SyncWarnAfterSec int `mapstructure:"sync_warn_after_sec"`
	MaxBufferWarn    int `mapstructure:"max_buffer_warn"`

	OrderbookBufferRows     int `mapstructure:"orderbook_buffer_rows"`
	TradesBufferRows        int `mapstructure:"trades_buffer_rows"`
	BufferFlushIntervalSec  int `mapstructure:"buffer_flush_interval_sec"`

	InsecureTLS bool `mapstructure:"insecure_tls"`

	DataDir string `mapstructure:"data_dir"`
}

// defaults mirrors the values a careful operator would pick absent overrides;
// every field has a sane fallback so a bare SYMBOL env var is enough to run.
func defaults(v *viper.Viper) {
	v.SetDefault("exchange", string(Binance))
	v.SetDefault("depth_levels", 20)
	v.SetDefault("store_depth_diffs", true)

	v.SetDefault("ws_ping_interval_s", 20)
	v.SetDefault("ws_ping_timeout_s", 10)
	v.SetDefault("ws_open_timeout_s", 10)
	v.SetDefault("ws_reconnect_backoff_s", 1)
	v.SetDefault("ws_reconnect_backoff_max_s", 60)
	v.SetDefault("ws_max_session_s", 23*60*60)
	v.SetDefault("ws_no_data_warn_s", 30)

	v.SetDefault("window_tz", "Europe/Berlin")
	v.SetDefault("window_start_hhmm", "0000")
	v.SetDefault("window_end_hhmm", "0000")
	v.SetDefault("window_end_day_offset", 1)

	v.SetDefault("heartbeat_sec", 30)
	v.SetDefault("sync_warn_after_sec", 30)
	v.SetDefault("max_buffer_warn", 5000)

	v.SetDefault("orderbook_buffer_rows", 200)
	v.SetDefault("trades_buffer_rows", 200)
	v.SetDefault("buffer_flush_interval_sec", 5)

	v.SetDefault("insecure_tls", false)
	v.SetDefault("data_dir", "data")
}

// Load reads configuration purely from the process environment. There is no
// config file in this core; the operator-facing CLI (out of scope) is
// responsible for populating the environment before exec'ing the recorder.
func Load() (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"symbol", "exchange", "depth_levels", "store_depth_diffs",
		"ws_ping_interval_s", "ws_ping_timeout_s", "ws_open_timeout_s",
		"ws_reconnect_backoff_s", "ws_reconnect_backoff_max_s", "ws_max_session_s",
		"ws_no_data_warn_s", "window_tz", "window_start_hhmm", "window_end_hhmm",
		"window_end_day_offset", "heartbeat_sec", "sync_warn_after_sec",
		"max_buffer_warn", "orderbook_buffer_rows", "trades_buffer_rows",
		"buffer_flush_interval_sec", "insecure_tls", "data_dir",
	} {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Exchange = Exchange(strings.ToLower(string(cfg.Exchange)))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks all required fields and value ranges, returning a
// ConfigInvalid-classified error through the caller (see internal/errkind).
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("SYMBOL is required")
	}
	if !c.Exchange.Valid() {
		return fmt.Errorf("EXCHANGE must be one of binance|kraken|bitfinex, got %q", c.Exchange)
	}
	if c.DepthLevels <= 0 {
		return fmt.Errorf("DEPTH_LEVELS must be > 0")
	}
	if c.WSPingIntervalS <= 0 || c.WSPingTimeoutS <= 0 || c.WSOpenTimeoutS <= 0 {
		return fmt.Errorf("WS timing fields must be > 0")
	}
	if c.WSReconnectBackoffS <= 0 || c.WSReconnectBackoffMaxS < c.WSReconnectBackoffS {
		return fmt.Errorf("WS_RECONNECT_BACKOFF_S must be > 0 and <= WS_RECONNECT_BACKOFF_MAX_S")
	}
	if _, err := time.LoadLocation(c.WindowTZ); err != nil {
		return fmt.Errorf("WINDOW_TZ invalid: %w", err)
	}
	if _, _, err := ParseHHMM(c.WindowStartHHMM); err != nil {
		return fmt.Errorf("WINDOW_START_HHMM invalid: %w", err)
	}
	if _, _, err := ParseHHMM(c.WindowEndHHMM); err != nil {
		return fmt.Errorf("WINDOW_END_HHMM invalid: %w", err)
	}
	if c.WindowEndDayOffset < 0 {
		return fmt.Errorf("WINDOW_END_DAY_OFFSET must be >= 0")
	}
	if c.OrderbookBufferRows <= 0 || c.TradesBufferRows <= 0 || c.BufferFlushIntervalSec <= 0 {
		return fmt.Errorf("buffer thresholds must be > 0")
	}
	return nil
}

// ParseHHMM parses a "HHMM" string into (hour, minute).
func ParseHHMM(s string) (hour, minute int, err error) {
	if len(s) != 4 {
		return 0, 0, fmt.Errorf("expected HHMM, got %q", s)
	}
	if _, err = fmt.Sscanf(s, "%2d%2d", &hour, &minute); err != nil {
		return 0, 0, err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("out of range HHMM %q", s)
	}
	return hour, minute, nil
}

// SymbolFS returns the filesystem-safe form of the symbol used in data
// paths: strip '/', '-', ':' and whitespace.
func SymbolFS(symbol string) string {
	var b strings.Builder
	for _, r := range symbol {
		switch r {
		case '/', '-', ':', ' ', '\t', '\n':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
