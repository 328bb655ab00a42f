// Package config loads pipeline configuration from a YAML file, applies
// environment overrides, and validates the result before any component
// is constructed.
package config

import (
	"os"
	"strconv"
	"strings"

	"microbook/internal/errs"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized pipeline option, plus the ambient
// feed/logging/HTTP blocks needed to run the process.
type Config struct {
	BuyBucketUSD      float64 `yaml:"buy_bucket_usd"`
	SellBucketUSD     float64 `yaml:"sell_bucket_usd"`
	CancelBucketUSD   float64 `yaml:"cancel_bucket_usd"`
	DepthLevelsTrack  int     `yaml:"depth_levels_track"`
	DepthLevelsReport int     `yaml:"depth_levels_report"`
	TickSize          float64 `yaml:"tick_size"`
	CancelFraction    float64 `yaml:"cancel_fraction"`
	IcebergThreshold  int     `yaml:"iceberg_threshold"`
	RingCapacity      int     `yaml:"ring_capacity"`

	Feed    FeedConfig    `yaml:"feed"`
	Logging LoggingConfig `yaml:"logging"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// FeedConfig describes the external feed adapter's venue and symbol,
// plus its reconnect/backoff bounds. internal/feed falls back to its own
// defaults when SnapshotLimit, ReconnectBaseMs or ReconnectMaxMs is zero.
type FeedConfig struct {
	Symbol          string `yaml:"symbol"`
	WSBase          string `yaml:"ws_base"`
	HTTPBase        string `yaml:"http_base"`
	SnapshotLimit   int    `yaml:"snapshot_limit"`
	ReconnectBaseMs int    `yaml:"reconnect_base_ms"`
	ReconnectMaxMs  int    `yaml:"reconnect_max_ms"`
}

// LoggingConfig configures internal/logging and the optional audit log.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxAgeDays int    `yaml:"max_age_days"`
	AuditDir   string `yaml:"audit_dir"`
}

// HTTPConfig configures the operator-facing HTTP surface (internal/httpapi).
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// defaults returns the configuration populated with spec-documented
// defaults, applied before the YAML file is unmarshalled so that a file
// omitting a key keeps the documented default rather than zeroing it.
func defaults() Config {
	return Config{
		BuyBucketUSD:      1e6,
		SellBucketUSD:     1e6,
		CancelBucketUSD:   5e5,
		DepthLevelsTrack:  30,
		DepthLevelsReport: 20,
		TickSize:          0.01,
		CancelFraction:    0.3,
		IcebergThreshold:  3,
		RingCapacity:      4096,
		Feed: FeedConfig{
			Symbol:          "BTCUSDT",
			WSBase:          "wss://stream.binance.com:9443",
			HTTPBase:        "https://api.binance.com",
			SnapshotLimit:   1000,
			ReconnectBaseMs: 500,
			ReconnectMaxMs:  30000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8090",
		},
	}
}

// Load reads path as YAML, falls back to documented defaults for any
// key the file omits, applies PIPELINE_* environment overrides, and
// validates the result. A validation failure is a fatal ConfigError:
// refuse to start rather than run with an out-of-range option.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrConfigError, "read config file %q: %v", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errs.Wrap(errs.ErrConfigError, "parse config file %q: %v", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides: any PIPELINE_<FIELD> variable that is set and
// non-empty wins over the file/default value.
func applyEnvOverrides(cfg *Config) {
	if v := floatEnv("PIPELINE_BUY_BUCKET_USD"); v != nil {
		cfg.BuyBucketUSD = *v
	}
	if v := floatEnv("PIPELINE_SELL_BUCKET_USD"); v != nil {
		cfg.SellBucketUSD = *v
	}
	if v := floatEnv("PIPELINE_CANCEL_BUCKET_USD"); v != nil {
		cfg.CancelBucketUSD = *v
	}
	if v := intEnv("PIPELINE_DEPTH_LEVELS_TRACK"); v != nil {
		cfg.DepthLevelsTrack = *v
	}
	if v := intEnv("PIPELINE_DEPTH_LEVELS_REPORT"); v != nil {
		cfg.DepthLevelsReport = *v
	}
	if v := floatEnv("PIPELINE_TICK_SIZE"); v != nil {
		cfg.TickSize = *v
	}
	if v := floatEnv("PIPELINE_CANCEL_FRACTION"); v != nil {
		cfg.CancelFraction = *v
	}
	if v := intEnv("PIPELINE_ICEBERG_THRESHOLD"); v != nil {
		cfg.IcebergThreshold = *v
	}
	if v := intEnv("PIPELINE_RING_CAPACITY"); v != nil {
		cfg.RingCapacity = *v
	}
	if v := strings.TrimSpace(os.Getenv("PIPELINE_FEED_SYMBOL")); v != "" {
		cfg.Feed.Symbol = v
	}
	if v := strings.TrimSpace(os.Getenv("PIPELINE_FEED_WS_BASE")); v != "" {
		cfg.Feed.WSBase = v
	}
	if v := strings.TrimSpace(os.Getenv("PIPELINE_FEED_HTTP_BASE")); v != "" {
		cfg.Feed.HTTPBase = v
	}
	if v := strings.TrimSpace(os.Getenv("PIPELINE_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

func floatEnv(key string) *float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func intEnv(key string) *int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

func validate(cfg *Config) error {
	positive := map[string]float64{
		"buy_bucket_usd":    cfg.BuyBucketUSD,
		"sell_bucket_usd":   cfg.SellBucketUSD,
		"cancel_bucket_usd": cfg.CancelBucketUSD,
		"tick_size":         cfg.TickSize,
		"cancel_fraction":   cfg.CancelFraction,
	}
	for name, v := range positive {
		if v <= 0 {
			return errs.Wrap(errs.ErrConfigError, "%s must be > 0, got %v", name, v)
		}
	}
	if cfg.DepthLevelsTrack <= 0 {
		return errs.Wrap(errs.ErrConfigError, "depth_levels_track must be > 0, got %d", cfg.DepthLevelsTrack)
	}
	if cfg.DepthLevelsReport <= 0 || cfg.DepthLevelsReport > cfg.DepthLevelsTrack {
		return errs.Wrap(errs.ErrConfigError, "depth_levels_report must be in (0, depth_levels_track], got %d", cfg.DepthLevelsReport)
	}
	if cfg.IcebergThreshold <= 0 {
		return errs.Wrap(errs.ErrConfigError, "iceberg_threshold must be > 0, got %d", cfg.IcebergThreshold)
	}
	if cfg.RingCapacity <= 0 || cfg.RingCapacity&(cfg.RingCapacity-1) != 0 {
		return errs.Wrap(errs.ErrConfigError, "ring_capacity must be a power of two, got %d", cfg.RingCapacity)
	}
	if cfg.Feed.Symbol == "" {
		return errs.Wrap(errs.ErrConfigError, "feed.symbol is required")
	}
	return nil
}
