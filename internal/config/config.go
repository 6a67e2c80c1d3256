package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"sol-price-oracle/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Latency    LatencyConfig    `mapstructure:"latency"`
	Health     HealthConfig     `mapstructure:"health"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Sampler    SamplerConfig    `mapstructure:"sampler"`
	Volatility VolatilityConfig `mapstructure:"volatility"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
	// Tokens overrides the built-in token registry when non-empty.
	Tokens []TokenConfig `mapstructure:"tokens"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig covers the API listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// CacheConfig sizes the quote cache.
type CacheConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// LatencyConfig sizes the upstream latency window.
type LatencyConfig struct {
	Window int `mapstructure:"window"`
}

// HealthConfig bounds how often the primary source is checked.
type HealthConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Timeout    time.Duration `mapstructure:"timeout"`
	CheckToken string        `mapstructure:"check_token"`
}

// SourcesConfig lists upstream price sources in chain order.
type SourcesConfig struct {
	UserAgent   string        `mapstructure:"user_agent"`
	Jupiter     JupiterConfig `mapstructure:"jupiter"`
	CoinGecko   SourceConfig  `mapstructure:"coingecko"`
	Kraken      SourceConfig  `mapstructure:"kraken"`
	DexScreener SourceConfig  `mapstructure:"dexscreener"`
}

// SourceConfig captures one HTTP price source.
type SourceConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// JupiterConfig adds the batch timeout of the primary source.
type JupiterConfig struct {
	SourceConfig `mapstructure:",squash"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// SamplerConfig governs background sampling cadence.
type SamplerConfig struct {
	AutoStart    bool          `mapstructure:"auto_start"`
	Interval     time.Duration `mapstructure:"interval"`
	Retention    time.Duration `mapstructure:"retention"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	Tokens       []string      `mapstructure:"tokens"`
}

// VolatilityConfig tunes the volatility and anomaly engine.
type VolatilityConfig struct {
	MinSamples          int     `mapstructure:"min_samples"`
	StabilityWindow     int     `mapstructure:"stability_window"`
	StabilityMinSamples int     `mapstructure:"stability_min_samples"`
	StabilityThreshold  float64 `mapstructure:"stability_threshold"`
	StabilityScale      float64 `mapstructure:"stability_scale"`
	AnomalyLookback     int     `mapstructure:"anomaly_lookback"`
	AnomalyBaseline     int     `mapstructure:"anomaly_baseline"`
	AnomalyZ            float64 `mapstructure:"anomaly_z"`
	HighZ               float64 `mapstructure:"high_z"`
}

// AlertingConfig defines anomaly alert routing.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	MinSeverity string         `mapstructure:"min_severity"`
	Cooldown    time.Duration  `mapstructure:"cooldown"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int    `mapstructure:"max_data_points"`
	OutputDir     string `mapstructure:"output_dir"`
}

// TokenConfig maps one token onto every source's identifier space.
type TokenConfig struct {
	Symbol              string  `mapstructure:"symbol"`
	Mint                string  `mapstructure:"mint"`
	CoinGeckoID         string  `mapstructure:"coingecko_id"`
	KrakenPair          string  `mapstructure:"kraken_pair"`
	StaticEstimate      float64 `mapstructure:"static_estimate"`
	SlippageCoefficient float64 `mapstructure:"slippage_coefficient"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "priceoracle")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("cache.capacity", 50)
	v.SetDefault("cache.ttl", "7s")

	v.SetDefault("latency.window", 100)

	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.timeout", "5s")
	v.SetDefault("health.check_token", "SOL")

	v.SetDefault("sources.user_agent", "sol-price-oracle/1.0")
	v.SetDefault("sources.jupiter.enabled", true)
	v.SetDefault("sources.jupiter.base_url", "https://price.jup.ag/v4")
	v.SetDefault("sources.jupiter.timeout", "10s")
	v.SetDefault("sources.jupiter.batch_timeout", "15s")
	v.SetDefault("sources.jupiter.cooldown", "60s")
	v.SetDefault("sources.coingecko.enabled", true)
	v.SetDefault("sources.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("sources.coingecko.timeout", "10s")
	v.SetDefault("sources.coingecko.cooldown", "30s")
	v.SetDefault("sources.kraken.enabled", true)
	v.SetDefault("sources.kraken.base_url", "https://api.kraken.com")
	v.SetDefault("sources.kraken.timeout", "8s")
	v.SetDefault("sources.kraken.cooldown", "30s")
	v.SetDefault("sources.dexscreener.enabled", false)
	v.SetDefault("sources.dexscreener.base_url", "https://api.dexscreener.com")
	v.SetDefault("sources.dexscreener.timeout", "5s")
	v.SetDefault("sources.dexscreener.cooldown", "30s")

	v.SetDefault("sampler.auto_start", true)
	v.SetDefault("sampler.interval", "10s")
	v.SetDefault("sampler.retention", "1h")
	v.SetDefault("sampler.stop_timeout", "5s")
	v.SetDefault("sampler.error_backoff", "5s")
	v.SetDefault("sampler.tokens", []string{"SOL", "mSOL", "stSOL", "BONK", "USDC"})

	v.SetDefault("volatility.min_samples", 30)
	v.SetDefault("volatility.stability_window", 30)
	v.SetDefault("volatility.stability_min_samples", 10)
	v.SetDefault("volatility.stability_threshold", 0.02)
	v.SetDefault("volatility.stability_scale", 1000.0)
	v.SetDefault("volatility.anomaly_lookback", 50)
	v.SetDefault("volatility.anomaly_baseline", 10)
	v.SetDefault("volatility.anomaly_z", 3.0)
	v.SetDefault("volatility.high_z", 5.0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_severity", "high")
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.output_dir", "exports")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be greater than zero")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than zero")
	}
	if c.Latency.Window <= 0 {
		return fmt.Errorf("latency.window must be greater than zero")
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be greater than zero")
	}
	if c.Sampler.Interval <= 0 {
		return fmt.Errorf("sampler.interval must be greater than zero")
	}
	if c.Sampler.Retention < c.Sampler.Interval {
		return fmt.Errorf("sampler.retention must cover at least one interval")
	}
	if c.Sampler.ErrorBackoff >= c.Sampler.Interval {
		return fmt.Errorf("sampler.error_backoff must be shorter than sampler.interval")
	}
	if c.Volatility.MinSamples < 2 {
		return fmt.Errorf("volatility.min_samples must be at least 2")
	}
	if c.Volatility.StabilityWindow < 2 {
		return fmt.Errorf("volatility.stability_window must be at least 2")
	}
	if c.Volatility.StabilityThreshold <= 0 {
		return fmt.Errorf("volatility.stability_threshold must be greater than zero")
	}
	if c.Volatility.AnomalyBaseline < 2 || c.Volatility.AnomalyLookback < c.Volatility.AnomalyBaseline {
		return fmt.Errorf("volatility.anomaly_lookback must be at least volatility.anomaly_baseline (>= 2)")
	}
	if c.Volatility.AnomalyZ <= 0 || c.Volatility.HighZ < c.Volatility.AnomalyZ {
		return fmt.Errorf("volatility.high_z must be at least volatility.anomaly_z (> 0)")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	switch c.Alerting.MinSeverity {
	case "medium", "high":
	default:
		return fmt.Errorf("alerting.min_severity must be medium or high, got %q", c.Alerting.MinSeverity)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	for i, t := range c.Tokens {
		if t.Symbol == "" || t.Mint == "" {
			return fmt.Errorf("tokens[%d]: symbol and mint are required", i)
		}
		if t.StaticEstimate < 0 {
			return fmt.Errorf("tokens[%d]: static_estimate cannot be negative", i)
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
