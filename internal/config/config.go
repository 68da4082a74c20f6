// Package config loads and validates the router configuration from file and
// environment. Defaults match the documented operating envelope; anything can
// be overridden via config.yaml or DEXROUTE_-prefixed environment variables.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// RateLimit uses the limiter "<count>-<period>" format, e.g. "100-S".
	RateLimit string `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// DatabaseConfig holds the durable store settings.
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"` // seconds
}

// RedisConfig holds the cache backend settings. When Address is empty the
// router falls back to the in-process cache.
type RedisConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// KafkaConfig holds the lifecycle event publisher settings. Empty Brokers
// disables publishing.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	QuoteTopic   string        `mapstructure:"quote_topic" yaml:"quote_topic"`
	SwapTopic    string        `mapstructure:"swap_topic" yaml:"swap_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// AdapterConfig holds per-provider upstream settings.
type AdapterConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	URL        string        `mapstructure:"url" yaml:"url"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	SecretKey  string        `mapstructure:"secret_key" yaml:"secret_key"`
	Passphrase string        `mapstructure:"passphrase" yaml:"passphrase"`
}

// CircuitBreakerConfig holds per-operation breaker defaults.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold" yaml:"success_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout" yaml:"recovery_timeout"`
	MonitoringWindow time.Duration `mapstructure:"monitoring_window" yaml:"monitoring_window"`
}

// PerformanceWeights is the multi-criteria scoring weight vector. It must sum
// to 1.0; Validate enforces this at startup.
type PerformanceWeights struct {
	OutputAmount float64 `mapstructure:"output_amount" yaml:"output_amount"`
	Fees         float64 `mapstructure:"fees" yaml:"fees"`
	GasEstimate  float64 `mapstructure:"gas_estimate" yaml:"gas_estimate"`
	Latency      float64 `mapstructure:"latency" yaml:"latency"`
	Reliability  float64 `mapstructure:"reliability" yaml:"reliability"`
}

// Sum returns the total weight mass.
func (w PerformanceWeights) Sum() float64 {
	return w.OutputAmount + w.Fees + w.GasEstimate + w.Latency + w.Reliability
}

// ScoreNormalization holds the envelopes used to map raw quote dimensions
// into [0,1] before weighting.
type ScoreNormalization struct {
	OutputEnvelope     float64       `mapstructure:"output_envelope" yaml:"output_envelope"`
	FeeSaturationPct   float64       `mapstructure:"fee_saturation_pct" yaml:"fee_saturation_pct"`
	GasEnvelope        float64       `mapstructure:"gas_envelope" yaml:"gas_envelope"`
	GasDefault         float64       `mapstructure:"gas_default" yaml:"gas_default"`
	LatencyEnvelope    time.Duration `mapstructure:"latency_envelope" yaml:"latency_envelope"`
	DefaultReliability float64       `mapstructure:"default_reliability" yaml:"default_reliability"`
}

// RouterConfig holds route engine settings.
type RouterConfig struct {
	RouteExpiration         time.Duration      `mapstructure:"route_expiration" yaml:"route_expiration"`
	SlippageToleranceBps    int                `mapstructure:"slippage_tolerance_bps" yaml:"slippage_tolerance_bps"`
	MaxAlternatives         int                `mapstructure:"max_alternatives" yaml:"max_alternatives"`
	QuoteCoalesceTimeout    time.Duration      `mapstructure:"quote_coalesce_timeout" yaml:"quote_coalesce_timeout"`
	RouteCoalesceTimeout    time.Duration      `mapstructure:"route_coalesce_timeout" yaml:"route_coalesce_timeout"`
	ProviderCoalesceTimeout time.Duration      `mapstructure:"provider_coalesce_timeout" yaml:"provider_coalesce_timeout"`
	ProviderQuoteTTL        time.Duration      `mapstructure:"provider_quote_ttl" yaml:"provider_quote_ttl"`
	Weights                 PerformanceWeights `mapstructure:"performance_weights" yaml:"performance_weights"`
	Normalization           ScoreNormalization `mapstructure:"score_normalization" yaml:"score_normalization"`
	Reliability             map[string]float64 `mapstructure:"reliability" yaml:"reliability"`
}

// SwapConfig holds swap executor settings.
type SwapConfig struct {
	TransactionExpiry time.Duration `mapstructure:"transaction_expiry" yaml:"transaction_expiry"`
}

// AdaptersConfig groups the configured upstream providers.
type AdaptersConfig struct {
	Jupiter AdapterConfig `mapstructure:"jupiter" yaml:"jupiter"`
	OKX     AdapterConfig `mapstructure:"okx" yaml:"okx"`
}

// Config is the root application configuration.
type Config struct {
	LogLevel       string               `mapstructure:"log_level" yaml:"log_level"`
	Server         ServerConfig         `mapstructure:"server" yaml:"server"`
	Database       DatabaseConfig       `mapstructure:"database" yaml:"database"`
	Redis          RedisConfig          `mapstructure:"redis" yaml:"redis"`
	Kafka          KafkaConfig          `mapstructure:"kafka" yaml:"kafka"`
	Router         RouterConfig         `mapstructure:"router" yaml:"router"`
	Swap           SwapConfig           `mapstructure:"swap" yaml:"swap"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
	Adapters       AdaptersConfig       `mapstructure:"adapters" yaml:"adapters"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit", "100-S")

	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("kafka.quote_topic", "dexroute.quotes")
	v.SetDefault("kafka.swap_topic", "dexroute.swaps")
	v.SetDefault("kafka.write_timeout", time.Second)

	v.SetDefault("router.route_expiration", 30*time.Second)
	v.SetDefault("router.slippage_tolerance_bps", 50)
	v.SetDefault("router.max_alternatives", 3)
	v.SetDefault("router.quote_coalesce_timeout", 10*time.Second)
	v.SetDefault("router.route_coalesce_timeout", 8*time.Second)
	v.SetDefault("router.provider_coalesce_timeout", 5*time.Second)
	v.SetDefault("router.provider_quote_ttl", 15*time.Second)
	v.SetDefault("router.performance_weights.output_amount", 0.40)
	v.SetDefault("router.performance_weights.fees", 0.25)
	v.SetDefault("router.performance_weights.gas_estimate", 0.15)
	v.SetDefault("router.performance_weights.latency", 0.15)
	v.SetDefault("router.performance_weights.reliability", 0.05)
	v.SetDefault("router.score_normalization.output_envelope", 1e12)
	v.SetDefault("router.score_normalization.fee_saturation_pct", 0.01)
	v.SetDefault("router.score_normalization.gas_envelope", 200000.0)
	v.SetDefault("router.score_normalization.gas_default", 100000.0)
	v.SetDefault("router.score_normalization.latency_envelope", 3*time.Second)
	v.SetDefault("router.score_normalization.default_reliability", 0.80)
	v.SetDefault("router.reliability", map[string]float64{
		"jupiter": 0.95,
		"okx":     0.90,
	})

	v.SetDefault("swap.transaction_expiry", 30*time.Second)

	v.SetDefault("circuit_breaker.failure_threshold", 3)
	v.SetDefault("circuit_breaker.success_threshold", 2)
	v.SetDefault("circuit_breaker.recovery_timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.monitoring_window", 60*time.Second)

	v.SetDefault("adapters.jupiter.enabled", true)
	v.SetDefault("adapters.jupiter.url", "https://quote-api.jup.ag/v6")
	v.SetDefault("adapters.jupiter.timeout", 3*time.Second)
	v.SetDefault("adapters.okx.enabled", false)
	v.SetDefault("adapters.okx.url", "https://www.okx.com")
	v.SetDefault("adapters.okx.timeout", 3*time.Second)
}

// Load reads configuration from ./config.yaml (optional) and the environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("DEXROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that would produce nonsense scores or
// unbounded slippage.
func (c *Config) Validate() error {
	if sum := c.Router.Weights.Sum(); math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("performance weights must sum to 1.0, got %.6f", sum)
	}
	if c.Router.SlippageToleranceBps < 1 || c.Router.SlippageToleranceBps > 10000 {
		return fmt.Errorf("slippage_tolerance_bps must be in [1,10000], got %d", c.Router.SlippageToleranceBps)
	}
	if c.Router.MaxAlternatives < 0 || c.Router.MaxAlternatives > 10 {
		return fmt.Errorf("max_alternatives must be in [0,10], got %d", c.Router.MaxAlternatives)
	}
	if c.Router.RouteExpiration <= 0 {
		return fmt.Errorf("route_expiration must be positive")
	}
	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be at least 1")
	}
	if c.CircuitBreaker.SuccessThreshold < 1 {
		return fmt.Errorf("circuit_breaker.success_threshold must be at least 1")
	}
	return nil
}
