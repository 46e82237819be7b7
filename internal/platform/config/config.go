// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config holds all configuration for the quoting service.
type Config struct {
	Networks      map[string]NetworkConfig `mapstructure:"networks"`
	Cache         CacheConfig              `mapstructure:"cache"`
	Batch         BatchConfig              `mapstructure:"batch"`
	Quote         QuoteConfig              `mapstructure:"quote"`
	Warming       WarmingConfig            `mapstructure:"warming"`
	Redis         RedisConfig              `mapstructure:"redis"`
	Observability ObservabilityConfig      `mapstructure:"observability"`
	HTTP          HTTPConfig               `mapstructure:"http"`
}

// NetworkConfig describes one chain the service quotes on.
type NetworkConfig struct {
	RPCEndpoint string  `mapstructure:"rpc_endpoint"`
	V2Factory   string  `mapstructure:"v2_factory"`
	V3Factory   string  `mapstructure:"v3_factory"`
	V2FeeBps    int64   `mapstructure:"v2_fee_bps"`
	FeeTiers    []int64 `mapstructure:"fee_tiers"` // basis points
}

// CacheConfig tunes the in-process TTL cache per category.
type CacheConfig struct {
	Categories map[string]CategoryPolicy `mapstructure:"categories"`
}

// CategoryPolicy is one cache category's expiry and size bound.
type CategoryPolicy struct {
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

// BatchConfig tunes the JSON-RPC batch dispatcher.
type BatchConfig struct {
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

// RetryConfig bounds transport retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

// QuoteConfig holds routing policy.
type QuoteConfig struct {
	MaxSlippagePct float64       `mapstructure:"max_slippage_pct"`
	RemoteTTL      time.Duration `mapstructure:"remote_ttl"`
}

// WarmingConfig drives the background quote warmer.
type WarmingConfig struct {
	Enabled  bool             `mapstructure:"enabled"`
	Interval time.Duration    `mapstructure:"interval"`
	Timeout  time.Duration    `mapstructure:"timeout"`
	Workers  int              `mapstructure:"workers"`
	Pairs    []WarmPairConfig `mapstructure:"pairs"`
}

// WarmPairConfig is one hot pair kept warm in the routes cache.
type WarmPairConfig struct {
	Network     string  `mapstructure:"network"`
	TokenIn     string  `mapstructure:"token_in"`
	TokenOut    string  `mapstructure:"token_out"`
	AmountIn    string  `mapstructure:"amount_in"` // raw units, decimal string
	SlippagePct float64 `mapstructure:"slippage_pct"`

	parsedAmount *big.Int
}

// ParsedAmount returns the pair's amount as an integer. Valid after Load.
func (p *WarmPairConfig) ParsedAmount() *big.Int {
	return p.parsedAmount
}

// RedisConfig holds the optional shared quote cache connection.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig holds tracing settings.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Sampler  string `mapstructure:"sampler"` // always, never, ratio
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Network defaults: Ethereum mainnet with the canonical factories.
	v.SetDefault("networks.mainnet.rpc_endpoint", "https://eth.llamarpc.com")
	v.SetDefault("networks.mainnet.v2_factory", "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	v.SetDefault("networks.mainnet.v3_factory", "0x1F98431c8aD98523631AE4a59f267346ea31F984")
	v.SetDefault("networks.mainnet.v2_fee_bps", 30)
	v.SetDefault("networks.mainnet.fee_tiers", []int64{5, 30, 100})

	// Cache defaults per category.
	v.SetDefault("cache.categories.routes.ttl", "30s")
	v.SetDefault("cache.categories.routes.max_size", 500)
	v.SetDefault("cache.categories.pools.ttl", "2m")
	v.SetDefault("cache.categories.pools.max_size", 1000)
	v.SetDefault("cache.categories.prices.ttl", "30s")
	v.SetDefault("cache.categories.prices.max_size", 1000)
	v.SetDefault("cache.categories.rpc.ttl", "30s")
	v.SetDefault("cache.categories.rpc.max_size", 2000)
	v.SetDefault("cache.categories.existence.ttl", "10m")
	v.SetDefault("cache.categories.existence.max_size", 2000)

	// Batch defaults.
	v.SetDefault("batch.max_batch_size", 10)
	v.SetDefault("batch.batch_timeout", "50ms")
	v.SetDefault("batch.call_timeout", "15s")
	v.SetDefault("batch.retry.max_attempts", 3)
	v.SetDefault("batch.retry.base_delay", "200ms")
	v.SetDefault("batch.retry.max_delay", "5s")
	v.SetDefault("batch.retry.jitter", 0.1)

	// Quote policy defaults.
	v.SetDefault("quote.max_slippage_pct", 50.0)
	v.SetDefault("quote.remote_ttl", "30s")

	// Warming defaults: off until pairs are configured.
	v.SetDefault("warming.enabled", false)
	v.SetDefault("warming.interval", "25s")
	v.SetDefault("warming.timeout", "20s")
	v.SetDefault("warming.workers", 4)

	// Redis defaults.
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Observability defaults.
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9091)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sampler", "always")

	// HTTP defaults.
	v.SetDefault("http.port", 8080)
}

// parse converts string values into their proper types.
func (c *Config) parse() error {
	for i := range c.Warming.Pairs {
		pair := &c.Warming.Pairs[i]
		amount := new(big.Int)
		if _, ok := amount.SetString(pair.AmountIn, 10); !ok || amount.Sign() <= 0 {
			return fmt.Errorf("invalid warming amount for %s/%s: %q", pair.TokenIn, pair.TokenOut, pair.AmountIn)
		}
		pair.parsedAmount = amount
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network is required")
	}
	for name, net := range c.Networks {
		if net.RPCEndpoint == "" {
			return fmt.Errorf("network %s: rpc_endpoint is required", name)
		}
		if !common.IsHexAddress(net.V2Factory) {
			return fmt.Errorf("network %s: invalid v2_factory address: %s", name, net.V2Factory)
		}
		if !common.IsHexAddress(net.V3Factory) {
			return fmt.Errorf("network %s: invalid v3_factory address: %s", name, net.V3Factory)
		}
		if net.V2FeeBps <= 0 || net.V2FeeBps >= 10000 {
			return fmt.Errorf("network %s: v2_fee_bps must be in (0, 10000)", name)
		}
		for _, fee := range net.FeeTiers {
			if fee <= 0 || fee >= 10000 {
				return fmt.Errorf("network %s: fee tier %d out of range", name, fee)
			}
		}
	}

	for cat, policy := range c.Cache.Categories {
		if policy.TTL <= 0 {
			return fmt.Errorf("cache category %s: ttl must be positive", cat)
		}
		if policy.MaxSize <= 0 {
			return fmt.Errorf("cache category %s: max_size must be positive", cat)
		}
	}

	if c.Batch.MaxBatchSize <= 0 {
		return fmt.Errorf("batch max_batch_size must be positive")
	}
	if c.Batch.BatchTimeout <= 0 || c.Batch.CallTimeout <= 0 {
		return fmt.Errorf("batch timeouts must be positive")
	}

	if c.Quote.MaxSlippagePct <= 0 || c.Quote.MaxSlippagePct > 100 {
		return fmt.Errorf("quote max_slippage_pct must be in (0, 100]")
	}

	if c.Warming.Enabled && len(c.Warming.Pairs) == 0 {
		return fmt.Errorf("warming is enabled but no pairs are configured")
	}
	for _, pair := range c.Warming.Pairs {
		if _, ok := c.Networks[pair.Network]; !ok {
			return fmt.Errorf("warming pair references unknown network %s", pair.Network)
		}
		if !common.IsHexAddress(pair.TokenIn) || !common.IsHexAddress(pair.TokenOut) {
			return fmt.Errorf("warming pair %s/%s: invalid token address", pair.TokenIn, pair.TokenOut)
		}
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis is enabled but address is empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}
