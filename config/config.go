package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the gateway configuration, read from YAML with GATEWAY_* environment overrides.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Core      CoreConfig      `mapstructure:"core"`
	LevelDB   LevelDBConfig   `mapstructure:"leveldb"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Blocks    BlocksConfig    `mapstructure:"blocks"`
	Delegates DelegatesConfig `mapstructure:"delegates"`
	Fees      FeesConfig      `mapstructure:"fees"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	AppLogFile string `mapstructure:"app_log_file"`
	Level      string `mapstructure:"level"`
}

// CoreConfig locates the core node. At least one endpoint is required.
type CoreConfig struct {
	HTTPURL        string        `mapstructure:"http_url"`
	WSURL          string        `mapstructure:"ws_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// Epoch is the RFC 3339 genesis time of chains that count block time from genesis.
	Epoch string `mapstructure:"epoch"`
}

// EpochTime parses the chain epoch.
func (c CoreConfig) EpochTime() (time.Time, error) {
	return time.Parse(time.RFC3339, c.Epoch)
}

type LevelDBConfig struct {
	// Path of the index store. Empty keeps the index in memory.
	Path string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type BlocksConfig struct {
	ConfirmationDepth int64 `mapstructure:"confirmation_depth"`
}

type DelegatesConfig struct {
	MaxCount        int           `mapstructure:"max_count"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type FeesConfig struct {
	QuickAlgorithmEnabled bool    `mapstructure:"quick_algorithm_enabled"`
	FullAlgorithmEnabled  bool    `mapstructure:"full_algorithm_enabled"`
	BatchSize             int     `mapstructure:"batch_size"`
	EMADecay              float64 `mapstructure:"ema_decay"`
	LowerPercentile       float64 `mapstructure:"lower_percentile"`
	UpperPercentile       float64 `mapstructure:"upper_percentile"`
	FullnessThreshold     float64 `mapstructure:"fullness_threshold"`
	MaxPayloadLength      int     `mapstructure:"max_payload_length"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9901)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("core.request_timeout", 15*time.Second)
	v.SetDefault("core.epoch", "2016-05-24T17:00:00Z")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:gateway.db?cache=shared")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("blocks.confirmation_depth", 202)
	v.SetDefault("delegates.max_count", 10000)
	v.SetDefault("delegates.refresh_interval", 0)
	v.SetDefault("fees.quick_algorithm_enabled", true)
	v.SetDefault("fees.full_algorithm_enabled", false)
	v.SetDefault("fees.batch_size", 20)
	v.SetDefault("fees.ema_decay", 0.5)
	v.SetDefault("fees.lower_percentile", 25)
	v.SetDefault("fees.upper_percentile", 80)
	v.SetDefault("fees.fullness_threshold", 0.5)
	v.SetDefault("fees.max_payload_length", 15*1024)
}

// Load reads the configuration file at path. Environment variables such as
// GATEWAY_CORE_WS_URL override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("gateway")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the gateway cannot start without.
func (c *Config) Validate() error {
	if c.Core.HTTPURL == "" && c.Core.WSURL == "" {
		return errors.New("config: core.http_url or core.ws_url is required")
	}
	if _, err := c.Core.EpochTime(); err != nil {
		return fmt.Errorf("config: core.epoch: %w", err)
	}
	if c.Blocks.ConfirmationDepth < 0 {
		return errors.New("config: blocks.confirmation_depth must not be negative")
	}
	if c.Delegates.MaxCount <= 0 {
		return errors.New("config: delegates.max_count must be positive")
	}
	return nil
}
