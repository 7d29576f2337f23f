package config

import (
	"net"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/eternalApril/moonkv/internal/resp"
)

// EnvPrefix is prepended to every environment variable, e.g. MOONKV_SERVER_PORT
const EnvPrefix = "MOONKV"

// Config represents the root configuration structure for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds the network settings
type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       string `mapstructure:"port"`
	MaxClients int    `mapstructure:"max_clients"` // connections served at once
}

// Address joins host and port
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// StorageConfig defines the internal structure of the storage engine
type StorageConfig struct {
	Shards uint `mapstructure:"shards"` // 1 selects a single-lock map
}

// ProtocolConfig bounds what the decoder accepts from a client
type ProtocolConfig struct {
	MaxDepth    int   `mapstructure:"max_depth"`
	MaxElements int64 `mapstructure:"max_elements"`
	MaxBulkLen  int64 `mapstructure:"max_bulk_len"`
	MaxLineLen  int64 `mapstructure:"max_line_len"`
}

// Limits converts the settings for resp.NewDecoderWithLimits
func (c ProtocolConfig) Limits() resp.Limits {
	return resp.Limits{
		MaxDepth:    c.MaxDepth,
		MaxElements: c.MaxElements,
		MaxBulkLen:  c.MaxBulkLen,
		MaxLineLen:  c.MaxLineLen,
	}
}

// LogConfig defines logging verbosity and output style
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// MetricsConfig controls the Prometheus text endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads the configuration from a file and overrides it with environment variables.
// Variables found in .env and .env.local are exported first, without replacing
// ones already set in the environment
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(path)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port must be set")
	}
	if c.Server.MaxClients <= 0 {
		return errors.Errorf("server.max_clients must be positive, got %d", c.Server.MaxClients)
	}
	if c.Storage.Shards == 0 {
		return errors.New("storage.shards must be positive")
	}
	if c.Protocol.MaxDepth <= 0 || c.Protocol.MaxElements <= 0 || c.Protocol.MaxBulkLen <= 0 || c.Protocol.MaxLineLen <= 0 {
		return errors.New("protocol limits must be positive")
	}
	if c.Protocol.MaxBulkLen > resp.MaxBulkLenCeiling {
		return errors.Errorf("protocol.max_bulk_len must not exceed %d, got %d", int64(resp.MaxBulkLenCeiling), c.Protocol.MaxBulkLen)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr must be set when metrics are enabled")
	}
	return nil
}

// setDefaults populates viper with fallback values if they are not provided via file or ENV
func setDefaults() {
	// Server
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", "31337")
	viper.SetDefault("server.max_clients", 64)

	// Storage
	viper.SetDefault("storage.shards", 32)

	// Protocol
	viper.SetDefault("protocol.max_depth", resp.DefaultLimits.MaxDepth)
	viper.SetDefault("protocol.max_elements", resp.DefaultLimits.MaxElements)
	viper.SetDefault("protocol.max_bulk_len", resp.DefaultLimits.MaxBulkLen)
	viper.SetDefault("protocol.max_line_len", resp.DefaultLimits.MaxLineLen)

	// Logger
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")

	// Metrics
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.addr", "127.0.0.1:9121")
}
