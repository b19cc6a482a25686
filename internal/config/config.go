package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the relay runtime parameters.
type Config struct {
	HTTPAddress         string        `mapstructure:"http_address"`
	LogLevel            string        `mapstructure:"log_level"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	Storage             StorageConfig `mapstructure:"storage"`
	Database            DBConfig      `mapstructure:"database"`
	Redis               RedisConfig   `mapstructure:"redis"`
	Auth                AuthConfig    `mapstructure:"auth"`
	Relay               RelayConfig   `mapstructure:"relay"`
}

// StorageConfig selects the message store backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// DBConfig describes the Postgres connection.
type DBConfig struct {
	DSN          string        `mapstructure:"dsn"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// RedisConfig enables the token validation cache when Addr is set.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	IdentityClaim string        `mapstructure:"identity_claim"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

// RelayConfig tunes the live socket sessions.
type RelayConfig struct {
	EchoToSender   bool          `mapstructure:"echo_to_sender"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const (
	defaultHTTPAddress         = ":8080"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultStorageDriver       = DriverPostgres
	defaultQueryTimeout        = 5 * time.Second
	defaultIdentityClaim       = "_id"
	defaultCacheTTL            = 10 * time.Minute
	defaultSendBuffer          = 256
	defaultMaxMessageSize      = 4096
	defaultWriteWait           = 10 * time.Second
	defaultPongWait            = 60 * time.Second
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with MENTORCHAT_ and override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MENTORCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_address", defaultHTTPAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod)
	v.SetDefault("storage.driver", defaultStorageDriver)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.query_timeout", defaultQueryTimeout)
	v.SetDefault("redis.addr", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.identity_claim", defaultIdentityClaim)
	v.SetDefault("auth.cache_ttl", defaultCacheTTL)
	v.SetDefault("relay.echo_to_sender", true)
	v.SetDefault("relay.send_buffer", defaultSendBuffer)
	v.SetDefault("relay.max_message_size", defaultMaxMessageSize)
	v.SetDefault("relay.write_wait", defaultWriteWait)
	v.SetDefault("relay.pong_wait", defaultPongWait)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the combinations Load cannot default away.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Relay.SendBuffer <= 0 {
		return fmt.Errorf("relay.send_buffer must be positive, got %d", c.Relay.SendBuffer)
	}
	if c.Relay.MaxMessageSize <= 0 {
		return fmt.Errorf("relay.max_message_size must be positive, got %d", c.Relay.MaxMessageSize)
	}
	if c.Relay.PongWait <= 0 || c.Relay.WriteWait <= 0 {
		return errors.New("relay.pong_wait and relay.write_wait must be positive")
	}
	return nil
}

// PingPeriod is how often the server pings a live socket. Must be less than PongWait.
func (r RelayConfig) PingPeriod() time.Duration {
	return (r.PongWait * 9) / 10
}
