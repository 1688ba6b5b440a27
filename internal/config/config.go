// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// ACADEMY_LOCK_STORE_DRIVER=etcd.
const EnvPrefix = "ACADEMY_LOCK"

// Config holds all configuration for our application.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Store   StoreConfig   `mapstructure:"store"`
	Lock    LockConfig    `mapstructure:"lock"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// SlogLevel maps Level onto a slog level, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
}

type StoreConfig struct {
	Driver    string      `mapstructure:"driver" validate:"oneof=redis etcd memory"`
	KeyPrefix string      `mapstructure:"key_prefix"`
	Redis     RedisConfig `mapstructure:"redis"`
	Etcd      EtcdConfig  `mapstructure:"etcd"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size" validate:"gte=0"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// LockConfig is the default acquisition policy of the lock manager.
type LockConfig struct {
	// Lease, MaxRetries and MaxWait apply when a caller passes no policy.
	Lease      time.Duration `mapstructure:"lease" validate:"gt=0"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0"`
	MaxWait    time.Duration `mapstructure:"max_wait" validate:"gt=0"`
	BaseDelay  time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	OpTimeout  time.Duration `mapstructure:"op_timeout" validate:"gt=0"`
	StatsTTL   time.Duration `mapstructure:"stats_ttl" validate:"gt=0"`
}

type MonitorConfig struct {
	Schedule  string   `mapstructure:"schedule" validate:"required,cronspec"`
	WatchKeys []string `mapstructure:"watch_keys"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name" validate:"required_if=Enabled true"`
}

// CronParser accepts the same expressions as a cron.WithSeconds scheduler.
var CronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("http.listen_addr", ":8080")

	v.SetDefault("store.driver", "redis")
	v.SetDefault("store.key_prefix", "")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.dial_timeout", "5s")
	v.SetDefault("store.redis.read_timeout", "2s")
	v.SetDefault("store.redis.write_timeout", "2s")
	v.SetDefault("store.redis.pool_size", 10)
	v.SetDefault("store.etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("store.etcd.dial_timeout", "5s")

	v.SetDefault("lock.lease", "30s")
	v.SetDefault("lock.max_retries", 3)
	v.SetDefault("lock.max_wait", "10s")
	v.SetDefault("lock.base_delay", "100ms")
	v.SetDefault("lock.op_timeout", "2s")
	v.SetDefault("lock.stats_ttl", "720h")

	v.SetDefault("monitor.schedule", "@every 30s")
	v.SetDefault("monitor.watch_keys", []string{})

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "academy-lock")
}

// Load loads configuration from .env, config file and environment variables,
// in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// Set config file details
	v.SetConfigName("config")    // name of config file (without extension)
	v.SetConfigType("yaml")      // or "json", "toml"
	v.AddConfigPath("./configs") // path to look for the config file in
	v.AddConfigPath(".")         // optionally look for config in the working directory

	// Read environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; rely on defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	validate := validator.New()
	_ = validate.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := CronParser.Parse(fl.Field().String())
		return err == nil
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Store.Driver == "redis" && c.Store.Redis.Addr == "" {
		return errors.New("invalid config: store.redis.addr is required for the redis driver")
	}
	if c.Store.Driver == "etcd" && len(c.Store.Etcd.Endpoints) == 0 {
		return errors.New("invalid config: store.etcd.endpoints is required for the etcd driver")
	}
	return nil
}
