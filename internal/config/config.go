// Package config loads client and server settings from a YAML file,
// OFFSYNC_* environment variables and command line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/iudanet/offsync/internal/logging"
)

// EnvPrefix is prepended to every environment variable: server.listen is
// read from OFFSYNC_SERVER_LISTEN.
const EnvPrefix = "OFFSYNC"

// Storage backends.
const (
	BackendBolt = "bolt"
	BackendFile = "file"
)

// Config holds every setting of both binaries.
type Config struct {
	Remote       RemoteConfig       `mapstructure:"remote"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Conflict     ConflictConfig     `mapstructure:"conflict"`
	Server       ServerConfig       `mapstructure:"server"`
	Log          logging.Config     `mapstructure:"log"`
}

// RemoteConfig описывает подключение клиента к серверу.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"` // Token bearer токен (пусто - без авторизации)
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig описывает локальное хранилище клиента.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`    // Backend bolt или file
	Path       string `mapstructure:"path"`       // Path файл bolt или каталог file (пусто - по умолчанию для backend)
	Encrypt    bool   `mapstructure:"encrypt"`    // Encrypt шифровать значения паролем
	Passphrase string `mapstructure:"passphrase"` // Passphrase пароль (пусто - спросить в терминале)
}

// CacheConfig задает параметры кэша.
type CacheConfig struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	EntityTTL     time.Duration `mapstructure:"entity_ttl"` // EntityTTL время жизни сущностей, полученных с сервера
	CleanInterval time.Duration `mapstructure:"clean_interval"`
	MaxBytes      int           `mapstructure:"max_bytes"` // MaxBytes лимит памяти (0 - без лимита)
	Durable       bool          `mapstructure:"durable"`   // Durable сохранять полученные с сервера сущности между запусками
}

// QueueConfig задает параметры очереди.
type QueueConfig struct {
	MaxSize        int           `mapstructure:"max_size"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	RetryJitter    uint64        `mapstructure:"retry_jitter"` // RetryJitter разброс задержки в процентах
}

// SyncConfig задает параметры отправки очереди.
type SyncConfig struct {
	Workers          int           `mapstructure:"workers"`
	SendInterval     time.Duration `mapstructure:"send_interval"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	PeriodicInterval time.Duration `mapstructure:"periodic_interval"`
	BaseTTL          time.Duration `mapstructure:"base_ttl"`
}

// ConnectivityConfig задает источник состояния сети.
type ConnectivityConfig struct {
	StatusFile      string        `mapstructure:"status_file"` // StatusFile файл со статусом (пусто - всегда онлайн)
	RecheckInterval time.Duration `mapstructure:"recheck_interval"`
}

// ConflictConfig задает правила разрешения конфликтов.
type ConflictConfig struct {
	RulesFile        string `mapstructure:"rules_file"` // RulesFile YAML с правилами (пусто - встроенные)
	BatchConcurrency int    `mapstructure:"batch_concurrency"`
}

// ServerConfig описывает эталонный сервер.
type ServerConfig struct {
	Listen     string        `mapstructure:"listen"`
	DBPath     string        `mapstructure:"db_path"`
	JWTSecret  string        `mapstructure:"jwt_secret"` // JWTSecret секрет подписи (пусто - без авторизации)
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	RateLimit  int           `mapstructure:"rate_limit"` // RateLimit запросов с одного IP за окно (0 - без лимита)
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"server-url":      "remote.url",
	"token":           "remote.token",
	"storage":         "storage.backend",
	"storage-path":    "storage.path",
	"encrypt":         "storage.encrypt",
	"status-file":     "connectivity.status_file",
	"rules":           "conflict.rules_file",
	"workers":         "sync.workers",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"log-file":        "log.file",
	"listen":          "server.listen",
	"db":              "server.db_path",
	"jwt-secret":      "server.jwt_secret",
	"rate-limit":      "server.rate_limit",
	"retry-max-delay": "queue.retry_max_delay",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("remote.url", "http://localhost:8080")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("storage.backend", BackendBolt)
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.encrypt", false)
	v.SetDefault("storage.passphrase", "")

	v.SetDefault("cache.default_ttl", 5*time.Minute)
	v.SetDefault("cache.entity_ttl", 5*time.Minute)
	v.SetDefault("cache.clean_interval", time.Minute)
	v.SetDefault("cache.max_bytes", 0)
	v.SetDefault("cache.durable", true)

	v.SetDefault("queue.max_size", 0)
	v.SetDefault("queue.retry_base_delay", time.Second)
	v.SetDefault("queue.retry_max_delay", 5*time.Minute)
	v.SetDefault("queue.retry_jitter", 10)

	v.SetDefault("sync.workers", 2)
	v.SetDefault("sync.send_interval", 100*time.Millisecond)
	v.SetDefault("sync.settle_delay", 2*time.Second)
	v.SetDefault("sync.periodic_interval", 5*time.Minute)
	v.SetDefault("sync.base_ttl", 24*time.Hour)

	v.SetDefault("connectivity.status_file", "")
	v.SetDefault("connectivity.recheck_interval", 5*time.Minute)

	v.SetDefault("conflict.rules_file", "")
	v.SetDefault("conflict.batch_concurrency", 4)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.db_path", "offsync-server.db")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.token_ttl", 24*time.Hour)
	v.SetDefault("server.rate_limit", 600)
	v.SetDefault("server.rate_window", time.Minute)

	log := logging.DefaultConfig()
	v.SetDefault("log.level", log.Level)
	v.SetDefault("log.format", log.Format)
	v.SetDefault("log.file", log.File)
	v.SetDefault("log.max_size_mb", log.MaxSizeMB)
	v.SetDefault("log.max_backups", log.MaxBackups)
	v.SetDefault("log.max_age_days", log.MaxAgeDays)
	v.SetDefault("log.compress", log.Compress)
	v.SetDefault("log.add_source", log.AddSource)
}

// Default returns the built-in configuration, ignoring environment and files.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// встроенные значения всегда декодируются
		panic(err)
	}
	return &cfg
}

// Load reads the configuration. Precedence, highest first: flags that were
// set explicitly, environment, the YAML file at path (optional), defaults.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// StoragePath returns the configured storage path or the backend default.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	if c.Storage.Backend == BackendFile {
		return "offsync-data"
	}
	return "offsync.db"
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Remote.URL != "", "remote.url is required")
	check(c.Remote.Timeout > 0, "remote.timeout must be positive, got %s", c.Remote.Timeout)

	switch c.Storage.Backend {
	case BackendBolt, BackendFile:
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	check(c.Cache.DefaultTTL > 0, "cache.default_ttl must be positive, got %s", c.Cache.DefaultTTL)
	check(c.Cache.EntityTTL >= 0, "cache.entity_ttl must not be negative")
	check(c.Cache.CleanInterval > 0, "cache.clean_interval must be positive, got %s", c.Cache.CleanInterval)
	check(c.Cache.MaxBytes >= 0, "cache.max_bytes must not be negative")

	check(c.Queue.MaxSize >= 0, "queue.max_size must not be negative")
	check(c.Queue.RetryBaseDelay >= 0, "queue.retry_base_delay must not be negative")
	check(c.Queue.RetryBaseDelay == 0 || c.Queue.RetryMaxDelay >= c.Queue.RetryBaseDelay,
		"queue.retry_max_delay %s is below retry_base_delay %s", c.Queue.RetryMaxDelay, c.Queue.RetryBaseDelay)
	check(c.Queue.RetryJitter <= 100, "queue.retry_jitter must be a percentage, got %d", c.Queue.RetryJitter)

	check(c.Sync.Workers > 0, "sync.workers must be positive, got %d", c.Sync.Workers)
	check(c.Sync.SendInterval >= 0, "sync.send_interval must not be negative")
	check(c.Sync.SettleDelay >= 0, "sync.settle_delay must not be negative")
	check(c.Sync.PeriodicInterval > 0, "sync.periodic_interval must be positive, got %s", c.Sync.PeriodicInterval)
	check(c.Sync.BaseTTL > 0, "sync.base_ttl must be positive, got %s", c.Sync.BaseTTL)

	check(c.Connectivity.RecheckInterval > 0, "connectivity.recheck_interval must be positive")
	check(c.Conflict.BatchConcurrency > 0, "conflict.batch_concurrency must be positive, got %d", c.Conflict.BatchConcurrency)

	check(c.Server.Listen != "", "server.listen is required")
	check(c.Server.DBPath != "", "server.db_path is required")
	check(c.Server.TokenTTL > 0, "server.token_ttl must be positive")
	check(c.Server.RateLimit >= 0, "server.rate_limit must not be negative")
	check(c.Server.RateLimit == 0 || c.Server.RateWindow > 0, "server.rate_window must be positive")

	if err := c.Log.Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}
