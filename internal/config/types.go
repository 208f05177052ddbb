package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Cache     CacheConfig     `koanf:"cache"`
	Limiter   LimiterConfig   `koanf:"limiter"`
	Storage   StorageConfig   `koanf:"storage"`
	Templates TemplatesConfig `koanf:"templates"`
}

type ServerConfig struct {
	Listen ListenConfig `koanf:"listen"`
	// UserHeader names the request header carrying the signed-in user.
	UserHeader string `koanf:"userHeader"`
	// HandoffTTL bounds how long a recipe handoff handle stays readable.
	HandoffTTL time.Duration `koanf:"handoffTTL"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// UpstreamConfig points at the recipe provider. Credentials are reloadable.
type UpstreamConfig struct {
	BaseURL string        `koanf:"baseURL"`
	AppID   string        `koanf:"appID"`
	AppKey  string        `koanf:"appKey"`
	Timeout time.Duration `koanf:"timeout"`
}

type CacheConfig struct {
	TTL       time.Duration `koanf:"ttl"`
	Namespace string        `koanf:"namespace"`
}

type LimiterConfig struct {
	Window      time.Duration `koanf:"window"`
	MaxRequests int           `koanf:"maxRequests"`
	// Persist keeps the window in storage across restarts.
	Persist bool `koanf:"persist"`
}

type StorageConfig struct {
	Backend    string             `koanf:"backend"`
	QuotaBytes int64              `koanf:"quotaBytes"`
	Redis      StorageRedisConfig `koanf:"redis"`
	SQLite     SQLiteConfig       `koanf:"sqlite"`
}

type StorageRedisConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// TemplatesConfig overrides notice copy. Folder holds "<notice>.tmpl" files;
// Notices holds inline sources and wins over files.
type TemplatesConfig struct {
	Folder  string            `koanf:"folder"`
	Notices map[string]string `koanf:"notices"`
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: server.listen.port invalid: %d", c.Server.Listen.Port)
	}
	if strings.TrimSpace(c.Server.UserHeader) == "" {
		return errors.New("config: server.userHeader required")
	}
	if c.Server.HandoffTTL <= 0 {
		return fmt.Errorf("config: server.handoffTTL invalid: %s", c.Server.HandoffTTL)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("config: logging.format unsupported: %s", c.Logging.Format)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: logging.level unsupported: %s", c.Logging.Level)
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("config: upstream.timeout invalid: %s", c.Upstream.Timeout)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl invalid: %s", c.Cache.TTL)
	}
	if c.Limiter.Window <= 0 {
		return fmt.Errorf("config: limiter.window invalid: %s", c.Limiter.Window)
	}
	if c.Limiter.MaxRequests <= 0 {
		return fmt.Errorf("config: limiter.maxRequests invalid: %d", c.Limiter.MaxRequests)
	}
	if c.Storage.QuotaBytes < 0 {
		return fmt.Errorf("config: storage.quotaBytes invalid: %d", c.Storage.QuotaBytes)
	}
	switch c.StorageBackend() {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.Storage.Redis.Address) == "" {
			return errors.New("config: storage.redis.address required for redis backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Storage.SQLite.Path) == "" {
			return errors.New("config: storage.sqlite.path required for sqlite backend")
		}
	default:
		return fmt.Errorf("config: storage.backend unsupported: %s", c.Storage.Backend)
	}
	return nil
}

// StorageBackend returns the normalized backend name, memory when unset.
func (c *Config) StorageBackend() string {
	backend := strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if backend == "" {
		return BackendMemory
	}
	return backend
}

// String renders the host:port listener address.
func (l ListenConfig) String() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// DefaultConfig returns the baseline values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			UserHeader: "X-User-Email",
			HandoffTTL: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://api.edamam.com/api/recipes/v2",
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		Limiter: LimiterConfig{
			Window:      time.Minute,
			MaxRequests: 10,
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			// Matches the usual browser local storage allowance.
			QuotaBytes: 5 << 20,
			SQLite:     SQLiteConfig{Path: "recipectl.db"},
		},
	}
}
