package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	ktoml "github.com/knadh/koanf/parsers/toml"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the configuration with env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Files returns the configured file paths, skipping blanks.
func (l *Loader) Files() []string {
	out := make([]string, 0, len(l.files))
	for _, path := range l.files {
		if strings.TrimSpace(path) != "" {
			out = append(out, path)
		}
	}
	return out
}

// canonicalEnvKeys restores camelCase segments that env variables flatten.
var canonicalEnvKeys = map[string]string{
	"server.userheader":        "server.userHeader",
	"server.handoffttl":        "server.handoffTTL",
	"upstream.baseurl":         "upstream.baseURL",
	"upstream.appid":           "upstream.appID",
	"upstream.appkey":          "upstream.appKey",
	"limiter.maxrequests":      "limiter.maxRequests",
	"storage.quotabytes":       "storage.quotaBytes",
	"storage.redis.tls.cafile": "storage.redis.tls.caFile",
}

// Load assembles the effective configuration and validates it.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.Files() {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal a nested path (RECIPECTL_LIMITER__WINDOW -> limiter.window).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			key = strings.ReplaceAll(key, "_", "")
			key = strings.ToLower(key)
			if mapped, ok := canonicalEnvKeys[key]; ok {
				return mapped
			}
			return key
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return kyaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml":
		return ktoml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file type %q", filepath.Ext(path))
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"userHeader": cfg.Server.UserHeader,
			"handoffTTL": cfg.Server.HandoffTTL.String(),
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
		"upstream": map[string]any{
			"baseURL": cfg.Upstream.BaseURL,
			"appID":   cfg.Upstream.AppID,
			"appKey":  cfg.Upstream.AppKey,
			"timeout": cfg.Upstream.Timeout.String(),
		},
		"cache": map[string]any{
			"ttl":       cfg.Cache.TTL.String(),
			"namespace": cfg.Cache.Namespace,
		},
		"limiter": map[string]any{
			"window":      cfg.Limiter.Window.String(),
			"maxRequests": cfg.Limiter.MaxRequests,
			"persist":     cfg.Limiter.Persist,
		},
		"storage": map[string]any{
			"backend":    cfg.Storage.Backend,
			"quotaBytes": cfg.Storage.QuotaBytes,
			"redis": map[string]any{
				"address":  cfg.Storage.Redis.Address,
				"username": cfg.Storage.Redis.Username,
				"password": cfg.Storage.Redis.Password,
				"db":       cfg.Storage.Redis.DB,
				"tls": map[string]any{
					"enabled": cfg.Storage.Redis.TLS.Enabled,
					"caFile":  cfg.Storage.Redis.TLS.CAFile,
				},
			},
			"sqlite": map[string]any{
				"path": cfg.Storage.SQLite.Path,
			},
		},
		"templates": map[string]any{
			"folder": cfg.Templates.Folder,
		},
	}
}
