package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/recipectl/internal/config"
	"github.com/l0p7/recipectl/internal/favorites"
	"github.com/l0p7/recipectl/internal/governor"
	"github.com/l0p7/recipectl/internal/limiter"
	"github.com/l0p7/recipectl/internal/logging"
	"github.com/l0p7/recipectl/internal/metrics"
	"github.com/l0p7/recipectl/internal/resultcache"
	"github.com/l0p7/recipectl/internal/session"
	"github.com/l0p7/recipectl/internal/storage"
	"github.com/l0p7/recipectl/internal/templates"
	"github.com/l0p7/recipectl/internal/upstream"
)

type configWatcher interface {
	Stop()
}

type configLoader interface {
	Load(context.Context) (config.Config, error)
	Watch(context.Context, func(config.Config), func(error)) (configWatcher, error)
}

type fileLoader struct {
	*config.Loader
}

func (l fileLoader) Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error) {
	w, err := l.Loader.Watch(ctx, onChange, onError)
	if err != nil {
		return nil, err
	}
	return w, nil
}

var newConfigLoader = func(envPrefix, path string) configLoader {
	return fileLoader{Loader: config.NewLoader(envPrefix, path)}
}

// app is the assembled object graph shared by every command.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	store     storage.Store
	cache     *resultcache.Cache
	governor  *governor.Governor
	favorites *favorites.Store
	sessions  *session.Store
	notices   *templates.Notices
	metrics   *metrics.Recorder
}

func loadConfig(ctx context.Context, opts *rootOptions) (configLoader, config.Config, error) {
	loader := newConfigLoader(opts.envPrefix, opts.configPath)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load configuration: %w", err)
	}
	return loader, cfg, nil
}

func buildApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	logger, err := logging.New(cfg.Logging, logOut)
	if err != nil {
		return nil, fmt.Errorf("configure logger: %w", err)
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	store := buildStore(logger.With(slog.String("agent", "store_factory")), cfg.Storage)

	a := &app{cfg: cfg, logger: logger, store: store, metrics: recorder}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	var err error
	a.cache, err = resultcache.New(resultcache.Options{
		Store:     a.store,
		TTL:       a.cfg.Cache.TTL,
		Namespace: a.cfg.Cache.Namespace,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
	if err != nil {
		return err
	}

	window, err := limiter.New(limiter.Config{
		Window:      a.cfg.Limiter.Window,
		MaxRequests: a.cfg.Limiter.MaxRequests,
	})
	if err != nil {
		return err
	}

	client, err := upstream.New(upstreamConfig(a.cfg.Upstream), &http.Client{})
	if err != nil {
		return err
	}
	if client.Config().AppID == "" || client.Config().AppKey == "" {
		a.logger.Warn("upstream credentials missing; provider requests will be rejected")
	}

	a.governor, err = governor.New(ctx, governor.Options{
		Cache:          a.cache,
		Limiter:        window,
		Upstream:       client,
		Store:          a.store,
		PersistLimiter: a.cfg.Limiter.Persist,
		Logger:         a.logger,
		Metrics:        a.metrics,
	})
	if err != nil {
		return err
	}

	a.favorites, err = favorites.New(favorites.Options{
		Store:     a.store,
		Namespace: a.cfg.Cache.Namespace,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
	if err != nil {
		return err
	}
	a.sessions = session.New(session.Options{TTL: a.cfg.Server.HandoffTTL})
	a.notices, err = buildNotices(a.logger, a.cfg)
	return err
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.store.Close(ctx); err != nil {
		a.logger.Error("storage shutdown failed", slog.Any("error", err))
	}
}

func upstreamConfig(cfg config.UpstreamConfig) upstream.Config {
	return upstream.Config{
		BaseURL: cfg.BaseURL,
		AppID:   cfg.AppID,
		AppKey:  cfg.AppKey,
		Timeout: cfg.Timeout,
	}
}

func buildNotices(logger *slog.Logger, cfg config.Config) (*templates.Notices, error) {
	var sandbox *templates.Sandbox
	if folder := strings.TrimSpace(cfg.Templates.Folder); folder != "" {
		sb, err := templates.NewSandbox(folder)
		if err != nil {
			logger.Warn("template sandbox setup failed", slog.String("templates_folder", folder), slog.Any("error", err))
		} else {
			sandbox = sb
		}
	}
	notices, err := templates.NewNotices(templates.NewRenderer(sandbox), templates.Options{
		Overrides: cfg.Templates.Notices,
		CacheTTL:  cfg.Cache.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("compile notices: %w", err)
	}
	return notices, nil
}

// buildStore falls back to memory when a persistent backend cannot be
// opened so the process still serves searches.
func buildStore(logger *slog.Logger, cfg config.StorageConfig) storage.Store {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", config.BackendMemory:
		logger.Info("using memory storage", slog.Int64("quota_bytes", cfg.QuotaBytes))
		return storage.NewMemory(cfg.QuotaBytes)
	case config.BackendRedis:
		store, err := storage.NewRedis(storage.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: storage.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis storage initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory storage")
			return storage.NewMemory(cfg.QuotaBytes)
		}
		logger.Info("using redis storage", slog.String("address", cfg.Redis.Address))
		return store
	case config.BackendSQLite:
		store, err := storage.NewSQLite(cfg.SQLite.Path, cfg.QuotaBytes)
		if err != nil {
			logger.Error("sqlite storage initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory storage")
			return storage.NewMemory(cfg.QuotaBytes)
		}
		logger.Info("using sqlite storage", slog.String("path", cfg.SQLite.Path))
		return store
	default:
		logger.Warn("unsupported storage backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return storage.NewMemory(cfg.QuotaBytes)
	}
}

// userOrError trims a --user flag value.
func userOrError(user string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", errors.New("--user is required")
	}
	return user, nil
}
