package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/l0p7/recipectl/internal/config"
	"github.com/l0p7/recipectl/internal/server"
)

type runnableServer interface {
	Run(context.Context) error
}

var newHTTPServer = func(listen config.ListenConfig, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
	srv, err := server.New(listen, logger, handler)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, os.Stdout)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions, logOut io.Writer) error {
	loader, cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	if opts.configPath != "" {
		watcher, err := loader.Watch(ctx, func(next config.Config) {
			if err := a.governor.Reload(upstreamConfig(next.Upstream)); err != nil {
				logger.Error("upstream reload rejected", slog.Any("error", err))
				return
			}
			logger.Info("upstream configuration reloaded")
		}, func(err error) {
			if err != nil {
				logger.Error("config watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler, err := server.NewRouter(server.RouterOptions{
		Governor:   a.governor,
		Favorites:  a.favorites,
		Sessions:   a.sessions,
		Notices:    a.notices,
		Metrics:    a.metrics.Handler(),
		UserHeader: cfg.Server.UserHeader,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	srv, err := newHTTPServer(cfg.Server.Listen, logger, handler)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}
