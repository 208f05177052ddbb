package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	configPath string
	envPrefix  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "recipectl",
		Short:         "Recipe search with a rate-limit aware result cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to configuration file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&opts.envPrefix, "env-prefix", "RECIPECTL", "environment variable prefix")

	root.AddCommand(
		newServeCmd(opts),
		newSearchCmd(opts),
		newFavoritesCmd(opts),
		newCacheCmd(opts),
	)
	return root
}
