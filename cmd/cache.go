package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCacheCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the result cache",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cached entries and how many have expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, root, func(a *app) error {
				s, err := a.cache.Stats(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Entries: %d\n", s.Entries)
				fmt.Fprintf(out, "Expired: %d\n", s.Expired)
				fmt.Fprintf(out, "TTL:     %s\n", a.cache.TTL())
				status := a.governor.Status()
				fmt.Fprintf(out, "Limiter: %d/%d requests left per %s\n", status.Remaining, status.MaxRequests, status.Window)
				return nil
			})
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, root, func(a *app) error {
				var (
					removed int
					err     error
				)
				if expiredOnly {
					removed, err = a.cache.EvictExpired(cmd.Context(), time.Now())
				} else {
					removed, err = a.cache.Clear(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache %s\n", removed, pluralize(removed, "entry", "entries"))
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only delete expired entries")

	cmd.AddCommand(stats, clearCmd)
	return cmd
}
