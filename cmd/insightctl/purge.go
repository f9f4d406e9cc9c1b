package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/exec-insight-cache/internal/cache/drivers"
)

func newPurgeCmd(g *globals) *cobra.Command {
	var t tuple
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete the cached insight for a request tuple",
		Long: "Delete the cached insight for a request tuple so the next read " +
			"regenerates it. Counters and the last run record are left alone.",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := t.key()
			if err != nil {
				return err
			}
			cfg := g.config()
			store, err := drivers.Open(cmd.Context(), cfg, newLogger(cfg, "purge"))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Del(cmd.Context(), k); err != nil {
				return fmt.Errorf("purge %s: %w", k, err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), k)
			return err
		},
	}
	t.bind(cmd)
	return cmd
}
