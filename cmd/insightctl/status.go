package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/exec-insight-cache/internal/app"
)

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print today's hit rate, last run and recommended action",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.config()
			a, err := app.New(cmd.Context(), cfg, newLogger(cfg, "status"))
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			snap := a.Reporter.Status(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), snap); err != nil {
				return err
			}
			if !snap.StoreOK {
				return errors.New("cache store unreachable")
			}
			return nil
		},
	}
}
