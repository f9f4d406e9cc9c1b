package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/exec-insight-cache/internal/app"
	"github.com/mohammed-shakir/exec-insight-cache/internal/refresh"
)

func newRefreshCmd(g *globals) *cobra.Command {
	var targetsPath string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force-regenerate every target and record the run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if targetsPath == "" {
				return errors.New("--targets is required")
			}
			targets, err := refresh.LoadTargets(targetsPath, time.Now())
			if err != nil {
				return err
			}

			cfg := g.config()
			log := newLogger(cfg, "refresh")
			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			rec, err := refresh.New(a.Insights, a.Recorder, log).Run(cmd.Context(), targets)
			if perr := printJSON(cmd.OutOrStdout(), rec); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			if rec.ErrorCount > 0 {
				return fmt.Errorf("%d of %d targets failed", rec.ErrorCount, rec.Targets)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetsPath, "targets", "t", "", "path to the refresh targets YAML file")
	return cmd
}
