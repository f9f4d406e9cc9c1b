package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/exec-insight-cache/internal/core/model"
	"github.com/mohammed-shakir/exec-insight-cache/internal/insight"
)

// tuple binds the request dimension flags shared by key and purge.
type tuple struct {
	in   model.Input
	mode string
}

func (t *tuple) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.in.Region, "region", "", "region (HKMC, TW)")
	cmd.Flags().StringVar(&t.in.Brand, "brand", "", "brand code")
	cmd.Flags().StringVar(&t.in.Date, "date", "", "as-of date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&t.mode, "mode", "MTD", "MTD or YTD")
	cmd.Flags().StringVar(&t.in.CategoryFilter, "category", "", "category filter (default all)")
}

func (t *tuple) key() (string, error) {
	t.in.Mode = model.Mode(strings.ToUpper(t.mode))
	if err := t.in.Validate(); err != nil {
		return "", err
	}
	return insight.Key(t.in)
}

func newKeyCmd() *cobra.Command {
	var t tuple
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Print the cache key for a request tuple",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := t.key()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), k)
			return err
		},
	}
	t.bind(cmd)
	return cmd
}
