package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/exec-insight-cache/internal/core/config"
	"github.com/mohammed-shakir/exec-insight-cache/internal/logger"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

type globals struct {
	store string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:          "insightctl",
		Short:        "Operate the executive insight cache",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.store, "store", "", "override STORE_DRIVER (redis, memory)")

	root.AddCommand(newRefreshCmd(g))
	root.AddCommand(newStatusCmd(g))
	root.AddCommand(newKeyCmd())
	root.AddCommand(newPurgeCmd(g))
	return root
}

func (g *globals) config() config.Config {
	cfg := config.FromEnv()
	if g.store != "" {
		cfg.StoreDriver = g.store
	}
	return cfg
}

// logs go to stderr so stdout stays machine-readable
func newLogger(cfg config.Config, component string) *slog.Logger {
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Service:   "exec-insight",
		Component: component,
	}, os.Stderr)
	return logger.NewSlog(&zl)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
