// Package drivers selects and opens the cache.Store named by configuration.
package drivers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mohammed-shakir/exec-insight-cache/internal/cache"
	"github.com/mohammed-shakir/exec-insight-cache/internal/cache/keys"
	"github.com/mohammed-shakir/exec-insight-cache/internal/cache/memstore"
	"github.com/mohammed-shakir/exec-insight-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/config"
)

type Factory func(ctx context.Context, cfg config.Config) (cache.Store, error)

var reg = map[string]Factory{}

func init() {
	Register("redis", openRedis)
	Register("memory", openMemory)
}

func Register(name string, f Factory) {
	reg[name] = f
}

func Names() []string {
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Open builds the store for cfg.StoreDriver. Unknown names fall back to the
// memory driver with a warning.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (cache.Store, error) {
	if f, ok := reg[cfg.StoreDriver]; ok {
		s, err := f(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
		}
		return s, nil
	}
	if f, ok := reg["memory"]; ok {
		logger.Warn("unknown store driver; falling back to memory", "driver", cfg.StoreDriver, "known", Names())
		return f(ctx, cfg)
	}
	return nil, fmt.Errorf("no factory for store driver %q", cfg.StoreDriver)
}

func openRedis(ctx context.Context, cfg config.Config) (cache.Store, error) {
	opts := []redisstore.Option{redisstore.WithDB(cfg.Redis.DB)}
	if cfg.Redis.Password != "" {
		opts = append(opts, redisstore.WithPassword(cfg.Redis.Password))
	}
	if cfg.Redis.PoolSize > 0 {
		opts = append(opts, redisstore.WithPoolSize(cfg.Redis.PoolSize))
	}
	c, err := redisstore.New(ctx, cfg.Redis.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	return c, nil
}

func openMemory(_ context.Context, cfg config.Config) (cache.Store, error) {
	return memstore.New(cfg.MemStoreSize, memstore.WithPinnedPrefix(keys.OpsPrefix()))
}
