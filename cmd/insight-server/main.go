package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/exec-insight-cache/internal/app"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/config"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/server"
	"github.com/mohammed-shakir/exec-insight-cache/internal/kpiupdates"
	"github.com/mohammed-shakir/exec-insight-cache/internal/logger"
	"github.com/mohammed-shakir/exec-insight-cache/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// overriding store driver via flag
	driverFlag := flag.String("store", "", "store driver (redis, memory)")
	flag.Parse()

	cfg := config.FromEnv()
	if *driverFlag != "" {
		cfg.StoreDriver = *driverFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "exec-insight",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	prov := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	appLog.Info("starting insight server",
		"addr", cfg.Addr,
		"version", Version,
		"store", cfg.StoreDriver,
		"model", cfg.LLM.Model)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("failed to initialize", "err", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			appLog.Warn("shutdown", "err", err)
		}
	}()

	go func() {
		if err := prov.Serve(ctx, appLog); err != nil {
			appLog.Error("metrics server exited", "err", err)
		}
	}()

	deps := server.Deps{
		Insights: a.Insights,
		Status:   a.Reporter,
		Store:    a.Store,
		Metrics:  prov.Handler(),
	}

	if cfg.KPIUpdates.Enabled {
		runner := kpiupdates.New(cfg.KPIUpdates, a.Insights, kpiupdates.Options{
			Logger:   appLog,
			Register: prov.Registerer(),
		})
		if err := runner.Start(ctx); err != nil {
			appLog.Error("kpi update runner failed to start", "err", err)
			return 1
		}
		defer runner.Stop()
		deps.Consumer = runner
	}
	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
