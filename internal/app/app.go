// Package app wires the store, generator and insight service from config.
// Both the HTTP server and insightctl build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/exec-insight-cache/internal/cache"
	"github.com/mohammed-shakir/exec-insight-cache/internal/cache/drivers"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/config"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/model"
	"github.com/mohammed-shakir/exec-insight-cache/internal/insight"
	"github.com/mohammed-shakir/exec-insight-cache/internal/insightevents"
	"github.com/mohammed-shakir/exec-insight-cache/internal/llm/openai"
	"github.com/mohammed-shakir/exec-insight-cache/internal/ops"
)

type App struct {
	Store    cache.Store
	Recorder *ops.Recorder
	Reporter *ops.Reporter
	Insights *insight.Service

	events *insightevents.Publisher
	logger *slog.Logger
}

// New opens the store and builds the service graph. A missing generator
// credential does not fail startup: requests surface it as a configuration
// error instead.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	store, err := drivers.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, logger, store, nil), nil
}

// NewWithStore builds the graph on an existing store. A nil gen selects the
// configured OpenAI client.
func NewWithStore(cfg config.Config, logger *slog.Logger, store cache.Store, gen insight.Generator) *App {
	a := &App{Store: store, logger: logger}
	a.Recorder = ops.NewRecorder(store, cfg.CounterRetention)
	a.Reporter = ops.NewReporter(store, logger, ops.WithReadTimeout(cfg.CacheOpTimeout))

	if gen == nil {
		gen = newGenerator(cfg, logger)
	}

	opts := []insight.Option{
		insight.WithLogger(logger),
		insight.WithTTL(cfg.InsightTTL),
		insight.WithGenerationTimeout(cfg.GenerationTimeout),
		insight.WithStoreTimeout(cfg.CacheOpTimeout),
	}
	if cfg.Events.Enabled {
		p, err := insightevents.NewPublisher(cfg.Events.BrokerList(), cfg.Events.Topic, cfg.Events.QueueSize, logger)
		if err != nil {
			logger.Warn("insight events disabled", "err", err)
		} else {
			a.events = p
			opts = append(opts, insight.WithEvents(p))
		}
	}
	a.Insights = insight.New(store, a.Recorder, gen, opts...)
	return a
}

func newGenerator(cfg config.Config, logger *slog.Logger) insight.Generator {
	c, err := openai.New(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		HTTPClient:  httpclient.NewOutbound(cfg.GenerationTimeout + 5*time.Second),
	})
	if err != nil {
		logger.Warn("generator not configured; insight generation will fail", "err", err)
		return unconfigured{err: err, model: cfg.LLM.Model}
	}
	return c
}

// unconfigured fails every call with the construction error.
type unconfigured struct {
	err   error
	model string
}

func (u unconfigured) Generate(context.Context, string, string, model.Input) (string, error) {
	return "", u.err
}

func (u unconfigured) Model() string { return u.model }

func (a *App) Close() error {
	var errs []error
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
