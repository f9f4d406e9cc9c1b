// Package insight serves executive insights from the cache and generates
// them on a miss or forced refresh.
package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/exec-insight-cache/internal/cache"
	"github.com/mohammed-shakir/exec-insight-cache/internal/cache/keys"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/model"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/observability"
	"github.com/mohammed-shakir/exec-insight-cache/internal/insight/prompt"
	"github.com/mohammed-shakir/exec-insight-cache/internal/insight/schema"
	"github.com/mohammed-shakir/exec-insight-cache/internal/insightevents"
	"github.com/mohammed-shakir/exec-insight-cache/internal/logger"
	"github.com/mohammed-shakir/exec-insight-cache/internal/ops"
)

// Generator produces the raw candidate text for one input.
type Generator interface {
	Generate(ctx context.Context, system, user string, in model.Input) (string, error)
	Model() string
}

type EventSink interface {
	Publish(ev insightevents.Event)
}

type Options struct {
	ForceRefresh bool
}

const (
	DefaultTTL               = 6 * time.Hour
	DefaultGenerationTimeout = 45 * time.Second
	DefaultStoreTimeout      = 2 * time.Second

	// maxAttempts is the first generation plus one repair.
	maxAttempts = 2

	refreshSeqSize = 4096
)

type Service struct {
	store    cache.Store
	recorder *ops.Recorder
	gen      Generator
	events   EventSink
	logger   *slog.Logger
	now      func() time.Time

	ttl          time.Duration
	genTimeout   time.Duration
	storeTimeout time.Duration

	flights singleflight.Group

	// refreshSeq counts forced refreshes per cache key. A read-through fill
	// that sees the count move while it generated does not save.
	seqMu      sync.Mutex
	refreshSeq *lru.Cache[string, uint64]
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithEvents(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithGenerationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.genTimeout = d
		}
	}
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func New(store cache.Store, recorder *ops.Recorder, gen Generator, opts ...Option) *Service {
	s := &Service{
		store:        store,
		recorder:     recorder,
		gen:          gen,
		logger:       slog.Default(),
		now:          time.Now,
		ttl:          DefaultTTL,
		genTimeout:   DefaultGenerationTimeout,
		storeTimeout: DefaultStoreTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	s.refreshSeq, _ = lru.New[string, uint64](refreshSeqSize)
	return s
}

// Key returns the cache key the service uses for in.
func Key(in model.Input) (string, error) {
	return keys.InsightKey(schema.Version, in)
}

// GetInsight returns the cached insight for in, generating it when the cache
// has none or opts.ForceRefresh is set. Concurrent callers for the same key
// share one generation.
func (s *Service) GetInsight(ctx context.Context, in model.Input, opts Options) (model.Response, error) {
	if err := in.Validate(); err != nil {
		return model.Response{}, err
	}
	key, err := Key(in)
	if err != nil {
		return model.Response{}, err
	}
	ctx = logger.WithCacheKey(ctx, key)

	if !opts.ForceRefresh {
		if resp, ok := s.lookup(ctx, key); ok {
			s.countHit(ctx)
			return resp, nil
		}
	}

	ch := s.flights.DoChan(flightKey(key, in, opts.ForceRefresh), func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		return s.fill(context.WithoutCancel(ctx), key, in, opts.ForceRefresh)
	})

	select {
	case <-ctx.Done():
		return model.Response{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			observability.IncSharedFlight()
		}
		if res.Err != nil {
			return model.Response{}, res.Err
		}
		return res.Val.(model.Response), nil
	}
}

// flightKey keeps forced refreshes out of read-through flights, so a forced
// caller is never answered by a fill started from older KPIs. Forced calls
// only coalesce with forced calls carrying the same KPI values.
func flightKey(key string, in model.Input, force bool) string {
	if !force {
		return key
	}
	b, _ := json.Marshal([2]model.RegionKPI{in.HKMC, in.TW})
	return fmt.Sprintf("%s|refresh|%016x", key, xxhash.Sum64(b))
}

func (s *Service) seq(key string) uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	v, _ := s.refreshSeq.Get(key)
	return v
}

func (s *Service) bumpSeq(key string) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	v, _ := s.refreshSeq.Get(key)
	s.refreshSeq.Add(key, v+1)
}

// fill runs once per flight. It re-reads the store first because a previous
// flight for the same key may have finished between the caller's lookup and
// this flight starting.
func (s *Service) fill(ctx context.Context, key string, in model.Input, force bool) (model.Response, error) {
	var seq uint64
	if force {
		s.bumpSeq(key)
	} else {
		if resp, ok := s.lookup(ctx, key); ok {
			s.countHit(ctx)
			return resp, nil
		}
		seq = s.seq(key)
	}

	resp, err := s.generate(ctx, in)
	if err != nil {
		observability.IncInsightResult("failed")
		return model.Response{}, err
	}

	now := s.now().UTC()
	resp.Meta = model.Meta{
		Model:       s.gen.Model(),
		Cached:      false,
		GeneratedAt: now,
		TTLSeconds:  int64(s.ttl / time.Second),
	}
	if !force && s.seq(key) != seq {
		s.logger.InfoContext(ctx, "insight: forced refresh overtook this fill, not saving")
	} else {
		s.save(ctx, key, resp, now)
	}

	outcome := ops.KindMiss
	if force {
		outcome = ops.KindRefresh
	}
	s.count(ctx, outcome, now)
	s.publish(key, in, string(outcome), now)

	return resp, nil
}

// generate makes up to maxAttempts generator calls. Configuration errors
// stop immediately.
func (s *Service) generate(ctx context.Context, in model.Input) (model.Response, error) {
	user, err := prompt.User(in)
	if err != nil {
		return model.Response{}, fmt.Errorf("insight: render prompt: %w", err)
	}
	system := prompt.System()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := s.attempt(ctx, system, user, in)
		if err == nil {
			if attempt > 1 {
				s.logger.InfoContext(ctx, "insight: repaired on retry", "attempt", attempt)
			}
			return resp, nil
		}
		if errors.Is(err, model.ErrConfiguration) {
			return model.Response{}, err
		}
		lastErr = err
		s.logger.WarnContext(ctx, "insight: generation attempt failed", "attempt", attempt, "err", err)
	}
	return model.Response{}, &model.GenerationError{Attempts: maxAttempts, Err: lastErr}
}

func (s *Service) attempt(ctx context.Context, system, user string, in model.Input) (model.Response, error) {
	actx, cancel := context.WithTimeout(ctx, s.genTimeout)
	defer cancel()

	start := time.Now()
	raw, err := s.gen.Generate(actx, system, user, in)
	if err != nil {
		observability.ObserveGeneration("error", time.Since(start).Seconds())
		return model.Response{}, err
	}

	resp, err := schema.Validate([]byte(raw))
	if err != nil {
		observability.ObserveGeneration("invalid", time.Since(start).Seconds())
		var ve *schema.ValidationError
		if errors.As(err, &ve) {
			observability.IncValidationFailure(ve.Rule)
		}
		return model.Response{}, err
	}
	observability.ObserveGeneration("ok", time.Since(start).Seconds())
	return resp, nil
}

// lookup treats store failures and undecodable entries as a miss.
func (s *Service) lookup(ctx context.Context, key string) (model.Response, bool) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	raw, ok, err := s.store.Get(sctx, key)
	if err != nil {
		observability.IncInsightResult("store_error")
		s.logger.WarnContext(ctx, "insight: store read failed, treating as miss", "err", err)
		return model.Response{}, false
	}
	if !ok {
		return model.Response{}, false
	}
	var e model.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		s.logger.WarnContext(ctx, "insight: undecodable cache entry, treating as miss", "err", err)
		return model.Response{}, false
	}
	resp := e.Payload
	resp.Meta.Cached = true
	resp.Meta.TTLSeconds = e.TTLSeconds
	return resp, true
}

// save never fails the request: callers still get the uncached payload.
func (s *Service) save(ctx context.Context, key string, resp model.Response, now time.Time) {
	b, err := json.Marshal(model.Entry{
		Payload:    resp,
		CreatedAt:  now,
		TTLSeconds: int64(s.ttl / time.Second),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "insight: encode cache entry", "err", err)
		return
	}
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.store.Set(sctx, key, b, s.ttl); err != nil {
		observability.IncInsightResult("store_error")
		s.logger.WarnContext(ctx, "insight: store write failed, serving uncached",
			"err", fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err))
	}
}

func (s *Service) countHit(ctx context.Context) {
	s.count(ctx, ops.KindHit, s.now())
}

// count failures are logged only; counters are best effort.
func (s *Service) count(ctx context.Context, kind ops.Kind, at time.Time) {
	observability.IncInsightResult(string(kind))

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.recorder.Record(sctx, kind, at); err != nil {
		s.logger.WarnContext(ctx, "insight: record counter", "kind", string(kind), "err", err)
	}
}

func (s *Service) publish(key string, in model.Input, outcome string, at time.Time) {
	if s.events == nil {
		return
	}
	s.events.Publish(insightevents.Event{
		Key:         key,
		Region:      in.Region,
		Brand:       in.Brand,
		Date:        in.Date,
		Mode:        string(in.Mode),
		Outcome:     outcome,
		Model:       s.gen.Model(),
		GeneratedAt: at,
	})
}
