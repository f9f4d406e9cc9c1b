// Package kpiupdates consumes republished KPI snapshots from Kafka and
// force-refreshes the matching insight so the cache never serves a
// narrative written from superseded numbers.
package kpiupdates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/exec-insight-cache/internal/core/config"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/model"
	"github.com/mohammed-shakir/exec-insight-cache/internal/insight"
	"github.com/mohammed-shakir/exec-insight-cache/internal/logger"
)

// Update is the wire format. Version increases per (region, brand, date,
// mode, category); older or repeated versions are skipped.
type Update struct {
	Version uint64      `json:"version"`
	TS      time.Time   `json:"ts"`
	Input   model.Input `json:"input"`
}

type InsightService interface {
	GetInsight(ctx context.Context, in model.Input, opts insight.Options) (model.Response, error)
}

const (
	resultOK      = "ok"
	resultSkip    = "skip_version"
	resultInvalid = "invalid"
	resultFailed  = "failed"
)

type Runner struct {
	log      *slog.Logger
	cfg      config.KPIUpdatesCfg
	svc      InsightService
	ms       *metricSet
	ver      *versionDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
}

func New(cfg config.KPIUpdatesCfg, svc InsightService, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:    opts.Logger,
		cfg:    cfg,
		svc:    svc,
		ms:     newMetricSet(opts.Register),
		ver:    newVersionDedupe(8192),
		assign: map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.log.Info("kpi update runner disabled")
		return nil
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	// one message may wait on a full generation
	cfg.Consumer.Group.Rebalance.Timeout = 2 * time.Minute
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.BrokerList(), r.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}
	return r.run(ctx, group)
}

func (r *Runner) run(ctx context.Context, group sarama.ConsumerGroup) error {
	ctx, cancel := context.WithCancel(logger.WithComponent(ctx, "kpi_updates"))
	r.cancel = cancel

	h := &groupHandler{
		setup:   r.setAssignment,
		cleanup: func(sarama.ConsumerGroupSession) { r.clearAssignment() },
		process: r.HandleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("kpi update runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.BrokerList())
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kpi update runner stopped")
}

func (r *Runner) setAssignment(sess sarama.ConsumerGroupSession) {
	r.assignMu.Lock()
	defer r.assignMu.Unlock()
	r.assign = map[int32]struct{}{}
	for _, parts := range sess.Claims() {
		for _, p := range parts {
			r.assign[p] = struct{}{}
		}
	}
	r.assigned.Store(true)
}

func (r *Runner) clearAssignment() {
	r.assignMu.Lock()
	defer r.assignMu.Unlock()
	r.assigned.Store(false)
	r.assign = map[int32]struct{}{}
}

// Readiness reports whether the group currently holds any partitions.
func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// HandleMessage applies one update. Per-message failures are logged and
// counted but not returned, so a poison message cannot stall its partition;
// the scheduled refresh covers anything missed here.
func (r *Runner) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	result := r.apply(ctx, msg)
	r.ms.msgs.WithLabelValues(result).Inc()
	r.ms.proc.Observe(time.Since(start).Seconds())
	return nil
}

func (r *Runner) apply(ctx context.Context, msg *sarama.ConsumerMessage) string {
	if !msg.Timestamp.IsZero() {
		r.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var u Update
	if err := json.Unmarshal(msg.Value, &u); err != nil {
		r.log.WarnContext(ctx, "kpi update: decode", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return resultInvalid
	}
	err := u.Input.Validate()
	var key string
	if err == nil {
		key, err = insight.Key(u.Input)
	}
	if err != nil {
		r.log.WarnContext(ctx, "kpi update: invalid input", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return resultInvalid
	}
	if r.ver.stale(key, u.Version) {
		return resultSkip
	}

	ctx = logger.WithCacheKey(ctx, key)
	if _, err := r.svc.GetInsight(ctx, u.Input, insight.Options{ForceRefresh: true}); err != nil {
		r.log.WarnContext(ctx, "kpi update: refresh failed", "version", u.Version, "err", err)
		return resultFailed
	}
	r.ver.applied(key, u.Version)
	r.log.DebugContext(ctx, "kpi update applied", "version", u.Version)
	return resultOK
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
