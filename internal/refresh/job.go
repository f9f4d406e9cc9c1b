// Package refresh regenerates a configured set of insights ahead of
// dashboard traffic and records the outcome for the ops status endpoint.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/exec-insight-cache/internal/core/model"
	"github.com/mohammed-shakir/exec-insight-cache/internal/insight"
	"github.com/mohammed-shakir/exec-insight-cache/internal/logger"
)

type InsightService interface {
	GetInsight(ctx context.Context, in model.Input, opts insight.Options) (model.Response, error)
}

type RunRecorder interface {
	RecordLastRun(ctx context.Context, rec model.LastRunRecord) error
}

type Job struct {
	svc    InsightService
	rec    RunRecorder
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Job)

func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

func WithIDs(newID func() string) Option {
	return func(j *Job) { j.newID = newID }
}

func New(svc InsightService, rec RunRecorder, logger *slog.Logger, opts ...Option) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Job{svc: svc, rec: rec, logger: logger, now: time.Now, newID: uuid.NewString}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Run force-refreshes every target in order. A failing target is counted
// and the run continues; the returned error only reports a failure to
// write the last-run record.
func (j *Job) Run(ctx context.Context, targets []model.Input) (model.LastRunRecord, error) {
	rec := model.LastRunRecord{
		RunID:     j.newID(),
		StartedAt: j.now().UTC(),
		Targets:   len(targets),
	}
	ctx = logger.WithRunID(logger.WithComponent(ctx, "refresh"), rec.RunID)
	j.logger.InfoContext(ctx, "refresh run started", "targets", len(targets))

	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			for _, skipped := range targets[i:] {
				rec.Errors = append(rec.Errors, fmt.Sprintf("%s: skipped: %v", label(skipped), err))
			}
			break
		}
		if _, err := j.svc.GetInsight(ctx, t, insight.Options{ForceRefresh: true}); err != nil {
			j.logger.WarnContext(ctx, "refresh target failed", "target", label(t), "err", err)
			rec.Errors = append(rec.Errors, fmt.Sprintf("%s: %v", label(t), err))
			continue
		}
		rec.Refreshed++
	}

	rec.ErrorCount = len(rec.Errors)
	rec.FinishedAt = j.now().UTC()
	j.logger.InfoContext(ctx, "refresh run finished",
		"refreshed", rec.Refreshed, "error_count", rec.ErrorCount,
		"took", rec.FinishedAt.Sub(rec.StartedAt))

	// The record must land even when the run was canceled.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := j.rec.RecordLastRun(wctx, rec); err != nil {
		return rec, fmt.Errorf("refresh: record last run: %w", err)
	}
	return rec, nil
}

func label(in model.Input) string {
	return fmt.Sprintf("%s/%s/%s/%s", in.Region, in.Brand, in.Date, in.Mode)
}
