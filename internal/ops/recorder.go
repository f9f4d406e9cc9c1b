// Package ops owns the day-scoped insight cache counters, the last
// scheduled-run record, and the health snapshot derived from them.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammed-shakir/exec-insight-cache/internal/cache"
	"github.com/mohammed-shakir/exec-insight-cache/internal/cache/keys"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/model"
)

type Kind string

const (
	KindHit     Kind = "hit"
	KindMiss    Kind = "miss"
	KindRefresh Kind = "refresh"
)

// DefaultRetention keeps a week of history plus a day of slack.
const DefaultRetention = 8 * 24 * time.Hour

// DateKey is the UTC calendar date used for every counter key. Recorder and
// Reporter must both go through it.
func DateKey(t time.Time) string {
	return t.UTC().Format(model.DateLayout)
}

// Recorder is the only writer of the counters and the last-run record.
type Recorder struct {
	store     cache.Store
	retention time.Duration
}

func NewRecorder(store cache.Store, retention time.Duration) *Recorder {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Recorder{store: store, retention: retention}
}

func (r *Recorder) RecordHit(ctx context.Context, t time.Time) error {
	return r.incr(ctx, KindHit, t)
}

func (r *Recorder) RecordMiss(ctx context.Context, t time.Time) error {
	return r.incr(ctx, KindMiss, t)
}

func (r *Recorder) RecordRefresh(ctx context.Context, t time.Time) error {
	return r.incr(ctx, KindRefresh, t)
}

func (r *Recorder) Record(ctx context.Context, kind Kind, t time.Time) error {
	return r.incr(ctx, kind, t)
}

func (r *Recorder) incr(ctx context.Context, kind Kind, t time.Time) error {
	if _, err := r.store.Incr(ctx, keys.CounterKey(string(kind), DateKey(t)), r.retention); err != nil {
		return fmt.Errorf("%w: record %s: %w", model.ErrStoreUnavailable, kind, err)
	}
	return nil
}

// RecordLastRun replaces the last-run record. It has no TTL; absence means
// the job never ran.
func (r *Recorder) RecordLastRun(ctx context.Context, rec model.LastRunRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode last run: %w", err)
	}
	if err := r.store.Set(ctx, keys.LastRunKey(), b, 0); err != nil {
		return fmt.Errorf("%w: record last run: %w", model.ErrStoreUnavailable, err)
	}
	return nil
}
