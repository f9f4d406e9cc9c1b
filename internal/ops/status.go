package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/exec-insight-cache/internal/cache"
	"github.com/mohammed-shakir/exec-insight-cache/internal/cache/keys"
)

const (
	ActionNoRun      = "no scheduled run recorded"
	ActionRunErrors  = "scheduled run reported errors"
	ActionNoTraffic  = "no traffic today"
	ActionLowHitRate = "hit rate low, check schedule/TTL/key consistency"
	ActionHealthy    = "healthy"
	ActionStoreDown  = "cache store unavailable, counters and last run unknown"

	// LowHitRate is the threshold below which the hit rate is flagged.
	LowHitRate = 70.0

	// DefaultReadTimeout bounds all store reads of one Status call.
	DefaultReadTimeout = 2 * time.Second
)

type Today struct {
	Date    string `json:"date"`
	Hit     int64  `json:"hit"`
	Miss    int64  `json:"miss"`
	Refresh int64  `json:"refresh"`
}

func (t Today) Total() int64 { return t.Hit + t.Miss + t.Refresh }

type Snapshot struct {
	LastRun           map[string]any `json:"last_run"`
	Today             Today          `json:"today"`
	HitRate           float64        `json:"hit_rate"`
	RecommendedAction string         `json:"recommended_action"`
	StoreOK           bool           `json:"store_ok"`
}

type Reporter struct {
	store   cache.Store
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
}

type ReporterOption func(*Reporter)

func WithClock(now func() time.Time) ReporterOption {
	return func(r *Reporter) { r.now = now }
}

func WithReadTimeout(d time.Duration) ReporterOption {
	return func(r *Reporter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewReporter(store cache.Store, logger *slog.Logger, opts ...ReporterOption) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{store: store, logger: logger, now: time.Now, timeout: DefaultReadTimeout}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Status never fails: store errors collapse to zero values with
// StoreOK=false and ActionStoreDown. The first failed read ends the scan.
func (r *Reporter) Status(ctx context.Context) Snapshot {
	date := DateKey(r.now())
	snap := Snapshot{Today: Today{Date: date}, StoreOK: true}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, ok, err := r.store.Get(ctx, keys.LastRunKey())
	switch {
	case err != nil:
		r.logger.Warn("ops status: read last run", "err", err)
		return storeDown(snap)
	case ok:
		snap.LastRun = decodeLastRun(raw)
		if snap.LastRun == nil {
			r.logger.Warn("ops status: malformed last run record", "bytes", len(raw))
		}
	}

	counters := []struct {
		kind Kind
		dst  *int64
	}{
		{KindHit, &snap.Today.Hit},
		{KindMiss, &snap.Today.Miss},
		{KindRefresh, &snap.Today.Refresh},
	}
	for _, c := range counters {
		v, found, err := r.store.Get(ctx, keys.CounterKey(string(c.kind), date))
		if err != nil {
			r.logger.Warn("ops status: read counter", "kind", c.kind, "err", err)
			return storeDown(snap)
		}
		if found {
			*c.dst = coerceCount(v)
		}
	}

	snap.HitRate = HitRate(snap.Today.Hit, snap.Today.Miss, snap.Today.Refresh)
	snap.RecommendedAction = Recommend(snap.LastRun, snap.Today, snap.HitRate)
	return snap
}

// storeDown drops anything read before the failure so a partial snapshot is
// never reported.
func storeDown(snap Snapshot) Snapshot {
	return Snapshot{
		Today:             Today{Date: snap.Today.Date},
		RecommendedAction: ActionStoreDown,
		StoreOK:           false,
	}
}

// HitRate is 100*hit/(hit+miss+refresh) rounded to one decimal, or 0.
func HitRate(hit, miss, refresh int64) float64 {
	total := hit + miss + refresh
	if total <= 0 {
		return 0
	}
	return math.Round(1000*float64(hit)/float64(total)) / 10
}

// Recommend applies the first matching rule.
func Recommend(lastRun map[string]any, today Today, hitRate float64) string {
	switch {
	case lastRun == nil:
		return ActionNoRun
	case errorCount(lastRun) > 0:
		return ActionRunErrors
	case today.Total() == 0:
		return ActionNoTraffic
	case hitRate < LowHitRate:
		return ActionLowHitRate
	default:
		return ActionHealthy
	}
}

// decodeLastRun returns nil for anything that is not a JSON object carrying
// an error_count field.
func decodeLastRun(raw []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil
	}
	if _, ok := m["error_count"]; !ok {
		return nil
	}
	return m
}

func errorCount(rec map[string]any) float64 {
	switch v := rec["error_count"].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// coerceCount maps anything non-numeric to zero.
func coerceCount(b []byte) int64 {
	s := strings.TrimSpace(string(b))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && !math.IsInf(f, 0) {
		return int64(f)
	}
	return 0
}
