package insight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/exec-insight-cache/internal/cache"
	"github.com/mohammed-shakir/exec-insight-cache/internal/cache/memstore"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/model"
	"github.com/mohammed-shakir/exec-insight-cache/internal/insight/schema"
	"github.com/mohammed-shakir/exec-insight-cache/internal/insightevents"
	"github.com/mohammed-shakir/exec-insight-cache/internal/ops"
)

const validOutput = `{
  "title": "Executive Insight",
  "asOfLabel": "2026-02-11 · M · MTD",
  "summaryLine": "HKMC MTD YoY 96% trails TW at 104%.",
  "compareLine": "TW outpaces HKMC on MTD YoY (104% vs 96%).",
  "blocks": [
    {"id": "sales", "tone": "warning", "text": "HKMC MTD YoY 96%, TW 104%."},
    {"id": "season", "tone": "neutral", "text": "Season sell-through 41.5% in HKMC."},
    {"id": "old", "tone": "critical", "text": "Old-stock ratio 32.0% with 180 inventory days."}
  ],
  "actions": [
    {"priority": "P1", "text": "Treat the seasonal slowdown as a carryover risk and cut replenishment."}
  ]
}`

var today = time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func hkmcInput() model.Input {
	return model.Input{
		Region: "HKMC",
		Brand:  "M",
		Date:   "2026-02-11",
		Mode:   model.ModeMTD,
		HKMC:   model.RegionKPI{MTDYoY: f(0.96), SeasonSellThrough: f(0.415), OldStockRatio: f(0.32), InventoryDays: f(180)},
		TW:     model.RegionKPI{MTDYoY: f(1.04)},
	}
}

type fakeGen struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int) (string, error)
}

func (g *fakeGen) Generate(ctx context.Context, _, _ string, _ model.Input) (string, error) {
	n := int(g.calls.Add(1))
	return g.fn(ctx, n)
}

func (g *fakeGen) Model() string { return "fake-model" }

func constant(out string) *fakeGen {
	return &fakeGen{fn: func(context.Context, int) (string, error) { return out, nil }}
}

type faultyStore struct {
	cache.Store
	getErr error
	setErr error
}

func (s *faultyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	return s.Store.Get(ctx, key)
}

func (s *faultyStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.Store.Set(ctx, key, val, ttl)
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []insightevents.Event
}

func (r *sinkRecorder) Publish(ev insightevents.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func newMem(t *testing.T) *memstore.Store {
	t.Helper()
	s, err := memstore.New(256, memstore.WithClock(func() time.Time { return today }))
	if err != nil {
		t.Fatalf("memstore: %v", err)
	}
	return s
}

func newService(store cache.Store, gen Generator, opts ...Option) *Service {
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return today }),
	}
	return New(store, ops.NewRecorder(store, 0), gen, append(base, opts...)...)
}

func counts(t *testing.T, store cache.Store) ops.Today {
	t.Helper()
	rep := ops.NewReporter(store, slog.New(slog.NewTextHandler(io.Discard, nil)),
		ops.WithClock(func() time.Time { return today }))
	return rep.Status(context.Background()).Today
}

func TestGetInsight_ColdThenWarm(t *testing.T) {
	store := newMem(t)
	gen := constant(validOutput)
	svc := newService(store, gen)
	ctx := context.Background()

	first, err := svc.GetInsight(ctx, hkmcInput(), Options{})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Meta.Cached {
		t.Fatalf("first call should not be cached")
	}
	if first.Meta.Model != "fake-model" || first.Meta.TTLSeconds != int64(DefaultTTL/time.Second) {
		t.Fatalf("meta=%+v", first.Meta)
	}
	if !first.Meta.GeneratedAt.Equal(today) {
		t.Fatalf("generatedAt=%v", first.Meta.GeneratedAt)
	}

	second, err := svc.GetInsight(ctx, hkmcInput(), Options{})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Meta.Cached {
		t.Fatalf("second call should be cached")
	}
	if second.SummaryLine != first.SummaryLine || !second.Meta.GeneratedAt.Equal(first.Meta.GeneratedAt) {
		t.Fatalf("cached payload differs: %+v vs %+v", second, first)
	}
	if n := gen.calls.Load(); n != 1 {
		t.Fatalf("generator calls=%d want 1", n)
	}

	c := counts(t, store)
	if c.Hit != 1 || c.Miss != 1 || c.Refresh != 0 {
		t.Fatalf("counters=%+v", c)
	}
}

func TestGetInsight_ConcurrentMissesShareOneGeneration(t *testing.T) {
	store := newMem(t)
	release := make(chan struct{})
	gen := &fakeGen{fn: func(ctx context.Context, _ int) (string, error) {
		<-release
		return validOutput, nil
	}}
	svc := newService(store, gen)

	const callers = 25
	var wg sync.WaitGroup
	results := make([]model.Response, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.GetInsight(context.Background(), hkmcInput(), Options{})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := gen.calls.Load(); n != 1 {
		t.Fatalf("generator calls=%d want 1", n)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].SummaryLine != results[0].SummaryLine ||
			!results[i].Meta.GeneratedAt.Equal(results[0].Meta.GeneratedAt) {
			t.Fatalf("caller %d got a different payload", i)
		}
	}
	if c := counts(t, store); c.Miss != 1 {
		t.Fatalf("miss=%d want 1, counters=%+v", c.Miss, c)
	}
}

func TestGetInsight_MalformedTwiceSurfacesFailureAndCachesNothing(t *testing.T) {
	store := newMem(t)
	gen := constant("Sure! Here is your insight.")
	svc := newService(store, gen)

	_, err := svc.GetInsight(context.Background(), hkmcInput(), Options{})
	var ge *model.GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("err=%v want *GenerationError", err)
	}
	if ge.Attempts != 2 {
		t.Fatalf("attempts=%d want 2", ge.Attempts)
	}
	var ve *schema.ValidationError
	if !errors.As(err, &ve) || ve.Rule != schema.RuleParse {
		t.Fatalf("err=%v want wrapped parse ValidationError", err)
	}
	if n := gen.calls.Load(); n != 2 {
		t.Fatalf("generator calls=%d want 2", n)
	}

	key, _ := Key(hkmcInput())
	if _, ok, _ := store.Get(context.Background(), key); ok {
		t.Fatalf("failed result must not be cached")
	}
	if c := counts(t, store); c.Total() != 0 {
		t.Fatalf("no counter should move on failure: %+v", c)
	}

	// Next request tries again rather than serving a stored failure.
	_, _ = svc.GetInsight(context.Background(), hkmcInput(), Options{})
	if n := gen.calls.Load(); n != 4 {
		t.Fatalf("generator calls=%d want 4", n)
	}
}

func TestGetInsight_RepairSucceedsOnSecondAttempt(t *testing.T) {
	store := newMem(t)
	gen := &fakeGen{fn: func(_ context.Context, call int) (string, error) {
		if call == 1 {
			return `{"title":"Executive Insight"}`, nil
		}
		return validOutput, nil
	}}
	svc := newService(store, gen)

	resp, err := svc.GetInsight(context.Background(), hkmcInput(), Options{})
	if err != nil {
		t.Fatalf("GetInsight: %v", err)
	}
	if resp.Meta.Cached || len(resp.Blocks) != 3 {
		t.Fatalf("resp=%+v", resp)
	}
	if n := gen.calls.Load(); n != 2 {
		t.Fatalf("generator calls=%d want 2", n)
	}
}

func TestGetInsight_ConfigurationErrorIsNotRetried(t *testing.T) {
	gen := &fakeGen{fn: func(context.Context, int) (string, error) {
		return "", fmt.Errorf("%w: api key rejected", model.ErrConfiguration)
	}}
	svc := newService(newMem(t), gen)

	_, err := svc.GetInsight(context.Background(), hkmcInput(), Options{})
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("err=%v want ErrConfiguration", err)
	}
	var ge *model.GenerationError
	if errors.As(err, &ge) {
		t.Fatalf("configuration errors must not be reported as generation failures")
	}
	if n := gen.calls.Load(); n != 1 {
		t.Fatalf("generator calls=%d want 1", n)
	}
}

func TestGetInsight_GenerationTimeoutCountsAsFailure(t *testing.T) {
	gen := &fakeGen{fn: func(ctx context.Context, _ int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	svc := newService(newMem(t), gen, WithGenerationTimeout(10*time.Millisecond))

	_, err := svc.GetInsight(context.Background(), hkmcInput(), Options{})
	var ge *model.GenerationError
	if !errors.As(err, &ge) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want GenerationError wrapping deadline", err)
	}
	if n := gen.calls.Load(); n != 2 {
		t.Fatalf("generator calls=%d want 2", n)
	}
}

func TestGetInsight_StoreReadFailureFallsThroughToGeneration(t *testing.T) {
	store := &faultyStore{Store: newMem(t), getErr: errors.New("connection refused")}
	gen := constant(validOutput)
	svc := newService(store, gen)

	for range 2 {
		resp, err := svc.GetInsight(context.Background(), hkmcInput(), Options{})
		if err != nil {
			t.Fatalf("GetInsight: %v", err)
		}
		if resp.Meta.Cached {
			t.Fatalf("unreadable store cannot produce a hit")
		}
	}
	if n := gen.calls.Load(); n != 2 {
		t.Fatalf("generator calls=%d want 2", n)
	}
}

func TestGetInsight_StoreWriteFailureStillReturnsPayload(t *testing.T) {
	store := &faultyStore{Store: newMem(t), setErr: errors.New("OOM command not allowed")}
	svc := newService(store, constant(validOutput))

	resp, err := svc.GetInsight(context.Background(), hkmcInput(), Options{})
	if err != nil {
		t.Fatalf("GetInsight: %v", err)
	}
	if resp.Meta.Cached || resp.Title != schema.Title {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestGetInsight_ForceRefreshRegeneratesAndCountsRefresh(t *testing.T) {
	store := newMem(t)
	gen := constant(validOutput)
	sink := &sinkRecorder{}
	svc := newService(store, gen, WithEvents(sink))
	ctx := context.Background()

	if _, err := svc.GetInsight(ctx, hkmcInput(), Options{}); err != nil {
		t.Fatalf("warm: %v", err)
	}
	resp, err := svc.GetInsight(ctx, hkmcInput(), Options{ForceRefresh: true})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if resp.Meta.Cached {
		t.Fatalf("refresh must not be served from cache")
	}
	if n := gen.calls.Load(); n != 2 {
		t.Fatalf("generator calls=%d want 2", n)
	}
	c := counts(t, store)
	if c.Miss != 1 || c.Refresh != 1 || c.Hit != 0 {
		t.Fatalf("counters=%+v", c)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 || sink.events[1].Outcome != insightevents.OutcomeRefresh {
		t.Fatalf("events=%+v", sink.events)
	}
	if sink.events[0].Region != "HKMC" || sink.events[0].Model != "fake-model" {
		t.Fatalf("event=%+v", sink.events[0])
	}
}

// inputGen records the HKMC MTD YoY of every call; calls for blockYoY wait on
// release.
type inputGen struct {
	mu       sync.Mutex
	seen     []float64
	blockYoY float64
	started  chan struct{}
	release  chan struct{}
}

func (g *inputGen) Generate(_ context.Context, _, _ string, in model.Input) (string, error) {
	yoy := *in.HKMC.MTDYoY
	g.mu.Lock()
	g.seen = append(g.seen, yoy)
	g.mu.Unlock()
	if yoy == g.blockYoY {
		close(g.started)
		<-g.release
		return validOutput, nil
	}
	return strings.Replace(validOutput, "HKMC MTD YoY 96% trails", "HKMC MTD YoY 50% trails", 1), nil
}

func (g *inputGen) Model() string { return "fake-model" }

func TestGetInsight_ForceRefreshDuringFillRegenerates(t *testing.T) {
	store := newMem(t)
	gen := &inputGen{blockYoY: 0.96, started: make(chan struct{}), release: make(chan struct{})}
	svc := newService(store, gen)
	ctx := context.Background()

	fillErr := make(chan error, 1)
	go func() {
		_, err := svc.GetInsight(ctx, hkmcInput(), Options{})
		fillErr <- err
	}()
	<-gen.started

	fresh := hkmcInput()
	fresh.HKMC.MTDYoY = f(0.50)
	resp, err := svc.GetInsight(ctx, fresh, Options{ForceRefresh: true})
	if err != nil {
		t.Fatalf("forced: %v", err)
	}
	if resp.Meta.Cached || !strings.Contains(resp.SummaryLine, "50%") {
		t.Fatalf("forced caller got a stale answer: cached=%v summary=%q", resp.Meta.Cached, resp.SummaryLine)
	}

	close(gen.release)
	if err := <-fillErr; err != nil {
		t.Fatalf("fill: %v", err)
	}

	gen.mu.Lock()
	seen := append([]float64(nil), gen.seen...)
	gen.mu.Unlock()
	if len(seen) != 2 || seen[0] != 0.96 || seen[1] != 0.50 {
		t.Fatalf("generator inputs=%v want [0.96 0.5]", seen)
	}
	if c := counts(t, store); c.Miss != 1 || c.Refresh != 1 {
		t.Fatalf("counters=%+v want miss=1 refresh=1", c)
	}

	cached, err := svc.GetInsight(ctx, hkmcInput(), Options{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !cached.Meta.Cached || !strings.Contains(cached.SummaryLine, "50%") {
		t.Fatalf("overtaken fill overwrote the refresh: cached=%v summary=%q", cached.Meta.Cached, cached.SummaryLine)
	}
}

func TestGetInsight_ForcedCallsWithSameKPIsShareOneGeneration(t *testing.T) {
	store := newMem(t)
	release := make(chan struct{})
	gen := &fakeGen{fn: func(context.Context, int) (string, error) {
		<-release
		return validOutput, nil
	}}
	svc := newService(store, gen)

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GetInsight(context.Background(), hkmcInput(), Options{ForceRefresh: true})
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("forced: %v", err)
		}
	}
	if got := gen.calls.Load(); got != 1 {
		t.Fatalf("generator calls=%d want 1", got)
	}
}

func TestGetInsight_CallerCancellationDoesNotFailOthers(t *testing.T) {
	store := newMem(t)
	started := make(chan struct{})
	release := make(chan struct{})
	gen := &fakeGen{fn: func(ctx context.Context, _ int) (string, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return validOutput, nil
	}}
	svc := newService(store, gen)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := svc.GetInsight(leaderCtx, hkmcInput(), Options{})
		leaderErr <- err
	}()
	<-started

	otherErr := make(chan error, 1)
	go func() {
		_, err := svc.GetInsight(context.Background(), hkmcInput(), Options{})
		otherErr <- err
	}()

	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("leader err=%v want canceled", err)
	}
	close(release)
	if err := <-otherErr; err != nil {
		t.Fatalf("other caller: %v", err)
	}
	if n := gen.calls.Load(); n != 1 {
		t.Fatalf("generator calls=%d want 1", n)
	}
}

func TestGetInsight_RejectsInvalidInput(t *testing.T) {
	gen := constant(validOutput)
	svc := newService(newMem(t), gen)

	in := hkmcInput()
	in.Mode = "QTD"
	if _, err := svc.GetInsight(context.Background(), in, Options{}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("err=%v want ErrInvalidInput", err)
	}
	if gen.calls.Load() != 0 {
		t.Fatalf("generator must not be called for invalid input")
	}
}

func TestKey_DependsOnSchemaVersion(t *testing.T) {
	k, err := Key(hkmcInput())
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	want := "insight:exec:" + schema.Version + ":HKMC:M:2026-02-11:"
	if len(k) < len(want) || k[:len(want)] != want {
		t.Fatalf("key=%s want prefix %s", k, want)
	}
}
