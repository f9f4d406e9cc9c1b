package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T, size int) (*Store, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)}
	s, err := New(size, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, clk
}

func TestSetGet_RespectsTTL(t *testing.T) {
	s, clk := newStore(t, 16)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("Get got=%q ok=%v err=%v", got, ok, err)
	}

	clk.Advance(time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("entry should be expired at its deadline")
	}
	if s.lru.Contains("k") {
		t.Fatalf("expired entry not evicted")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s, _ := newStore(t, 16)
	ctx := context.Background()
	_ = s.Set(ctx, "k", []byte("abc"), 0)
	got, _, _ := s.Get(ctx, "k")
	got[0] = 'X'
	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored value mutated through returned slice: %q", again)
	}
}

func TestIncr_ConcurrentAndExpiring(t *testing.T) {
	s, clk := newStore(t, 16)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Incr(ctx, "ctr", time.Hour); err != nil {
				t.Errorf("Incr: %v", err)
			}
		}()
	}
	wg.Wait()

	v, ok, _ := s.Get(ctx, "ctr")
	if !ok || string(v) != "100" {
		t.Fatalf("ctr=%q ok=%v want 100", v, ok)
	}

	clk.Advance(2 * time.Hour)
	n, err := s.Incr(ctx, "ctr", time.Hour)
	if err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired counter should restart at 1, got %d", n)
	}
}

func TestIncr_NonIntegerValue(t *testing.T) {
	s, _ := newStore(t, 16)
	ctx := context.Background()
	_ = s.Set(ctx, "k", []byte("nope"), 0)
	if _, err := s.Incr(ctx, "k", 0); err == nil {
		t.Fatal("expected error incrementing non-integer value")
	}
}

func TestLRU_EvictsOldest(t *testing.T) {
	s, _ := newStore(t, 2)
	ctx := context.Background()
	_ = s.Set(ctx, "a", []byte("1"), 0)
	_ = s.Set(ctx, "b", []byte("2"), 0)
	_ = s.Set(ctx, "c", []byte("3"), 0)
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("oldest entry should have been evicted")
	}
}

func TestPinnedKeysSurviveChurn(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)}
	s, err := New(2, WithClock(clk.Now), WithPinnedPrefix("insight:ops:"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	_ = s.Set(ctx, "insight:ops:v1:last_run", []byte(`{"error_count":0}`), 0)
	if _, err := s.Incr(ctx, "insight:ops:v1:count:hit:2026-02-11", time.Hour); err != nil {
		t.Fatalf("Incr: %v", err)
	}
	for _, k := range []string{"a", "b", "c", "d"} {
		_ = s.Set(ctx, "insight:exec:"+k, []byte("x"), 0)
	}

	if _, ok, _ := s.Get(ctx, "insight:ops:v1:last_run"); !ok {
		t.Fatalf("pinned last run evicted by churn")
	}
	if v, ok, _ := s.Get(ctx, "insight:ops:v1:count:hit:2026-02-11"); !ok || string(v) != "1" {
		t.Fatalf("pinned counter=%q ok=%v", v, ok)
	}
	if _, ok, _ := s.Get(ctx, "insight:exec:a"); ok {
		t.Fatalf("unpinned entry should still be evicted")
	}

	clk.Advance(time.Hour)
	_ = s.Set(ctx, "insight:ops:v1:last_run", []byte(`{"error_count":1}`), 0)
	if _, ok := s.pinned["insight:ops:v1:count:hit:2026-02-11"]; ok {
		t.Fatalf("expired pinned counter not swept")
	}
}

func TestDel_RemovesPinnedAndUnpinned(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)}
	s, _ := New(8, WithClock(clk.Now), WithPinnedPrefix("insight:ops:"))
	ctx := context.Background()
	_ = s.Set(ctx, "insight:exec:a", []byte("x"), 0)
	_ = s.Set(ctx, "insight:ops:v1:last_run", []byte("{}"), 0)

	if err := s.Del(ctx, "insight:exec:a", "insight:ops:v1:last_run", "missing"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	for _, k := range []string{"insight:exec:a", "insight:ops:v1:last_run"} {
		if _, ok, _ := s.Get(ctx, k); ok {
			t.Fatalf("%s still present", k)
		}
	}
	_ = s.Close()
	if err := s.Del(ctx, "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Del on closed store err=%v", err)
	}
}

func TestClosedStoreErrors(t *testing.T) {
	s, _ := newStore(t, 4)
	_ = s.Close()
	ctx := context.Background()
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get err=%v want ErrClosed", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Ping err=%v want ErrClosed", err)
	}
}

func TestCanceledContext(t *testing.T) {
	s, _ := newStore(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Set(ctx, "k", []byte("v"), 0); err == nil {
		t.Fatal("expected error on Set with canceled context")
	}
}
