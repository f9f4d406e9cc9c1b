// Package memstore is an in-process cache.Store backed by a bounded LRU.
// It suits single-instance deployments and tests; counters are only atomic
// within one process. Keys under a pinned prefix (WithPinnedPrefix) live
// outside the LRU and are never evicted by entry churn, only by expiry.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/exec-insight-cache/internal/core/observability"
)

const driverName = "memory"

var ErrClosed = errors.New("memstore: closed")

type item struct {
	val      []byte
	deadline time.Time // zero means no expiry
}

type Store struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, item]
	pinned map[string]item
	pins   []string
	now    func() time.Time
	closed bool
}

type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPinnedPrefix keeps keys starting with any of prefixes out of the LRU.
func WithPinnedPrefix(prefixes ...string) Option {
	return func(s *Store) { s.pins = append(s.pins, prefixes...) }
}

func New(size int, opts ...Option) (*Store, error) {
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, fmt.Errorf("memstore: lru: %w", err)
	}
	s := &Store{lru: c, pinned: map[string]item{}, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	val, ok, err := s.get(ctx, key)
	observability.ObserveStoreOp(driverName, "get", err, time.Since(start).Seconds())
	return val, ok, err
}

func (s *Store) get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("memstore get %q: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	it, ok := s.lookupLocked(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(it.val))
	copy(out, it.val)
	return out, true, nil
}

func (s *Store) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := s.set(ctx, key, val, ttl)
	observability.ObserveStoreOp(driverName, "set", err, time.Since(start).Seconds())
	return err
}

func (s *Store) set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memstore set %q: %w", key, err)
	}
	cp := make([]byte, len(val))
	copy(cp, val)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.putLocked(key, item{val: cp, deadline: s.deadline(ttl)})
	return nil
}

func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	start := time.Now()
	n, err := s.incr(ctx, key, ttl)
	observability.ObserveStoreOp(driverName, "incr", err, time.Since(start).Seconds())
	return n, err
}

func (s *Store) incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("memstore incr %q: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	var n int64
	it, ok := s.lookupLocked(key)
	if ok {
		cur, err := strconv.ParseInt(string(it.val), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("memstore incr %q: value is not an integer", key)
		}
		n = cur
	}
	n++

	dl := it.deadline
	if ttl > 0 || !ok {
		dl = s.deadline(ttl)
	}
	s.putLocked(key, item{val: []byte(strconv.FormatInt(n, 10)), deadline: dl})
	return n, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memstore del: %w", err)
	}
	start := time.Now()
	s.mu.Lock()
	var err error
	if s.closed {
		err = ErrClosed
	} else {
		for _, k := range keys {
			if s.isPinned(k) {
				delete(s.pinned, k)
			} else {
				s.lru.Remove(k)
			}
		}
	}
	s.mu.Unlock()
	observability.ObserveStoreOp(driverName, "del", err, time.Since(start).Seconds())
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memstore ping: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.lru.Purge()
	clear(s.pinned)
	return nil
}

func (s *Store) isPinned(key string) bool {
	for _, p := range s.pins {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// caller holds mu
func (s *Store) putLocked(key string, it item) {
	if !s.isPinned(key) {
		s.lru.Add(key, it)
		return
	}
	// pinned keys are few (day counters, last run); sweep expired ones on write
	now := s.now()
	for k, v := range s.pinned {
		if expired(v, now) {
			delete(s.pinned, k)
		}
	}
	s.pinned[key] = it
}

// drops the entry when it has expired; caller holds mu
func (s *Store) lookupLocked(key string) (item, bool) {
	if s.isPinned(key) {
		it, ok := s.pinned[key]
		if !ok {
			return item{}, false
		}
		if expired(it, s.now()) {
			delete(s.pinned, key)
			return item{}, false
		}
		return it, true
	}
	it, ok := s.lru.Get(key)
	if !ok {
		return item{}, false
	}
	if expired(it, s.now()) {
		s.lru.Remove(key)
		return item{}, false
	}
	return it, true
}

func expired(it item, now time.Time) bool {
	return !it.deadline.IsZero() && !now.Before(it.deadline)
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}
