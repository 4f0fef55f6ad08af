package ratelimit

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

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
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

func TestLimiterBlocksAfterMax(t *testing.T) {
	clock := newFakeClock()
	l := New(nil, WithClock(clock.Now))
	rule := Rule{Name: "test", Window: time.Minute, MaxRequests: 3}
	ctx := context.Background()

	want := []bool{false, false, false, true}
	for i, limited := range want {
		res, err := l.Check(ctx, "203.0.113.10", rule)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if res.Limited != limited {
			t.Fatalf("request %d: limited = %v, want %v", i+1, res.Limited, limited)
		}
	}

	res, _ := l.Check(ctx, "203.0.113.10", rule)
	if res.Remaining != 0 || res.Limit != 3 {
		t.Fatalf("limited result = %+v", res)
	}
	e, _, _ := l.Store().Get(ctx, "test:203.0.113.10")
	if e.Count != 3 {
		t.Fatalf("count = %d, want 3 (rejections must not increment)", e.Count)
	}
}

func TestLimiterRemainingCountsDown(t *testing.T) {
	clock := newFakeClock()
	l := New(nil, WithClock(clock.Now))
	rule := Rule{Name: "test", Window: time.Minute, MaxRequests: 3}

	for i, want := range []int{2, 1, 0} {
		res, err := l.Check(context.Background(), "k", rule)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if res.Remaining != want {
			t.Fatalf("request %d: remaining = %d, want %d", i+1, res.Remaining, want)
		}
		if !res.ResetTime.Equal(clock.Now().Add(time.Minute)) {
			t.Fatalf("reset = %v, want the end of the first window", res.ResetTime)
		}
	}
}

func TestLimiterResetsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(nil, WithClock(clock.Now))
	rule := Rule{Name: "test", Window: time.Minute, MaxRequests: 1}
	ctx := context.Background()

	if res, _ := l.Check(ctx, "k", rule); res.Limited {
		t.Fatalf("expected first attempt to be allowed")
	}
	if res, _ := l.Check(ctx, "k", rule); !res.Limited {
		t.Fatalf("expected second attempt to be blocked")
	}

	// The reset instant itself still belongs to the old window.
	clock.Advance(time.Minute)
	if res, _ := l.Check(ctx, "k", rule); !res.Limited {
		t.Fatalf("expected attempt at the reset instant to be blocked")
	}

	clock.Advance(time.Millisecond)
	res, _ := l.Check(ctx, "k", rule)
	if res.Limited {
		t.Fatalf("expected attempt after window to be allowed")
	}
	if !res.ResetTime.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("new window reset = %v, want %v", res.ResetTime, clock.Now().Add(time.Minute))
	}
	e, _, _ := l.Store().Get(ctx, "test:k")
	if e.Count != 1 {
		t.Fatalf("count in fresh window = %d, want 1", e.Count)
	}
}

func TestLimiterIsPerKeyAndRule(t *testing.T) {
	l := New(nil)
	one := Rule{Name: "one", Window: time.Minute, MaxRequests: 1}
	two := Rule{Name: "two", Window: time.Minute, MaxRequests: 1}
	ctx := context.Background()

	if res, _ := l.Check(ctx, "203.0.113.30", one); res.Limited {
		t.Fatalf("expected first ip to be allowed")
	}
	if res, _ := l.Check(ctx, "203.0.113.31", one); res.Limited {
		t.Fatalf("expected second ip to be allowed independently")
	}
	if res, _ := l.Check(ctx, "203.0.113.30", two); res.Limited {
		t.Fatalf("expected another rule to use its own bucket")
	}
	if res, _ := l.Check(ctx, "203.0.113.30", one); !res.Limited {
		t.Fatalf("expected first ip to be blocked after max")
	}
}

func TestLimiterNeverExceedsMaxConcurrently(t *testing.T) {
	l := New(nil)
	rule := Rule{Name: "burst", Window: time.Hour, MaxRequests: 10}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(context.Background(), "k", rule)
			if err == nil && !res.Limited {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 10 {
		t.Fatalf("allowed = %d, want 10", allowed)
	}
}

func TestLimiterSweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	l := New(store, WithClock(clock.Now))
	ctx := context.Background()

	l.Check(ctx, "old", Rule{Window: time.Minute, MaxRequests: 5})
	clock.Advance(5 * time.Minute)
	l.Check(ctx, "recent", Rule{Window: time.Minute, MaxRequests: 5})

	// "old" ended 4 minutes ago; nothing is past the grace yet.
	if n, _ := l.Sweep(ctx, 5*time.Minute); n != 0 {
		t.Fatalf("swept %d entries, want 0", n)
	}

	clock.Advance(2 * time.Minute)
	n, err := l.Sweep(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 || store.Len() != 1 {
		t.Fatalf("swept %d, remaining %d; want 1 and 1", n, store.Len())
	}
	if _, ok, _ := store.Get(ctx, "recent"); !ok {
		t.Fatal("expected recent bucket to survive the sweep")
	}
}

func TestStartSweeperStops(t *testing.T) {
	l := New(nil)
	stop := l.StartSweeper(time.Millisecond, time.Minute)
	time.Sleep(5 * time.Millisecond)
	stop()
	stop()
}

type atomicStore struct {
	*MemoryStore
	hits int
}

func (s *atomicStore) Hit(_ context.Context, key string, now time.Time, rule Rule) (Entry, bool, error) {
	s.hits++
	return Entry{Key: key, Count: rule.MaxRequests, ResetAt: now.Add(rule.Window)}, true, nil
}

func TestLimiterDelegatesToHitter(t *testing.T) {
	store := &atomicStore{MemoryStore: NewMemoryStore()}
	l := New(store)

	res, err := l.Check(context.Background(), "k", Rule{Name: "r", Window: time.Minute, MaxRequests: 4})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Limited || res.Remaining != 0 || res.Limit != 4 {
		t.Fatalf("result = %+v", res)
	}
	if store.hits != 1 || store.Len() != 0 {
		t.Fatalf("expected the atomic path only, hits=%d entries=%d", store.hits, store.Len())
	}
}

type brokenStore struct{ MemoryStore }

var errStoreDown = errors.New("store down")

func (*brokenStore) Get(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errStoreDown
}

func TestLimiterReturnsStoreErrors(t *testing.T) {
	l := New(&brokenStore{})
	if _, err := l.Check(context.Background(), "k", ContactRule); !errors.Is(err, errStoreDown) {
		t.Fatalf("err = %v, want errStoreDown", err)
	}
}
