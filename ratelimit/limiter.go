package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Rule is a named fixed-window limit.
type Rule struct {
	Name        string
	Window      time.Duration
	MaxRequests int
}

// Predefined rules for the public form endpoints.
var (
	ContactRule     = Rule{Name: "contact", Window: time.Minute, MaxRequests: 5}
	SubscribeRule   = Rule{Name: "subscribe", Window: time.Minute, MaxRequests: 10}
	UnsubscribeRule = Rule{Name: "unsubscribe", Window: time.Minute, MaxRequests: 3}
	AnalyticsRule   = Rule{Name: "analytics", Window: time.Minute, MaxRequests: 120}
)

// Result is the outcome of a Check.
type Result struct {
	Limited   bool
	Limit     int
	Remaining int
	ResetTime time.Time
}

// Limiter applies fixed-window rules to client keys.
type Limiter struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger

	mu sync.Mutex
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New returns a Limiter over store. A nil store means a fresh MemoryStore.
func New(store Store, opts ...Option) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Limiter{store: store, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying bucket store.
func (l *Limiter) Store() Store { return l.store }

func bucketKey(key string, rule Rule) string {
	if rule.Name == "" {
		return key
	}
	return rule.Name + ":" + key
}

// Check records a request from key against rule.
//
// A missing or expired bucket starts a new window with count 1. A bucket at
// or above MaxRequests rejects without incrementing. Anything else is
// incremented and admitted.
func (l *Limiter) Check(ctx context.Context, key string, rule Rule) (Result, error) {
	now := l.now()
	bucket := bucketKey(key, rule)

	if h, ok := l.store.(Hitter); ok {
		e, limited, err := h.Hit(ctx, bucket, now, rule)
		if err != nil {
			return Result{}, err
		}
		return result(e, limited, rule), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok, err := l.store.Get(ctx, bucket)
	if err != nil {
		return Result{}, err
	}
	if !ok || now.After(e.ResetAt) {
		e = Entry{Key: bucket, Count: 1, ResetAt: now.Add(rule.Window)}
		if err := l.store.Set(ctx, e); err != nil {
			return Result{}, err
		}
		return result(e, false, rule), nil
	}
	if e.Count >= rule.MaxRequests {
		return result(e, true, rule), nil
	}
	e.Count++
	if err := l.store.Set(ctx, e); err != nil {
		return Result{}, err
	}
	return result(e, false, rule), nil
}

func result(e Entry, limited bool, rule Rule) Result {
	r := Result{Limited: limited, Limit: rule.MaxRequests, ResetTime: e.ResetAt}
	if !limited {
		r.Remaining = max(rule.MaxRequests-e.Count, 0)
	}
	return r
}

// Sweep deletes buckets whose window ended more than grace ago.
func (l *Limiter) Sweep(ctx context.Context, grace time.Duration) (int, error) {
	return l.store.Sweep(ctx, l.now().Add(-grace))
}

// StartSweeper runs Sweep every interval. Returns a stop function.
func (l *Limiter) StartSweeper(interval, grace time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				n, err := l.Sweep(context.Background(), grace)
				if err != nil {
					l.logger.Warn("ratelimit sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					l.logger.Debug("ratelimit sweep", zap.Int("removed", n))
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
