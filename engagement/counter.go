package engagement

import (
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CounterConfig configures a DecayingCounter.
type CounterConfig struct {
	Key              string
	Initial          int
	Min              int
	Interval         time.Duration
	UrgencyThreshold int
}

// DefaultCounterConfig returns the scarcity counter defaults.
func DefaultCounterConfig(key string) CounterConfig {
	return CounterConfig{
		Key:              key,
		Initial:          47,
		Min:              12,
		Interval:         3 * time.Minute,
		UrgencyThreshold: 20,
	}
}

// CounterState is the persisted counter value.
type CounterState struct {
	Value        int
	LastUpdateAt time.Time
}

type counterRecord struct {
	Value        int   `json:"value"`
	LastUpdateAt int64 `json:"lastUpdateAt"`
}

// DecayingCounter is a persisted integer that drifts down towards Min on a
// timer. Catch-up for time spent unmounted is a single extra decrement.
type DecayingCounter struct {
	cfg     CounterConfig
	storage Storage
	sched   Scheduler
	logger  *zap.Logger
	intN    func(n int) int

	mu      sync.Mutex
	state   CounterState
	mounted bool
	stop    Cancel
}

// CounterOption customises a DecayingCounter.
type CounterOption func(*DecayingCounter)

// WithRand replaces the random source; intN(n) must return a value in [0, n).
func WithRand(intN func(n int) int) CounterOption {
	return func(c *DecayingCounter) { c.intN = intN }
}

// WithCounterLogger sets the logger used for storage failures.
func WithCounterLogger(l *zap.Logger) CounterOption {
	return func(c *DecayingCounter) { c.logger = l }
}

func NewDecayingCounter(cfg CounterConfig, storage Storage, sched Scheduler, opts ...CounterOption) *DecayingCounter {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Minute
	}
	if cfg.Initial < cfg.Min {
		cfg.Initial = cfg.Min
	}
	c := &DecayingCounter{
		cfg:     cfg,
		storage: storage,
		sched:   sched,
		logger:  zap.NewNop(),
		intN:    rand.IntN,
		state:   CounterState{Value: cfg.Initial},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mount loads the persisted value, applies catch-up and starts the decay
// ticker.
func (c *DecayingCounter) Mount() {
	c.Unmount()
	c.mu.Lock()
	now := c.sched.Now()
	c.state = c.load(now)
	if now.Sub(c.state.LastUpdateAt) > c.cfg.Interval {
		c.decrement(1, 3, now)
	}
	c.mounted = true
	c.mu.Unlock()

	stop := c.sched.Every(c.cfg.Interval, c.tick)
	c.mu.Lock()
	c.stop = stop
	c.mu.Unlock()
}

// Unmount stops the decay ticker.
func (c *DecayingCounter) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.mounted = false
}

func (c *DecayingCounter) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return
	}
	c.decrement(1, 2, c.sched.Now())
}

// decrement lowers the value by a random amount in [lo, hi], never below
// Min. Caller holds c.mu.
func (c *DecayingCounter) decrement(lo, hi int, now time.Time) {
	step := lo + c.intN(hi-lo+1)
	next := max(c.state.Value-step, c.cfg.Min)
	if next == c.state.Value {
		return
	}
	c.state = CounterState{Value: next, LastUpdateAt: now}
	c.persist()
}

func (c *DecayingCounter) load(now time.Time) CounterState {
	fresh := CounterState{Value: c.cfg.Initial, LastUpdateAt: now}
	if c.storage == nil {
		return fresh
	}
	raw, ok, err := c.storage.Read(c.cfg.Key)
	if err != nil {
		c.logger.Warn("counter storage read failed", zap.String("key", c.cfg.Key), zap.Error(err))
		return fresh
	}
	var rec counterRecord
	if !ok || raw == "" || json.Unmarshal([]byte(raw), &rec) != nil {
		c.state = fresh
		c.persist()
		return fresh
	}
	return CounterState{
		Value:        min(max(rec.Value, c.cfg.Min), c.cfg.Initial),
		LastUpdateAt: time.UnixMilli(rec.LastUpdateAt),
	}
}

func (c *DecayingCounter) persist() {
	if c.storage == nil {
		return
	}
	b, err := json.Marshal(counterRecord{Value: c.state.Value, LastUpdateAt: c.state.LastUpdateAt.UnixMilli()})
	if err != nil {
		return
	}
	if err := c.storage.Write(c.cfg.Key, string(b)); err != nil {
		c.logger.Warn("counter storage write failed", zap.String("key", c.cfg.Key), zap.Error(err))
	}
}

// State returns the current value and its last update time.
func (c *DecayingCounter) State() CounterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *DecayingCounter) Value() int {
	return c.State().Value
}

// Progress returns how far the value sits above Min, as a percentage of
// the Initial..Min range.
func (c *DecayingCounter) Progress() float64 {
	v := c.Value()
	span := c.cfg.Initial - c.cfg.Min
	if span <= 0 {
		return 0
	}
	return float64(v-c.cfg.Min) / float64(span) * 100
}

// Urgent reports whether the value is at or below the urgency threshold.
func (c *DecayingCounter) Urgent() bool {
	return c.Value() <= c.cfg.UrgencyThreshold
}

// Config returns the effective configuration.
func (c *DecayingCounter) Config() CounterConfig {
	return c.cfg
}
