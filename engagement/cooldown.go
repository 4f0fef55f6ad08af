package engagement

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CooldownRecord is the persisted display history of a gated widget.
type CooldownRecord struct {
	Shown       bool
	LastShownAt time.Time
}

// CooldownGate allows a widget to be shown at most once per cooldown
// window. The record is persisted under two keys, <key>_shown and
// <key>_timestamp. When storage fails the gate keeps working from an
// in-memory copy of the record.
type CooldownGate struct {
	storage Storage
	key     string
	clock   Clock
	logger  *zap.Logger

	mu       sync.Mutex
	fallback CooldownRecord
	degraded bool
}

func NewCooldownGate(storage Storage, key string, clock Clock, logger *zap.Logger) *CooldownGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CooldownGate{storage: storage, key: key, clock: clock, logger: logger}
}

func (g *CooldownGate) shownKey() string     { return g.key + "_shown" }
func (g *CooldownGate) timestampKey() string { return g.key + "_timestamp" }

// Record returns the current display record.
func (g *CooldownGate) Record() CooldownRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.load()
}

func (g *CooldownGate) load() CooldownRecord {
	if g.degraded || g.storage == nil {
		return g.fallback
	}
	shown, ok, err := g.storage.Read(g.shownKey())
	if err != nil {
		g.degrade("read", err)
		return g.fallback
	}
	if !ok || shown != "true" {
		return CooldownRecord{}
	}
	rec := CooldownRecord{Shown: true}
	raw, ok, err := g.storage.Read(g.timestampKey())
	if err != nil {
		g.degrade("read", err)
		return g.fallback
	}
	if ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			rec.LastShownAt = time.UnixMilli(ms)
		}
	}
	return rec
}

// ShouldDisplay reports whether the widget may be shown now: never shown,
// or shown more than cooldown ago.
func (g *CooldownGate) ShouldDisplay(cooldown time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.load()
	if !rec.Shown {
		return true
	}
	return g.clock.Now().Sub(rec.LastShownAt) > cooldown
}

// RecordDisplay persists that the widget was shown now.
func (g *CooldownGate) RecordDisplay() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	g.fallback = CooldownRecord{Shown: true, LastShownAt: now}
	if g.degraded || g.storage == nil {
		return nil
	}
	if err := g.storage.Write(g.shownKey(), "true"); err != nil {
		g.degrade("write", err)
		return fmt.Errorf("record display: %w", err)
	}
	if err := g.storage.Write(g.timestampKey(), strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		g.degrade("write", err)
		return fmt.Errorf("record display: %w", err)
	}
	return nil
}

func (g *CooldownGate) degrade(op string, err error) {
	g.logger.Warn("cooldown storage unavailable, using memory",
		zap.String("key", g.key), zap.String("op", op), zap.Error(err))
	g.degraded = true
}
