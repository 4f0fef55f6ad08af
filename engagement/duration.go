package engagement

import (
	"sort"
	"sync"
	"time"
)

// DurationConfig configures a DurationTracker.
type DurationConfig struct {
	Checkpoints  []int         // seconds of visible time, default 30, 60, 120, 300
	Tick         time.Duration // default 1s
	DisableFinal bool          // suppress the unload/unmount event
	Disabled     bool
}

// DurationState is a snapshot of a DurationTracker.
type DurationState struct {
	Elapsed int // whole seconds of visible time at the last tick
	Visible bool
	Fired   []int
}

// DurationTracker measures time on page. Only intervals during which the
// page is visible count, both for checkpoints and for the final event.
type DurationTracker struct {
	cfg      DurationConfig
	sched    Scheduler
	dispatch Dispatcher

	mu           sync.Mutex
	page         *Page
	mounted      bool
	checkpoints  []int
	fired        []int
	accumulated  time.Duration
	visibleSince time.Time
	visible      bool
	elapsed      time.Duration
	finalSent    bool
	cancels      []Cancel
}

func NewDurationTracker(cfg DurationConfig, sched Scheduler, d Dispatcher) *DurationTracker {
	if len(cfg.Checkpoints) == 0 {
		cfg.Checkpoints = []int{30, 60, 120, 300}
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	checkpoints := make([]int, 0, len(cfg.Checkpoints))
	seen := make(map[int]bool)
	for _, c := range cfg.Checkpoints {
		if !seen[c] {
			seen[c] = true
			checkpoints = append(checkpoints, c)
		}
	}
	sort.Ints(checkpoints)
	return &DurationTracker{cfg: cfg, sched: sched, dispatch: orNop(d), checkpoints: checkpoints}
}

// Mount starts the tick and the visibility and unload subscriptions.
func (t *DurationTracker) Mount(p *Page) {
	t.Unmount()
	if t.cfg.Disabled || p == nil {
		return
	}
	t.mu.Lock()
	t.page = p
	t.mounted = true
	t.fired = nil
	t.accumulated = 0
	t.elapsed = 0
	t.finalSent = false
	t.visible = p.Visible()
	t.visibleSince = t.sched.Now()
	t.mu.Unlock()

	stopTick := t.sched.Every(t.cfg.Tick, t.tick)
	unsubVis := p.Subscribe(SignalVisibility, t.onVisibility)
	unsubUnload := p.Subscribe(SignalUnload, func(SignalEvent) { t.flush() })

	t.mu.Lock()
	t.cancels = []Cancel{stopTick, unsubVis, unsubUnload}
	t.mu.Unlock()
}

// Unmount stops the tick, drops the subscriptions and flushes the final
// event if unload has not already done so.
func (t *DurationTracker) Unmount() {
	t.mu.Lock()
	wasMounted := t.mounted
	for _, c := range t.cancels {
		c()
	}
	t.cancels = nil
	t.mu.Unlock()

	if wasMounted {
		t.flush()
	}

	t.mu.Lock()
	if t.mounted {
		t.accumulated = t.totalVisible(t.sched.Now())
		t.visible = false
	}
	t.mounted = false
	t.mu.Unlock()
}

func (t *DurationTracker) tick() {
	t.mu.Lock()
	if !t.mounted || !t.visible {
		t.mu.Unlock()
		return
	}
	now := t.sched.Now()
	t.elapsed = t.accumulated + now.Sub(t.visibleSince)
	path := t.page.Path()

	var events []Event
	for _, cp := range t.checkpoints {
		if cp <= t.lastFired() {
			continue
		}
		if t.elapsed < time.Duration(cp)*time.Second {
			break
		}
		t.fired = append(t.fired, cp)
		events = append(events, Event{
			Name:      EventTimeOnPage,
			Path:      path,
			Timestamp: now,
			Params: map[string]any{
				"duration_ms": int64(cp) * 1000,
				"checkpoint":  cp,
				"path":        path,
				"timestamp":   now.UnixMilli(),
			},
		})
	}
	t.mu.Unlock()

	for _, e := range events {
		t.dispatch.Dispatch(e)
	}
}

// lastFired returns the largest fired checkpoint, or -1.
func (t *DurationTracker) lastFired() int {
	if len(t.fired) == 0 {
		return -1
	}
	return t.fired[len(t.fired)-1]
}

func (t *DurationTracker) onVisibility(ev SignalEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.mounted {
		return
	}
	now := t.sched.Now()
	switch {
	case !ev.Visible && t.visible:
		t.accumulated += now.Sub(t.visibleSince)
		t.visible = false
	case ev.Visible && !t.visible:
		t.visibleSince = now
		t.visible = true
	}
}

func (t *DurationTracker) flush() {
	t.mu.Lock()
	if !t.mounted || t.finalSent {
		t.mu.Unlock()
		return
	}
	t.finalSent = true
	if t.cfg.DisableFinal {
		t.mu.Unlock()
		return
	}
	now := t.sched.Now()
	total := t.totalVisible(now)
	path := t.page.Path()
	t.mu.Unlock()

	t.dispatch.Dispatch(Event{
		Name:      EventTimeOnPage,
		Path:      path,
		Timestamp: now,
		Params: map[string]any{
			"duration_ms": total.Milliseconds(),
			"final":       true,
			"path":        path,
			"timestamp":   now.UnixMilli(),
		},
	})
}

func (t *DurationTracker) totalVisible(now time.Time) time.Duration {
	total := t.accumulated
	if t.visible {
		total += now.Sub(t.visibleSince)
	}
	return total
}

// TotalVisible returns the visible time accumulated so far.
func (t *DurationTracker) TotalVisible() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.mounted {
		return t.accumulated
	}
	return t.totalVisible(t.sched.Now())
}

// State returns the elapsed seconds at the last tick and fired checkpoints.
func (t *DurationTracker) State() DurationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	fired := make([]int, len(t.fired))
	copy(fired, t.fired)
	return DurationState{
		Elapsed: int(t.elapsed / time.Second),
		Visible: t.visible,
		Fired:   fired,
	}
}
