package engagement

import (
	"math"
	"sync"
	"time"
)

// ScrollConfig configures a ScrollTracker.
type ScrollConfig struct {
	Thresholds []int         // percentages, default 25, 50, 75, 100
	Debounce   time.Duration // default 1s
	Disabled   bool
}

// ScrollState is a snapshot of a ScrollTracker.
type ScrollState struct {
	MaxDepth int
	Crossed  []int // in crossing order
}

// ScrollTracker turns scroll signals into one scroll_depth event per
// threshold per mount.
type ScrollTracker struct {
	cfg      ScrollConfig
	sched    Scheduler
	dispatch Dispatcher

	mu          sync.Mutex
	page        *Page
	mounted     bool
	maxDepth    int
	crossed     map[int]bool
	order       []int
	pending     Cancel
	unsubscribe Cancel
}

func NewScrollTracker(cfg ScrollConfig, sched Scheduler, d Dispatcher) *ScrollTracker {
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = []int{25, 50, 75, 100}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = time.Second
	}
	return &ScrollTracker{cfg: cfg, sched: sched, dispatch: orNop(d)}
}

// Mount starts listening to p. Remounting resets all state. A disabled
// tracker or a nil page is a no-op.
func (t *ScrollTracker) Mount(p *Page) {
	t.Unmount()
	if t.cfg.Disabled || p == nil {
		return
	}
	t.mu.Lock()
	t.page = p
	t.mounted = true
	t.maxDepth = 0
	t.crossed = make(map[int]bool)
	t.order = nil
	t.mu.Unlock()

	unsub := p.Subscribe(SignalScroll, t.onScroll)
	t.mu.Lock()
	t.unsubscribe = unsub
	t.mu.Unlock()
}

// Unmount cancels the pending debounce timer and drops the subscription.
func (t *ScrollTracker) Unmount() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		t.pending()
		t.pending = nil
	}
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.mounted = false
}

func (t *ScrollTracker) onScroll(SignalEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.mounted {
		return
	}
	if t.pending != nil {
		t.pending()
	}
	t.pending = t.sched.AfterFunc(t.cfg.Debounce, t.evaluate)
}

func (t *ScrollTracker) evaluate() {
	t.mu.Lock()
	if !t.mounted {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	path := t.page.Path()
	pct := ScrollPercentage(t.page.Metrics())
	if pct > t.maxDepth {
		t.maxDepth = pct
	}

	now := t.sched.Now()
	var events []Event
	for _, threshold := range t.cfg.Thresholds {
		if t.crossed[threshold] || pct < threshold {
			continue
		}
		t.crossed[threshold] = true
		t.order = append(t.order, threshold)
		events = append(events, Event{
			Name:      EventScrollDepth,
			Path:      path,
			Timestamp: now,
			Params: map[string]any{
				"threshold": threshold,
				"path":      path,
				"timestamp": now.UnixMilli(),
			},
		})
	}
	t.mu.Unlock()

	for _, e := range events {
		t.dispatch.Dispatch(e)
	}
}

// State returns the deepest percentage seen and the crossed thresholds.
func (t *ScrollTracker) State() ScrollState {
	t.mu.Lock()
	defer t.mu.Unlock()
	crossed := make([]int, len(t.order))
	copy(crossed, t.order)
	return ScrollState{MaxDepth: t.maxDepth, Crossed: crossed}
}

// ScrollPercentage converts scroll geometry to a whole percentage in
// [0, 100]. A page that fits the viewport counts as fully scrolled.
func ScrollPercentage(m ScrollMetrics) int {
	denom := m.Scrollable()
	if denom <= 0 {
		return 100
	}
	pct := int(math.Round(m.ScrollTop / denom * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
