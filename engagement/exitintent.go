package engagement

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Variant names the trigger that opened an exit-intent popup.
type Variant string

const (
	VariantDesktop Variant = "desktop"
	VariantMobile  Variant = "mobile"
)

// ExitIntentConfig configures an ExitIntent trigger.
type ExitIntentConfig struct {
	Cooldown        time.Duration // default 24h
	ScrollFraction  float64       // mobile: share of scrollable height, default 0.7
	SettleDelay     time.Duration // mobile: default 2s
	SettleTolerance float64       // mobile: pixels, default 50
	Disabled        bool
}

// ExitIntent detects that a visitor is about to leave and, subject to a
// CooldownGate, shows the popup at most once per mount.
type ExitIntent struct {
	cfg      ExitIntentConfig
	gate     *CooldownGate
	sched    Scheduler
	dispatch Dispatcher
	onShow   func(Variant)
	logger   *zap.Logger

	mu      sync.Mutex
	page    *Page
	mounted bool
	shown   bool
	anchor  float64
	settle  Cancel
	cancels []Cancel
}

func NewExitIntent(cfg ExitIntentConfig, gate *CooldownGate, sched Scheduler, d Dispatcher, onShow func(Variant), logger *zap.Logger) *ExitIntent {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 24 * time.Hour
	}
	if cfg.ScrollFraction <= 0 || cfg.ScrollFraction > 1 {
		cfg.ScrollFraction = 0.7
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if cfg.SettleTolerance <= 0 {
		cfg.SettleTolerance = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExitIntent{cfg: cfg, gate: gate, sched: sched, dispatch: orNop(d), onShow: onShow, logger: logger}
}

// MountDesktop fires when the cursor leaves through the top edge.
func (x *ExitIntent) MountDesktop(p *Page) {
	if !x.mount(p) {
		return
	}
	unsub := p.Subscribe(SignalMouseLeave, func(ev SignalEvent) {
		if ev.ClientY <= 0 {
			x.Trigger(VariantDesktop)
		}
	})
	x.mu.Lock()
	x.cancels = append(x.cancels, unsub)
	x.mu.Unlock()
}

// MountMobile fires when the visitor has scrolled past ScrollFraction of
// the page and then stopped scrolling for SettleDelay.
func (x *ExitIntent) MountMobile(p *Page) {
	if !x.mount(p) {
		return
	}
	unsub := p.Subscribe(SignalScroll, x.onScroll)
	x.mu.Lock()
	x.cancels = append(x.cancels, unsub)
	x.mu.Unlock()
}

func (x *ExitIntent) mount(p *Page) bool {
	x.Unmount()
	if x.cfg.Disabled || p == nil {
		return false
	}
	x.mu.Lock()
	x.page = p
	x.mounted = true
	x.shown = false
	x.mu.Unlock()
	return true
}

// Unmount cancels the settling timer and all subscriptions.
func (x *ExitIntent) Unmount() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.settle != nil {
		x.settle()
		x.settle = nil
	}
	for _, c := range x.cancels {
		c()
	}
	x.cancels = nil
	x.mounted = false
}

func (x *ExitIntent) onScroll(ev SignalEvent) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.mounted || x.shown {
		return
	}
	if x.settle != nil {
		x.settle()
	}
	x.anchor = ev.Metrics.ScrollTop
	x.settle = x.sched.AfterFunc(x.cfg.SettleDelay, x.checkSettled)
}

func (x *ExitIntent) checkSettled() {
	x.mu.Lock()
	if !x.mounted {
		x.mu.Unlock()
		return
	}
	x.settle = nil
	m := x.page.Metrics()
	anchor := x.anchor
	x.mu.Unlock()

	scrollable := m.Scrollable()
	if scrollable <= 0 {
		return
	}
	passed := m.ScrollTop >= x.cfg.ScrollFraction*scrollable
	still := math.Abs(m.ScrollTop-anchor) <= x.cfg.SettleTolerance
	if passed && still {
		x.Trigger(VariantMobile)
	}
}

// Trigger shows the popup if this mount has not shown it yet and the gate
// allows it. The display is recorded before the popup is shown, so a
// popup dismissed without interaction still starts the cooldown.
func (x *ExitIntent) Trigger(v Variant) bool {
	x.mu.Lock()
	if !x.mounted || x.shown || !x.gate.ShouldDisplay(x.cfg.Cooldown) {
		x.mu.Unlock()
		return false
	}
	if err := x.gate.RecordDisplay(); err != nil {
		x.logger.Warn("exit intent: record display", zap.Error(err))
	}
	x.shown = true
	path := x.page.Path()
	x.mu.Unlock()

	if x.onShow != nil {
		x.onShow(v)
	}
	now := x.sched.Now()
	x.dispatch.Dispatch(Event{
		Name:      EventExitIntentShown,
		Path:      path,
		Timestamp: now,
		Params: map[string]any{
			"variant":   string(v),
			"path":      path,
			"timestamp": now.UnixMilli(),
		},
	})
	return true
}

// Shown reports whether the popup was shown during this mount.
func (x *ExitIntent) Shown() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.shown
}
