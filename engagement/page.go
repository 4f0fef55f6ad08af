package engagement

import (
	"sort"
	"sync"
)

// Signal identifies a page event a tracker can subscribe to.
type Signal int

const (
	SignalScroll Signal = iota
	SignalVisibility
	SignalUnload
	SignalMouseLeave
)

// ScrollMetrics is the scroll geometry of a page, in pixels.
type ScrollMetrics struct {
	ScrollTop      float64
	DocumentHeight float64
	ViewportHeight float64
}

// Scrollable returns the distance the page can scroll.
func (m ScrollMetrics) Scrollable() float64 {
	return m.DocumentHeight - m.ViewportHeight
}

// SignalEvent carries the payload of a page signal.
type SignalEvent struct {
	Signal  Signal
	Metrics ScrollMetrics
	Visible bool
	ClientY float64
}

// Page is the in-process stand-in for a browser page: it holds the current
// path, scroll geometry and visibility, and fans signals out to subscribers.
type Page struct {
	mu      sync.Mutex
	path    string
	metrics ScrollMetrics
	hidden  bool
	nextID  int
	subs    map[Signal]map[int]func(SignalEvent)
}

// NewPage returns a visible page at path.
func NewPage(path string) *Page {
	return &Page{
		path: path,
		subs: make(map[Signal]map[int]func(SignalEvent)),
	}
}

func (p *Page) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path
}

func (p *Page) Metrics() ScrollMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

func (p *Page) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.hidden
}

// Subscribe registers fn for sig. Handlers run in subscription order.
func (p *Page) Subscribe(sig Signal, fn func(SignalEvent)) Cancel {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	if p.subs[sig] == nil {
		p.subs[sig] = make(map[int]func(SignalEvent))
	}
	p.subs[sig][id] = fn
	return func() {
		p.mu.Lock()
		delete(p.subs[sig], id)
		p.mu.Unlock()
	}
}

// Subscribers returns the number of live subscriptions for sig.
func (p *Page) Subscribers(sig Signal) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[sig])
}

// ScrollTo updates the scroll geometry and emits SignalScroll.
func (p *Page) ScrollTo(m ScrollMetrics) {
	p.mu.Lock()
	p.metrics = m
	p.mu.Unlock()
	p.publish(SignalEvent{Signal: SignalScroll, Metrics: m})
}

// SetVisible emits SignalVisibility when visibility actually changes.
func (p *Page) SetVisible(visible bool) {
	p.mu.Lock()
	changed := p.hidden == visible
	p.hidden = !visible
	p.mu.Unlock()
	if changed {
		p.publish(SignalEvent{Signal: SignalVisibility, Visible: visible})
	}
}

// Unload emits SignalUnload.
func (p *Page) Unload() {
	p.publish(SignalEvent{Signal: SignalUnload, Visible: p.Visible()})
}

// MouseLeave emits SignalMouseLeave with the cursor's vertical position.
func (p *Page) MouseLeave(clientY float64) {
	p.publish(SignalEvent{Signal: SignalMouseLeave, ClientY: clientY})
}

func (p *Page) publish(ev SignalEvent) {
	p.mu.Lock()
	ids := make([]int, 0, len(p.subs[ev.Signal]))
	for id := range p.subs[ev.Signal] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(SignalEvent), len(ids))
	for i, id := range ids {
		handlers[i] = p.subs[ev.Signal][id]
	}
	p.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
