package engagement

import (
	"sync"
	"time"
)

// Event names emitted by the trackers.
const (
	EventScrollDepth     = "scroll_depth"
	EventTimeOnPage      = "time_on_page"
	EventExitIntentShown = "exit_intent_shown"
)

// Event is a tracking event handed to a Dispatcher.
type Event struct {
	Name      string
	Path      string
	Timestamp time.Time
	Params    map[string]any
}

// Dispatcher forwards tracking events to an analytics backend.
type Dispatcher interface {
	Dispatch(Event)
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(Event)

func (f DispatchFunc) Dispatch(e Event) { f(e) }

// Recorder is a Dispatcher that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Dispatch(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(Event) {}

func orNop(d Dispatcher) Dispatcher {
	if d == nil {
		return nopDispatcher{}
	}
	return d
}
