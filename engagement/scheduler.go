// Package engagement implements the landing-page engagement primitives:
// scroll-depth and time-on-page trackers, the exit-intent cooldown gate,
// the decaying scarcity counter and resumable form drafts.
//
// Trackers are driven by two scheduling primitives, a one-shot timer
// (debounce, settling) and a repeating tick (duration, decay), plus page
// signals delivered through Page subscriptions. Both are injectable so the
// same state machines run against the wall clock or a ManualClock.
package engagement

import (
	"sort"
	"sync"
	"time"
)

// Cancel stops a timer, a ticker or a subscription. It is safe to call
// more than once.
type Cancel func()

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Scheduler provides the two timing primitives used by trackers.
type Scheduler interface {
	Clock
	// AfterFunc runs f once after d.
	AfterFunc(d time.Duration, f func()) Cancel
	// Every runs f every d until cancelled.
	Every(d time.Duration, f func()) Cancel
}

// SystemScheduler schedules on the wall clock. Callbacks run on their own
// goroutines.
type SystemScheduler struct{}

func (SystemScheduler) Now() time.Time { return time.Now() }

func (SystemScheduler) AfterFunc(d time.Duration, f func()) Cancel {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

func (SystemScheduler) Every(d time.Duration, f func()) Cancel {
	if d <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// ManualClock is a Scheduler whose time only moves when Advance is called.
// Due callbacks run synchronously inside Advance, in time order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*manualTimer
}

type manualTimer struct {
	id    int
	at    time.Time
	every time.Duration
	fn    func()
}

// NewManualClock returns a ManualClock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, timers: make(map[int]*manualTimer)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Cancel {
	return c.add(d, 0, f)
}

func (c *ManualClock) Every(d time.Duration, f func()) Cancel {
	if d <= 0 {
		return func() {}
	}
	return c.add(d, d, f)
}

func (c *ManualClock) add(d, every time.Duration, f func()) Cancel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := c.seq
	c.timers[id] = &manualTimer{id: id, at: c.now.Add(d), every: every, fn: f}
	return func() {
		c.mu.Lock()
		delete(c.timers, id)
		c.mu.Unlock()
	}
}

// Pending returns the number of scheduled timers and tickers.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves time forward by d, firing every callback that becomes due.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDue(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		if next.every > 0 {
			next.at = next.at.Add(next.every)
		} else {
			delete(c.timers, next.id)
		}
		fn := next.fn
		c.mu.Unlock()
		fn()
	}
}

func (c *ManualClock) nextDue(target time.Time) *manualTimer {
	due := make([]*manualTimer, 0, len(c.timers))
	for _, t := range c.timers {
		if !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].id < due[j].id
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}
