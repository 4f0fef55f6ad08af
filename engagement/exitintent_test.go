package engagement

import (
	"testing"
	"time"
)

func newExitIntent(clock *ManualClock, storage Storage, rec *Recorder, shows *[]Variant) *ExitIntent {
	gate := NewCooldownGate(storage, "exit_intent", clock, nil)
	return NewExitIntent(ExitIntentConfig{}, gate, clock, rec, func(v Variant) {
		*shows = append(*shows, v)
	}, nil)
}

func TestExitIntentDesktopTopEdge(t *testing.T) {
	clock := NewManualClock(epoch)
	rec := &Recorder{}
	var shows []Variant
	page := NewPage("/pricing")
	x := newExitIntent(clock, NewMemoryStorage(), rec, &shows)
	x.MountDesktop(page)
	defer x.Unmount()

	page.MouseLeave(120)
	if len(shows) != 0 {
		t.Fatal("expected leaving through the side not to trigger")
	}
	page.MouseLeave(0)
	page.MouseLeave(-5)
	if len(shows) != 1 || shows[0] != VariantDesktop {
		t.Fatalf("shows = %v, want one desktop show", shows)
	}

	events := rec.Events()
	if len(events) != 1 || events[0].Name != EventExitIntentShown {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Params["variant"] != "desktop" || events[0].Params["path"] != "/pricing" {
		t.Fatalf("unexpected params %+v", events[0].Params)
	}
}

func TestExitIntentMobileSettle(t *testing.T) {
	clock := NewManualClock(epoch)
	rec := &Recorder{}
	var shows []Variant
	page := NewPage("/")
	x := newExitIntent(clock, NewMemoryStorage(), rec, &shows)
	x.MountMobile(page)
	defer x.Unmount()

	// 50% of the scrollable height is not enough.
	scrollTo(page, 50)
	clock.Advance(3 * time.Second)
	if len(shows) != 0 {
		t.Fatal("expected no trigger before the scroll fraction")
	}

	// Still moving: each scroll restarts the settle timer.
	scrollTo(page, 75)
	clock.Advance(time.Second)
	scrollTo(page, 80)
	clock.Advance(time.Second)
	if len(shows) != 0 {
		t.Fatal("expected no trigger while scrolling")
	}

	clock.Advance(time.Second)
	if len(shows) != 1 || shows[0] != VariantMobile {
		t.Fatalf("shows = %v, want one mobile show", shows)
	}
}

func TestExitIntentMobileIgnoresUnscrollablePage(t *testing.T) {
	clock := NewManualClock(epoch)
	var shows []Variant
	page := NewPage("/")
	x := newExitIntent(clock, NewMemoryStorage(), &Recorder{}, &shows)
	x.MountMobile(page)
	defer x.Unmount()

	page.ScrollTo(ScrollMetrics{ScrollTop: 0, DocumentHeight: 500, ViewportHeight: 800})
	clock.Advance(5 * time.Second)
	if len(shows) != 0 {
		t.Fatal("expected a page that fits the viewport never to trigger")
	}
}

func TestExitIntentRespectsCooldownAcrossMounts(t *testing.T) {
	clock := NewManualClock(epoch)
	storage := NewMemoryStorage()
	rec := &Recorder{}
	var shows []Variant
	page := NewPage("/")

	x := newExitIntent(clock, storage, rec, &shows)
	x.MountDesktop(page)
	if !x.Trigger(VariantDesktop) {
		t.Fatal("expected first trigger to show")
	}
	if x.Trigger(VariantDesktop) {
		t.Fatal("expected at most one show per mount")
	}
	x.Unmount()

	clock.Advance(time.Hour)
	x = newExitIntent(clock, storage, rec, &shows)
	x.MountDesktop(page)
	if x.Trigger(VariantDesktop) {
		t.Fatal("expected cooldown to suppress a later visit")
	}
	x.Unmount()

	clock.Advance(24 * time.Hour)
	x = newExitIntent(clock, storage, rec, &shows)
	x.MountDesktop(page)
	defer x.Unmount()
	if !x.Trigger(VariantDesktop) {
		t.Fatal("expected show after the cooldown expired")
	}
	if len(shows) != 2 {
		t.Fatalf("shows = %v, want 2", shows)
	}
}

func TestExitIntentUnmountRemovesListeners(t *testing.T) {
	clock := NewManualClock(epoch)
	var shows []Variant
	page := NewPage("/")
	x := newExitIntent(clock, NewMemoryStorage(), &Recorder{}, &shows)
	x.MountMobile(page)
	scrollTo(page, 90)
	x.Unmount()

	clock.Advance(5 * time.Second)
	if len(shows) != 0 || clock.Pending() != 0 || page.Subscribers(SignalScroll) != 0 {
		t.Fatalf("expected clean unmount: shows=%v pending=%d", shows, clock.Pending())
	}
}
