package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/eringen/leadkit/database"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "analytics.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func TestNewStoreIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if _, err := NewStore(s.db); err != nil {
		t.Fatalf("second NewStore failed: %v", err)
	}
	v, err := s.GetSetting("schema_version")
	if err != nil || v != "1" {
		t.Fatalf("schema_version = %q, %v", v, err)
	}
}

func TestSettings(t *testing.T) {
	s := setupTestStore(t)
	if v, err := s.GetSetting("missing"); err != nil || v != "" {
		t.Fatalf("GetSetting(missing) = %q, %v", v, err)
	}
	if err := s.SetSetting("k", "a"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting("k", "b"); err != nil {
		t.Fatalf("SetSetting upsert: %v", err)
	}
	if v, _ := s.GetSetting("k"); v != "b" {
		t.Fatalf("GetSetting(k) = %q, want b", v)
	}
}

func TestSaveAndListEvents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	events := []Event{
		{ID: "01A", EventType: EventPageView, Path: "/", Client: Client{VisitorID: "v", IPHash: "h"}, CreatedAt: now},
		{ID: "01B", EventType: EventScrollDepth, Path: "/", Properties: map[string]any{"threshold": 50}, Client: Client{VisitorID: "v", IPHash: "h", Bot: true}, CreatedAt: now.Add(time.Second)},
	}
	if err := s.SaveEvents(ctx, events); err != nil {
		t.Fatalf("SaveEvents: %v", err)
	}

	got, err := s.ListEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != 2 || got[0].ID != "01B" {
		t.Fatalf("ListEvents = %+v", got)
	}
	if got[0].Properties["threshold"] != 50.0 || !got[0].Client.Bot {
		t.Fatalf("unexpected decoded event %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("CreatedAt = %v", got[0].CreatedAt)
	}

	filtered, _ := s.ListEvents(ctx, EventPageView, 10)
	if len(filtered) != 1 || filtered[0].ID != "01A" {
		t.Fatalf("filtered = %+v", filtered)
	}
}

func TestSaveEventsIsAtomic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// Duplicate primary key in the second row aborts the whole batch.
	err := s.SaveEvents(ctx, []Event{
		{ID: "dup", EventType: EventPageView, CreatedAt: now},
		{ID: "dup", EventType: EventPageView, CreatedAt: now},
	})
	if err == nil {
		t.Fatal("expected duplicate id to fail")
	}
	events, _, _, _ := s.Counts(ctx)
	if events != 0 {
		t.Fatalf("expected rollback, found %d events", events)
	}
}

func TestSaveConversionsAndInteractions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveConversions(ctx, []Conversion{{ID: "c1", ConversionType: ConversionPurchase, Value: 49.5, Currency: "EUR", CreatedAt: now}}); err != nil {
		t.Fatalf("SaveConversions: %v", err)
	}
	if err := s.SaveFormInteractions(ctx, []FormInteraction{
		{ID: "f1", FormID: "demo", InteractionType: "focus", FieldName: "email", CreatedAt: now},
		{ID: "f2", FormID: "demo", InteractionType: "step_complete", Step: 2, CreatedAt: now},
	}); err != nil {
		t.Fatalf("SaveFormInteractions: %v", err)
	}
	events, conversions, interactions, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if events != 0 || conversions != 1 || interactions != 2 {
		t.Fatalf("counts = %d/%d/%d", events, conversions, interactions)
	}
}

func TestCleanupOld(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	old := time.Now().AddDate(0, 0, -100)

	s.SaveEvents(ctx, []Event{
		{ID: "old", EventType: EventPageView, CreatedAt: old},
		{ID: "new", EventType: EventPageView, CreatedAt: time.Now()},
	})
	s.SaveConversions(ctx, []Conversion{{ID: "oldc", ConversionType: ConversionDownload, CreatedAt: old}})

	n, err := s.CleanupOld(ctx, 90)
	if err != nil {
		t.Fatalf("CleanupOld: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d rows, want 2", n)
	}
	events, conversions, _, _ := s.Counts(ctx)
	if events != 1 || conversions != 0 {
		t.Fatalf("counts after cleanup = %d/%d", events, conversions)
	}
}

func TestInitSalt(t *testing.T) {
	s := setupTestStore(t)
	if err := InitSalt(s); err != nil {
		t.Fatalf("InitSalt: %v", err)
	}
	if getSalt() == "" {
		t.Fatal("expected salt to be set")
	}
}
