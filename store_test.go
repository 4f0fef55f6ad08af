package leadkit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/eringen/leadkit/database"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "leadkit.db"))
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
		t.Fatalf("second NewStore on the same db failed: %v", err)
	}
}

func TestCreateAndGetContact(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	created, err := s.CreateContact(ctx, Contact{
		Name:    "Jo",
		Email:   "a@b.co",
		Company: "Acme",
		Message: "at least ten chars!",
		Source:  "pricing",
	})
	if err != nil {
		t.Fatalf("CreateContact failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected an id")
	}

	got, err := s.GetContact(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetContact failed: %v", err)
	}
	if got.Name != "Jo" || got.Email != "a@b.co" || got.Company != "Acme" || got.Message != "at least ten chars!" {
		t.Fatalf("unexpected contact: %+v", got)
	}
	if !got.CreatedAt.Equal(fixed) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, fixed)
	}
}

func TestGetContactNotFound(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.GetContact(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateSubscriberOnlyOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sub, created, err := s.CreateSubscriber(ctx, Subscriber{Email: "a@b.co", Source: "footer"})
	if err != nil || !created {
		t.Fatalf("first CreateSubscriber: created=%v err=%v", created, err)
	}
	if sub.Status != StatusActive {
		t.Fatalf("Status = %q, want active", sub.Status)
	}

	_, created, err = s.CreateSubscriber(ctx, Subscriber{Email: "a@b.co"})
	if err != nil {
		t.Fatalf("second CreateSubscriber failed: %v", err)
	}
	if created {
		t.Fatal("expected duplicate e-mail not to be inserted")
	}
	n, err := s.CountSubscribers(ctx, StatusActive)
	if err != nil {
		t.Fatalf("CountSubscribers failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("active subscribers = %d, want 1", n)
	}
}

func TestUnsubscribeAndReactivate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Unsubscribe(ctx, "nobody@b.co"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown e-mail, got %v", err)
	}
	if _, _, err := s.CreateSubscriber(ctx, Subscriber{Email: "a@b.co"}); err != nil {
		t.Fatalf("CreateSubscriber failed: %v", err)
	}
	if err := s.Unsubscribe(ctx, "a@b.co"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := s.Unsubscribe(ctx, "a@b.co"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound when already unsubscribed, got %v", err)
	}

	sub, err := s.GetSubscriberByEmail(ctx, "a@b.co")
	if err != nil {
		t.Fatalf("GetSubscriberByEmail failed: %v", err)
	}
	if sub.Active() || sub.UnsubscribedAt.IsZero() {
		t.Fatalf("expected unsubscribed record, got %+v", sub)
	}

	if err := s.Reactivate(ctx, "a@b.co"); err != nil {
		t.Fatalf("Reactivate failed: %v", err)
	}
	sub, err = s.GetSubscriberByEmail(ctx, "a@b.co")
	if err != nil {
		t.Fatalf("GetSubscriberByEmail failed: %v", err)
	}
	if !sub.Active() {
		t.Fatalf("expected active after reactivation, got %q", sub.Status)
	}
	if err := s.Reactivate(ctx, "a@b.co"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound reactivating an active address, got %v", err)
	}
}
