package leadkit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = sql.ErrNoRows

const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// Subscriber statuses.
const (
	StatusActive       = "active"
	StatusUnsubscribed = "unsubscribed"
)

// Contact is a stored contact-form submission.
type Contact struct {
	ID        string
	Name      string
	Email     string
	Company   string
	Phone     string
	Message   string
	Source    string
	IPHash    string
	UserAgent string
	CreatedAt time.Time
}

// Subscriber is a newsletter subscription.
type Subscriber struct {
	ID             string
	Email          string
	Name           string
	Source         string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	UnsubscribedAt time.Time
}

// Active reports whether the subscription is live.
func (s Subscriber) Active() bool {
	return s.Status == StatusActive
}

// Store persists leads: contact submissions and newsletter subscribers.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps an open database and ensures the lead tables exist.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS contacts (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL,
    company TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    ip_hash TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contacts_created ON contacts(created_at);
CREATE TABLE IF NOT EXISTS subscribers (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    unsubscribed_at TEXT NOT NULL DEFAULT ''
);
`)
	if err != nil {
		return fmt.Errorf("ensure lead schema: %w", err)
	}
	return nil
}

// CreateContact stores a contact submission and returns it with its id and
// creation time filled in.
func (s *Store) CreateContact(ctx context.Context, c Contact) (Contact, error) {
	c.ID = ulid.Make().String()
	c.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO contacts (id, name, email, company, phone, message, source, ip_hash, user_agent, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, c.Company, c.Phone, c.Message, c.Source, c.IPHash, c.UserAgent, formatTime(c.CreatedAt))
	if err != nil {
		return Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	return c, nil
}

// GetContact returns a contact by id.
func (s *Store) GetContact(ctx context.Context, id string) (Contact, error) {
	var c Contact
	var created string
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, email, company, phone, message, source, ip_hash, user_agent, created_at
FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Company, &c.Phone, &c.Message, &c.Source, &c.IPHash, &c.UserAgent, &created)
	if err != nil {
		return Contact{}, err
	}
	c.CreatedAt = parseTime(created)
	return c, nil
}

// GetSubscriberByEmail returns the subscription for an already normalised
// e-mail address, or ErrNotFound.
func (s *Store) GetSubscriberByEmail(ctx context.Context, email string) (Subscriber, error) {
	var sub Subscriber
	var created, updated, unsubscribed string
	err := s.db.QueryRowContext(ctx, `
SELECT id, email, name, source, status, created_at, updated_at, unsubscribed_at
FROM subscribers WHERE email = ?`, email).
		Scan(&sub.ID, &sub.Email, &sub.Name, &sub.Source, &sub.Status, &created, &updated, &unsubscribed)
	if err != nil {
		return Subscriber{}, err
	}
	sub.CreatedAt = parseTime(created)
	sub.UpdatedAt = parseTime(updated)
	if unsubscribed != "" {
		sub.UnsubscribedAt = parseTime(unsubscribed)
	}
	return sub, nil
}

// CreateSubscriber inserts an active subscription. It reports false without
// error when the e-mail is already present.
func (s *Store) CreateSubscriber(ctx context.Context, sub Subscriber) (Subscriber, bool, error) {
	now := formatTime(s.now())
	sub.ID = ulid.Make().String()
	sub.Status = StatusActive
	res, err := s.db.ExecContext(ctx, `
INSERT INTO subscribers (id, email, name, source, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(email) DO NOTHING`,
		sub.ID, sub.Email, sub.Name, sub.Source, sub.Status, now, now)
	if err != nil {
		return Subscriber{}, false, fmt.Errorf("insert subscriber: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Subscriber{}, false, fmt.Errorf("insert subscriber: %w", err)
	}
	if n == 0 {
		return Subscriber{}, false, nil
	}
	sub.CreatedAt = parseTime(now)
	sub.UpdatedAt = sub.CreatedAt
	return sub, true, nil
}

// Reactivate marks an unsubscribed address as active again.
func (s *Store) Reactivate(ctx context.Context, email string) error {
	return s.setStatus(ctx, email, StatusUnsubscribed, StatusActive, "")
}

// Unsubscribe deactivates an active subscription. It returns ErrNotFound
// when the address is unknown or already unsubscribed.
func (s *Store) Unsubscribe(ctx context.Context, email string) error {
	return s.setStatus(ctx, email, StatusActive, StatusUnsubscribed, formatTime(s.now()))
}

func (s *Store) setStatus(ctx context.Context, email, from, to, unsubscribedAt string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE subscribers SET status = ?, updated_at = ?, unsubscribed_at = ?
WHERE email = ? AND status = ?`,
		to, formatTime(s.now()), unsubscribedAt, email, from)
	if err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountSubscribers returns the number of subscriptions with the given status.
func (s *Store) CountSubscribers(ctx context.Context, status string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers WHERE status = ?`, status).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return n, nil
}
