package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Store provides database operations for analytics.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database and ensures the analytics schema.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS analytics_events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			session_id TEXT,
			visitor_id TEXT NOT NULL,
			ip_hash TEXT NOT NULL,
			path TEXT,
			referrer TEXT,
			referrer_source TEXT,
			browser TEXT,
			os TEXT,
			device TEXT,
			is_bot INTEGER NOT NULL DEFAULT 0,
			properties TEXT,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversion_events (
			id TEXT PRIMARY KEY,
			conversion_type TEXT NOT NULL,
			session_id TEXT,
			visitor_id TEXT NOT NULL,
			ip_hash TEXT NOT NULL,
			path TEXT,
			value REAL,
			currency TEXT,
			properties TEXT,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS form_interactions (
			id TEXT PRIMARY KEY,
			form_id TEXT NOT NULL,
			interaction_type TEXT NOT NULL,
			field_name TEXT,
			step INTEGER,
			session_id TEXT,
			visitor_id TEXT NOT NULL,
			path TEXT,
			properties TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_analytics_events_created ON analytics_events(created_at);
		CREATE INDEX IF NOT EXISTS idx_analytics_events_type ON analytics_events(event_type);
		CREATE INDEX IF NOT EXISTS idx_conversion_events_created ON conversion_events(created_at);
		CREATE INDEX IF NOT EXISTS idx_form_interactions_created ON form_interactions(created_at);
		CREATE INDEX IF NOT EXISTS idx_form_interactions_form ON form_interactions(form_id);

		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// currentSchemaVersion is the latest schema version. Increment when adding migrations.
const currentSchemaVersion = 1

// migrate applies incremental schema migrations based on a version stored in the settings table.
func (s *Store) migrate() error {
	verStr, err := s.GetSetting("schema_version")
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	version := 0
	if verStr != "" {
		version, err = strconv.Atoi(verStr)
		if err != nil {
			return fmt.Errorf("parse schema version %q: %w", verStr, err)
		}
	}
	if version >= currentSchemaVersion {
		return nil
	}
	return s.SetSetting("schema_version", strconv.Itoa(currentSchemaVersion))
}

// GetSetting retrieves a setting value by key. Returns empty string if not found.
func (s *Store) GetSetting(key string) (string, error) {
	var val string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return val, err
}

// SetSetting stores a setting value by key (upsert).
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func encodeProps(p map[string]any) (sql.NullString, error) {
	if len(p) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode properties: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeProps(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var p map[string]any
	if err := json.Unmarshal([]byte(ns.String), &p); err != nil {
		return nil
	}
	return p
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SaveEvents inserts all events in one transaction.
func (s *Store) SaveEvents(ctx context.Context, events []Event) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO analytics_events (id, event_type, session_id, visitor_id, ip_hash, path,
				referrer, referrer_source, browser, os, device, is_bot, properties, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare event insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range events {
			props, err := encodeProps(e.Properties)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, e.ID, e.EventType, e.SessionID, e.Client.VisitorID,
				e.Client.IPHash, e.Path, e.Referrer, e.ReferrerSource, e.Client.Browser, e.Client.OS,
				e.Client.Device, e.Client.Bot, props, formatTime(e.CreatedAt)); err != nil {
				return fmt.Errorf("insert event %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// SaveConversions inserts all conversions in one transaction.
func (s *Store) SaveConversions(ctx context.Context, conversions []Conversion) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO conversion_events (id, conversion_type, session_id, visitor_id, ip_hash, path,
				value, currency, properties, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare conversion insert: %w", err)
		}
		defer stmt.Close()
		for _, cv := range conversions {
			props, err := encodeProps(cv.Properties)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, cv.ID, cv.ConversionType, cv.SessionID, cv.Client.VisitorID,
				cv.Client.IPHash, cv.Path, cv.Value, cv.Currency, props, formatTime(cv.CreatedAt)); err != nil {
				return fmt.Errorf("insert conversion %s: %w", cv.ID, err)
			}
		}
		return nil
	})
}

// SaveFormInteractions inserts all interactions in one transaction.
func (s *Store) SaveFormInteractions(ctx context.Context, items []FormInteraction) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO form_interactions (id, form_id, interaction_type, field_name, step, session_id,
				visitor_id, path, properties, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare form interaction insert: %w", err)
		}
		defer stmt.Close()
		for _, f := range items {
			props, err := encodeProps(f.Properties)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, f.ID, f.FormID, f.InteractionType, f.FieldName, f.Step,
				f.SessionID, f.Client.VisitorID, f.Path, props, formatTime(f.CreatedAt)); err != nil {
				return fmt.Errorf("insert form interaction %s: %w", f.ID, err)
			}
		}
		return nil
	})
}

// ListEvents returns the most recent events, newest first, optionally
// filtered by type.
func (s *Store) ListEvents(ctx context.Context, eventType string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, COALESCE(session_id, ''), visitor_id, ip_hash, COALESCE(path, ''),
			COALESCE(referrer, ''), COALESCE(referrer_source, ''), COALESCE(browser, ''),
			COALESCE(os, ''), COALESCE(device, ''), is_bot, properties, created_at
		FROM analytics_events
		WHERE (? = '' OR event_type = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, eventType, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			props   sql.NullString
			created string
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.SessionID, &e.Client.VisitorID, &e.Client.IPHash,
			&e.Path, &e.Referrer, &e.ReferrerSource, &e.Client.Browser, &e.Client.OS, &e.Client.Device,
			&e.Client.Bot, &props, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Properties = decodeProps(props)
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns the number of stored rows per table.
func (s *Store) Counts(ctx context.Context) (events, conversions, interactions int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM analytics_events),
			(SELECT COUNT(*) FROM conversion_events),
			(SELECT COUNT(*) FROM form_interactions)`).Scan(&events, &conversions, &interactions)
	return
}

// CleanupOld removes analytics rows older than the retention period.
func (s *Store) CleanupOld(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := formatTime(time.Now().AddDate(0, 0, -retentionDays))
	var total int64
	for _, table := range []string{"analytics_events", "conversion_events", "form_interactions"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < ?`, cutoff)
		if err != nil {
			return total, fmt.Errorf("cleanup %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// StartCleanupScheduler runs periodic cleanup of old data. Returns a stop function.
func (s *Store) StartCleanupScheduler(retentionDays int, interval time.Duration, logger *zap.Logger) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				n, err := s.CleanupOld(context.Background(), retentionDays)
				if err != nil {
					logger.Error("analytics cleanup failed", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Info("analytics cleanup", zap.Int64("deleted", n))
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}
