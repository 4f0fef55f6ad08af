// Package database opens the relational database backing leads and
// analytics: a hosted libsql (Turso) database when a libsql URL is
// configured, otherwise a local SQLite file.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Config selects the database.
type Config struct {
	URL       string // libsql://... for a hosted database
	AuthToken string
	Path      string // local SQLite file, used when URL is empty
}

// Remote reports whether cfg points at a hosted libsql database.
func (c Config) Remote() bool {
	return strings.HasPrefix(c.URL, "libsql://") || strings.HasPrefix(c.URL, "https://") ||
		strings.HasPrefix(c.URL, "http://") || strings.HasPrefix(c.URL, "wss://")
}

// Open connects and pings the database described by cfg.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.Remote() {
		return openLibsql(cfg)
	}
	return OpenSQLite(cfg.Path)
}

func openLibsql(cfg Config) (*sql.DB, error) {
	dsn := cfg.URL
	if cfg.AuthToken != "" {
		dsn += "?authToken=" + cfg.AuthToken
	}
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping libsql: %w", err)
	}
	return db, nil
}

// OpenSQLite opens (or creates) the SQLite file at path, creating the data
// directory if needed.
func OpenSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = "data/leadkit.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// WAL lets readers proceed during writes; busy_timeout makes writers
	// wait instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
		PRAGMA cache_size=-8000;
		PRAGMA mmap_size=268435456;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	return db, nil
}
