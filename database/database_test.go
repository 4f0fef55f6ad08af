package database

import (
	"path/filepath"
	"testing"
)

func TestConfigRemote(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"libsql://leads-acme.turso.io", true},
		{"https://leads-acme.turso.io", true},
		{"", false},
		{"data/leads.db", false},
	}
	for _, tt := range tests {
		if got := (Config{URL: tt.url}).Remote(); got != tt.want {
			t.Errorf("Remote(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "leads.db")
	db, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}
