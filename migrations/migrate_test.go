package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func TestRun_Idempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "perf.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := Run(db, zerolog.Nop()); err != nil {
		t.Fatalf("First run: %v", err)
	}
	if err := Run(db, zerolog.Nop()); err != nil {
		t.Fatalf("Second run: %v", err)
	}

	var name string
	if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='backends'`).Scan(&name); err != nil {
		t.Fatalf("Expected backends table: %v", err)
	}
}
