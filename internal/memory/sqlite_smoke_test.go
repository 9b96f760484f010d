package memory_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// The store depends on WAL journaling, a busy timeout, and the FTS5
// extension being compiled into the driver. These smoke tests pin those
// capabilities directly against modernc.org/sqlite, independent of the
// store's own schema.

func TestSQLiteSmokeTest(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "smoke.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		t.Fatalf("failed to enable WAL mode: %v", err)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected WAL mode, got %q", mode)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		t.Fatalf("failed to set busy_timeout: %v", err)
	}
	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("failed to query busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("expected busy_timeout=5000, got %d", timeout)
	}
}

func TestFTS5SmokeTest(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fts5.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("failed to create notes table: %v", err)
	}
	_, err = db.Exec(`CREATE VIRTUAL TABLE notes_fts USING fts5(
		content, content='notes', content_rowid='id'
	)`)
	if err != nil {
		t.Fatalf("failed to create FTS5 table (driver built without FTS5?): %v", err)
	}
	_, err = db.Exec(`
		CREATE TRIGGER notes_ai AFTER INSERT ON notes BEGIN
			INSERT INTO notes_fts(rowid, content) VALUES (new.id, new.content);
		END;
		CREATE TRIGGER notes_ad AFTER DELETE ON notes BEGIN
			INSERT INTO notes_fts(notes_fts, rowid, content) VALUES ('delete', old.id, old.content);
		END;
	`)
	if err != nil {
		t.Fatalf("failed to create FTS5 triggers: %v", err)
	}

	notes := []string{
		"The user prefers structured logging with key-value pairs",
		"Retention breaker threshold defaults to sixty percent",
		"Consolidated memories inherit the earliest creation time",
	}
	for _, n := range notes {
		if _, err := db.Exec("INSERT INTO notes (content) VALUES (?)", n); err != nil {
			t.Fatalf("failed to insert note: %v", err)
		}
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"single word", `"retention"`, 1},
		{"phrase", `"structured logging"`, 1},
		// The store's sanitizeFTS emits space-joined quoted words (AND).
		{"quoted words", `"earliest" "creation"`, 1},
		{"no match", `"kubernetes"`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var count int
			err := db.QueryRow(
				"SELECT COUNT(*) FROM notes_fts WHERE notes_fts MATCH ?", tt.query,
			).Scan(&count)
			if err != nil {
				t.Fatalf("FTS5 search failed for %q: %v", tt.query, err)
			}
			if count != tt.want {
				t.Errorf("query %q: got %d results, want %d", tt.query, count, tt.want)
			}
		})
	}

	// Deleted rows leave the index through the delete trigger.
	if _, err := db.Exec("DELETE FROM notes WHERE content LIKE '%Retention%'"); err != nil {
		t.Fatal(err)
	}
	var count int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM notes_fts WHERE notes_fts MATCH '"retention"'`,
	).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("deleted row still indexed: %d hits", count)
	}
}
