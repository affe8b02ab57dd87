package db

import (
	"path/filepath"
	"testing"
)

func TestNew_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tables := []string{"projects", "creators", "clips", "config", "_migrations"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_WALEnabled(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var journalMode string
	err = database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}

	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var count int
	err = db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count)
	if err != nil {
		t.Fatalf("count migrations error = %v", err)
	}

	if count != 2 {
		t.Errorf("migration count = %d, want 2", count)
	}
}

func TestMarkInterruptedRecordings(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = db1.Conn().Exec(`
		INSERT INTO projects (id, name, created_at) VALUES ('p1', 'Trip', datetime('now'));
		INSERT INTO clips (id, project_id, timestamp, creator_id, status, metadata_location, video_location)
		VALUES ('rec', 'p1', datetime('now'), 'u1', 'temporary', 'device_only', 'device_only'),
		       ('done', 'p1', datetime('now'), 'u1', 'final', 'device_only', 'device_only');
	`)
	if err != nil {
		t.Fatalf("insert clips error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	for id, want := range map[string]string{"rec": "invalid", "done": "final"} {
		var status string
		if err := db2.Conn().QueryRow("SELECT status FROM clips WHERE id = ?", id).Scan(&status); err != nil {
			t.Fatalf("query clip %s error = %v", id, err)
		}
		if status != want {
			t.Errorf("clip %s status = %s, want %s", id, status, want)
		}
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	_, err = database.Conn().Exec(`
		INSERT INTO projects (id, name, created_at) VALUES ('p1', 'Trip', datetime('now'));
		INSERT INTO creators (project_id, creator_id, display_name) VALUES ('p1', 'u1', 'Ana');
		INSERT INTO clips (id, project_id, timestamp, creator_id, status, metadata_location, video_location)
		VALUES ('c1', 'p1', datetime('now'), 'u1', 'final', 'device_only', 'device_only');
	`)
	if err != nil {
		t.Fatalf("insert error = %v", err)
	}
	if _, err := database.Conn().Exec("DELETE FROM projects WHERE id = 'p1'"); err != nil {
		t.Fatalf("delete error = %v", err)
	}

	for _, table := range []string{"creators", "clips"} {
		var n int
		if err := database.Conn().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("count %s error = %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s rows = %d, want 0 after cascade", table, n)
		}
	}
}
