package store

import (
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
)

func openBareStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateResumesFromAnyPrefix(t *testing.T) {
	for prefix := 0; prefix <= len(migrations); prefix++ {
		t.Run("", func(t *testing.T) {
			s := openBareStore(t)
			for i := 0; i < prefix; i++ {
				if err := s.applyOne(i, migrations[i]); err != nil {
					t.Fatalf("apply prefix %d: %v", i, err)
				}
			}
			v, _ := s.SchemaVersion()
			if v != prefix {
				t.Fatalf("user_version = %d after prefix, want %d", v, prefix)
			}
			if err := s.Migrate(); err != nil {
				t.Fatalf("Migrate from prefix %d: %v", prefix, err)
			}
			v, _ = s.SchemaVersion()
			if v != len(migrations) {
				t.Errorf("user_version = %d, want %d", v, len(migrations))
			}
		})
	}
}

func TestFailedMigrationKeepsPrefix(t *testing.T) {
	saved := migrations
	defer func() { migrations = saved }()

	boom := errors.New("boom")
	migrations = []Migration{
		saved[0],
		{Name: "exploding", Apply: func(*sql.Tx) error { return boom }},
	}

	s := openBareStore(t)
	err := s.Migrate()
	if !errors.Is(err, boom) {
		t.Fatalf("Migrate error = %v, want wrapped boom", err)
	}
	v, _ := s.SchemaVersion()
	if v != 1 {
		t.Errorf("user_version = %d after failed migration, want 1", v)
	}
}

func TestSchemaAheadOfBinaryFails(t *testing.T) {
	s := openBareStore(t)
	if _, err := s.db.Exec(`PRAGMA user_version = 999;`); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	if err := s.Migrate(); err == nil {
		t.Error("Migrate accepted a database from the future")
	}
}
