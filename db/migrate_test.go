package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateCreatesSchema(t *testing.T) {
	conn := openMemoryDB(t)

	if err := Migrate(conn, nil); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	for _, table := range []string{"schema_migrations", "jobs", "users"} {
		var name string
		err := conn.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("expected table %q after migration: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn := openMemoryDB(t)

	if err := Migrate(conn, nil); err != nil {
		t.Fatalf("first Migrate failed: %v", err)
	}
	if err := Migrate(conn, nil); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var count int
	if err := conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 recorded migrations, got %d", count)
	}
}

func TestIsDatabaseClosed(t *testing.T) {
	conn := openMemoryDB(t)
	conn.Close()

	_, err := conn.Exec("SELECT 1")
	if !IsDatabaseClosed(err) {
		t.Errorf("expected closed-database error to be detected, got: %v", err)
	}
	if IsDatabaseClosed(nil) {
		t.Error("nil error should not be detected as closed database")
	}
}
