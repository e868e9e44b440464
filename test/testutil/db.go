package testutil

import (
	"database/sql"
	"os"
	"testing"

	"github.com/xxxsen/mkb/internal/config"
	"github.com/xxxsen/mkb/internal/db"
)

// Dimension is the vector width of the test schema.
const Dimension = 4

func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := db.Open(config.DatabaseConfig{
		Host:     host,
		Port:     5432,
		User:     "mkb",
		Password: "mkb_pass",
		DBName:   "mkb_test",
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn, Dimension); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if _, err := conn.Exec(`TRUNCATE source_chunks, sources, collections, embedding_cache, blob_cleanup_tasks`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
	}
}
