package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/xxxsen/mkb/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const dimensionPlaceholder = "{{DIMENSION}}"

func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func DSN(cfg config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslmode)
}

// ApplyMigrations runs the embedded migrations in file name order. The
// vector column width is fixed to dimension when the table is created.
func ApplyMigrations(db *sql.DB, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dimension)
	}
	queries, err := migrationQueries(dimension)
	if err != nil {
		return err
	}
	for _, q := range queries {
		if _, err := db.Exec(q.sql); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("execute query in %s: %w", q.file, err)
		}
	}
	return nil
}

type migrationQuery struct {
	file string
	sql  string
}

func migrationQueries(dimension int) ([]migrationQuery, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	var out []migrationQuery
	for _, file := range files {
		content, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return nil, err
		}
		text := strings.ReplaceAll(string(content), dimensionPlaceholder, strconv.Itoa(dimension))
		for _, q := range strings.Split(text, ";") {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			out = append(out, migrationQuery{file: file, sql: q})
		}
	}
	return out, nil
}

// VerifyDimension fails when the stored vector column width differs from
// the configured embedding dimension. A mismatch needs a schema change and
// a full re-ingestion, so it is treated as a fatal configuration error.
func VerifyDimension(ctx context.Context, db *sql.DB, dimension int) error {
	const query = `
		SELECT atttypmod
		FROM pg_attribute
		WHERE attrelid = 'source_chunks'::regclass AND attname = 'embedding'
	`
	var typmod int
	if err := db.QueryRowContext(ctx, query).Scan(&typmod); err != nil {
		return fmt.Errorf("read vector dimension: %w", err)
	}
	if typmod != dimension {
		return fmt.Errorf("vector column has dimension %d but embedder.dimension is %d", typmod, dimension)
	}
	return nil
}
