package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mkb/internal/config"
)

func TestMigrationQueriesSubstituteDimension(t *testing.T) {
	queries, err := migrationQueries(768)
	require.NoError(t, err)
	require.NotEmpty(t, queries)
	found := false
	for _, q := range queries {
		require.NotContains(t, q.sql, dimensionPlaceholder)
		if strings.Contains(q.sql, "CREATE TABLE IF NOT EXISTS source_chunks") {
			require.Contains(t, q.sql, "vector(768)")
			found = true
		}
	}
	require.True(t, found)
	require.True(t, strings.HasPrefix(queries[0].sql, "CREATE EXTENSION"))
}

func TestApplyMigrationsRejectsBadDimension(t *testing.T) {
	require.Error(t, ApplyMigrations(nil, 0))
}

func TestDSN(t *testing.T) {
	require.Equal(t, "postgres://x", DSN(config.DatabaseConfig{DSN: "postgres://x"}))
	require.Equal(t,
		"host=h port=5432 user=u password=p dbname=d sslmode=disable",
		DSN(config.DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", DBName: "d"}))
}
