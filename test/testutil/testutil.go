// Package testutil provides shared test utilities for rlsync integration tests.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

//go:embed testdata/metadata_tables.sql
var metadataTablesSQL string

// Singleton container state
var (
	singletonOnce sync.Once
	singletonDSN  string
	singletonErr  error
)

// ensureSingleton lazily initializes the singleton PostgreSQL container,
// or returns the externally provided database when DATABASE_URL is set.
// Safe for concurrent access via sync.Once.
func ensureSingleton() (string, error) {
	singletonOnce.Do(func() {
		if cfg := GetDatabaseConfig(); cfg.URL != "" {
			singletonDSN = cfg.URL
			return
		}

		ctx := context.Background()

		container, err := postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			singletonErr = fmt.Errorf("failed to start PostgreSQL container: %w", err)
			return
		}

		dsn, err := container.ConnectionString(ctx)
		if err != nil {
			_ = container.Terminate(ctx)
			singletonErr = fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
			return
		}

		// Append sslmode=disable for local testing
		dsn += "sslmode=disable"

		singletonDSN = dsn
		// Container is not stored - ryuk will handle cleanup automatically
	})

	return singletonDSN, singletonErr
}

// DB returns a connection to a fresh metadata database with the RLS
// tables created. Each call creates a new isolated database; it is
// dropped when the test completes. Works with both *testing.T and
// *testing.B.
func DB(tb testing.TB) *sql.DB {
	tb.Helper()

	adminDSN, err := ensureSingleton()
	require.NoError(tb, err, "failed to start PostgreSQL container")

	dbName := uniqueDBName("rlsync")
	err = createDatabase(adminDSN, dbName)
	require.NoError(tb, err, "failed to create test database")

	dbDSN := replaceDBName(adminDSN, dbName)
	db, err := sql.Open("pgx", dbDSN)
	require.NoError(tb, err, "failed to connect to test database")

	err = db.Ping()
	require.NoError(tb, err, "failed to ping test database")

	err = applyStatements(db, metadataTablesSQL)
	require.NoError(tb, err, "failed to create metadata tables")

	tb.Cleanup(func() {
		_ = db.Close()
		dropDatabase(adminDSN, dbName)
	})

	return db
}

// SeedRole inserts a role and returns its id. Roles are provisioned
// outside the reconciler in production; tests seed them directly.
func SeedRole(tb testing.TB, db *sql.DB, name string) int64 {
	tb.Helper()
	var id int64
	err := db.QueryRow(`INSERT INTO ab_role (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	require.NoError(tb, err, "failed to seed role %q", name)
	return id
}

// SeedDataset inserts a dataset and returns its id.
func SeedDataset(tb testing.TB, db *sql.DB, schema, table string) int64 {
	tb.Helper()
	var id int64
	err := db.QueryRow(
		`INSERT INTO tables ("schema", table_name) VALUES ($1, $2) RETURNING id`,
		schema, table,
	).Scan(&id)
	require.NoError(tb, err, "failed to seed dataset %s.%s", schema, table)
	return id
}

// applyStatements executes each semicolon-separated statement in order.
// The pgx driver's extended protocol rejects multi-statement strings.
func applyStatements(db *sql.DB, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// uniqueDBName generates a database name with a random suffix.
func uniqueDBName(prefix string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(buf))
}

// createDatabase creates a new database via the admin connection.
func createDatabase(adminDSN, name string) error {
	admin, err := sql.Open("pgx", adminDSN)
	if err != nil {
		return fmt.Errorf("connecting to admin database: %w", err)
	}
	defer func() { _ = admin.Close() }()

	if _, err := admin.Exec(fmt.Sprintf(`CREATE DATABASE %q`, name)); err != nil {
		return fmt.Errorf("creating database %s: %w", name, err)
	}
	return nil
}

// dropDatabase drops a test database. Failures are ignored; the
// container is disposable anyway and a remote DATABASE_URL target will
// just accumulate rlsync_* databases until re-created.
func dropDatabase(adminDSN, name string) {
	admin, err := sql.Open("pgx", adminDSN)
	if err != nil {
		return
	}
	defer func() { _ = admin.Close() }()
	_, _ = admin.Exec(fmt.Sprintf(`DROP DATABASE %q WITH (FORCE)`, name))
}

// replaceDBName swaps the database name in a postgres:// DSN.
func replaceDBName(dsn, name string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	u.Path = "/" + name
	return u.String()
}
