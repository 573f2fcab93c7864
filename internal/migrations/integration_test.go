//go:build integration

package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Runs against QUERYDB_TEST_STORE_DSN inside a throwaway schema so the
// shared database is left untouched.
func TestRunnerAppliesAndRollsBackQASchema(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("QUERYDB_TEST_STORE_DSN"))
	if dsn == "" {
		t.Skip("QUERYDB_TEST_STORE_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	schema := fmt.Sprintf("querydb_it_%d", time.Now().UnixNano())
	db := openInSchema(t, dsn, schema)

	runner := NewRunner()
	applied, err := runner.Up(ctx, db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied < 2 {
		t.Fatalf("Up() applied %d, want at least 2", applied)
	}
	if !tableExists(t, db, schema, "qa_pair") || !tableExists(t, db, schema, "qa_export") {
		t.Fatal("qa tables missing after Up()")
	}

	if n, err := runner.Down(ctx, db, 1); err != nil || n != 1 {
		t.Fatalf("Down() = %d, %v", n, err)
	}
	if tableExists(t, db, schema, "qa_export") {
		t.Fatal("qa_export should be dropped after Down(1)")
	}
	if !tableExists(t, db, schema, "qa_pair") {
		t.Fatal("qa_pair should survive Down(1)")
	}
}

func openInSchema(t *testing.T, dsn, schema string) *sql.DB {
	t.Helper()
	admin, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	if _, err := admin.Exec(`CREATE SCHEMA ` + schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(`DROP SCHEMA ` + schema + ` CASCADE`)
		_ = admin.Close()
	})

	parsed, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	params := parsed.Query()
	params.Set("search_path", schema)
	parsed.RawQuery = params.Encode()

	db, err := sql.Open("pgx", parsed.String())
	if err != nil {
		t.Fatalf("sql.Open(schema) error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, schema, table string) bool {
	t.Helper()
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pg_tables WHERE schemaname = $1 AND tablename = $2`, schema, table).Scan(&count)
	if err != nil {
		t.Fatalf("look up table %q: %v", table, err)
	}
	return count > 0
}
