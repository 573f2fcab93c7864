// Package migrations owns the QA store schema. Scripts are embedded and
// applied in version order; the same files run on Postgres and SQLite.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const ledgerTable = "querydb_schema_migrations"

var scriptName = regexp.MustCompile(`^([0-9]+)_(.+)\.(up|down)\.sql$`)

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return NewRunnerWithFS(embeddedFS)
}

func NewRunnerWithFS(fsys fs.FS) *Runner {
	return &Runner{fsys: fsys}
}

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

type Status struct {
	Version int64  `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
}

// Up applies pending migrations oldest first. steps <= 0 applies all of them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	known, applied, err := r.prepare(ctx, db, false)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, m := range known {
		if slices.Contains(applied, m.Version) {
			continue
		}
		if steps > 0 && done == steps {
			break
		}
		ledger := `INSERT INTO ` + ledgerTable + ` (version) VALUES ($1)`
		if err := execStep(ctx, db, m.Version, m.UpSQL, ledger); err != nil {
			return done, fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		done++
	}
	return done, nil
}

// Down rolls back the newest applied migrations, one by default.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	known, applied, err := r.prepare(ctx, db, true)
	if err != nil {
		return 0, err
	}
	byVersion := make(map[int64]migration, len(known))
	for _, m := range known {
		byVersion[m.Version] = m
	}

	done := 0
	for _, version := range applied {
		if done == steps {
			break
		}
		m, ok := byVersion[version]
		if !ok {
			return done, fmt.Errorf("applied migration %d is missing from source", version)
		}
		ledger := `DELETE FROM ` + ledgerTable + ` WHERE version = $1`
		if err := execStep(ctx, db, version, m.DownSQL, ledger); err != nil {
			return done, fmt.Errorf("rollback migration %d: %w", version, err)
		}
		done++
	}
	return done, nil
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	known, applied, err := r.prepare(ctx, db, false)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(known))
	for _, m := range known {
		out = append(out, Status{Version: m.Version, Name: m.Name, Applied: slices.Contains(applied, m.Version)})
	}
	return out, nil
}

func (r *Runner) prepare(ctx context.Context, db *sql.DB, newestFirst bool) ([]migration, []int64, error) {
	known, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, nil, err
	}
	ddl := `CREATE TABLE IF NOT EXISTS ` + ledgerTable + ` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, nil, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(ctx, db, newestFirst)
	if err != nil {
		return nil, nil, err
	}
	return known, applied, nil
}

// execStep runs a script and its ledger update in one transaction.
func execStep(ctx context.Context, db *sql.DB, version int64, script, ledger string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, ledger, version); err != nil {
		return fmt.Errorf("update %s: %w", ledgerTable, err)
	}
	return tx.Commit()
}

func appliedVersions(ctx context.Context, db *sql.DB, newestFirst bool) ([]int64, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+ledgerTable+` ORDER BY version `+order)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// loadMigrations pairs up and down scripts by version. Files that do not
// follow NNNN_name.(up|down).sql are ignored.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, name := range names {
		parts := scriptName.FindStringSubmatch(strings.TrimPrefix(name, "sql/"))
		if parts == nil {
			continue
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", name, err)
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", name, err)
		}
		m := byVersion[version]
		if m == nil {
			m = &migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		}
		if parts[3] == "up" {
			m.UpSQL = string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if strings.TrimSpace(m.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", m.Version)
		}
		if strings.TrimSpace(m.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", m.Version)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b migration) int { return int(a.Version - b.Version) })
	return out, nil
}
