// Package duckdb runs read-only SQL over parquet exports pulled from the
// object store. Each request gets a throwaway in-memory database with one
// view per table name.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/renjiajia-patsnap/llmdemo/internal/query"
	"github.com/renjiajia-patsnap/llmdemo/internal/sqlguard"
	"github.com/renjiajia-patsnap/llmdemo/internal/storage"
)

type Engine struct {
	Store     storage.ObjectStore
	validator sqlguard.Validator
}

func NewEngine(store storage.ObjectStore) *Engine {
	return &Engine{Store: store, validator: sqlguard.New()}
}

// staged is a set of exports copied to local disk, grouped by view name.
type staged struct {
	dir   string
	views map[string][]string
	bytes int64
}

func (s *staged) cleanup() {
	_ = os.RemoveAll(s.dir)
}

// Execute rejects anything the SQL guard would reject before touching the
// object store, so a bad statement never costs a download.
func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	statement := trimStatement(request.SQL)
	switch {
	case statement == "":
		return query.Result{}, fmt.Errorf("sql is required")
	case len(request.Files) == 0:
		return query.Result{}, fmt.Errorf("no export files to query")
	case e.Store == nil:
		return query.Result{}, fmt.Errorf("object store is required")
	}
	if ok, reason := e.validator.Validate(statement); !ok {
		return query.Result{}, fmt.Errorf("sql rejected: %s", reason)
	}

	start := time.Now()
	files, err := e.stage(ctx, request.Files)
	if err != nil {
		return query.Result{}, err
	}
	defer files.cleanup()

	db, err := openViews(ctx, files.views)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = db.Close() }()

	if request.RowLimit > 0 {
		statement = fmt.Sprintf("SELECT * FROM (%s) AS limited LIMIT %d", statement, request.RowLimit)
	}
	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, values, err := collect(rows)
	if err != nil {
		return query.Result{}, err
	}
	return query.Result{
		Columns:      columns,
		Rows:         values,
		ScannedFiles: len(request.Files),
		ScannedBytes: files.bytes,
		Duration:     time.Since(start),
	}, nil
}

func (e *Engine) stage(ctx context.Context, files []query.TableFile) (*staged, error) {
	dir, err := os.MkdirTemp("", "querydb-duckdb-")
	if err != nil {
		return nil, fmt.Errorf("create query temp dir: %w", err)
	}
	out := &staged{dir: dir, views: map[string][]string{}}
	for i, file := range files {
		local := filepath.Join(dir, fmt.Sprintf("%s_%d.parquet", localName(file.TableName), i))
		if err := e.fetch(ctx, file.ObjectPath, local); err != nil {
			out.cleanup()
			return nil, err
		}
		out.views[file.TableName] = append(out.views[file.TableName], local)
		out.bytes += file.FileSizeBytes
	}
	return out, nil
}

func (e *Engine) fetch(ctx context.Context, key, local string) error {
	reader, err := e.Store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("create local copy of %q: %w", key, err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return fmt.Errorf("copy object %q: %w", key, err)
	}
	return file.Close()
}

func openViews(ctx context.Context, views map[string][]string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	for name, paths := range views {
		ddl := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, identifier(name), fileList(paths))
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create view %q: %w", name, err)
		}
	}
	return db, nil
}

func collect(rows *sql.Rows) ([]string, [][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}
	out := make([][]any, 0)
	for rows.Next() {
		row := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range row {
			targets[i] = &row[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		for i, value := range row {
			switch typed := value.(type) {
			case []byte:
				row[i] = string(typed)
			case time.Time:
				row[i] = typed.UTC().Format(time.RFC3339Nano)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, out, nil
}

func identifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func fileList(paths []string) string {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = `'` + strings.ReplaceAll(p, `'`, `''`) + `'`
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

// localName keeps a table name usable as a file name component.
func localName(table string) string {
	name := strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(table)
	if name == "" {
		return "table"
	}
	return name
}

func trimStatement(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
