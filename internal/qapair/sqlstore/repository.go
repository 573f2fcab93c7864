// Package sqlstore persists QA pairs and export records in Postgres or SQLite.
// Queries stick to syntax both engines accept: $n placeholders, ON CONFLICT
// upserts and RETURNING.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
)

type Repository struct {
	db    *sql.DB
	clock func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, clock: func() time.Time { return time.Now().UTC() }}
}

func (r *Repository) SetClock(clock func() time.Time) {
	if clock != nil {
		r.clock = clock
	}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store db: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, question string) (qapair.Pair, error) {
	query := `
SELECT question, sql_text, answer, created_at, updated_at
FROM qa_pair
WHERE question = $1`

	var pair qapair.Pair
	if err := r.db.QueryRowContext(ctx, query, qapair.Normalize(question)).Scan(
		&pair.Question,
		&pair.SQL,
		&pair.Answer,
		&pair.CreatedAt,
		&pair.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return qapair.Pair{}, qapair.ErrNotFound
		}
		return qapair.Pair{}, fmt.Errorf("get qa pair: %w", err)
	}
	return pair, nil
}

// List returns pairs newest first. A non-positive limit returns every pair.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]qapair.Pair, error) {
	if offset < 0 {
		offset = 0
	}
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, `
SELECT question, sql_text, answer, created_at, updated_at
FROM qa_pair
ORDER BY updated_at DESC, question ASC
LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = r.db.QueryContext(ctx, `
SELECT question, sql_text, answer, created_at, updated_at
FROM qa_pair
ORDER BY updated_at DESC, question ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list qa pairs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	pairs := make([]qapair.Pair, 0)
	for rows.Next() {
		var pair qapair.Pair
		if err := rows.Scan(&pair.Question, &pair.SQL, &pair.Answer, &pair.CreatedAt, &pair.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan qa pair row: %w", err)
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate qa pair rows: %w", err)
	}
	return pairs, nil
}

func (r *Repository) Upsert(ctx context.Context, pair qapair.Pair) (qapair.Pair, error) {
	pair.Question = qapair.Normalize(pair.Question)
	if err := pair.Validate(); err != nil {
		return qapair.Pair{}, err
	}
	now := r.clock()

	query := `
INSERT INTO qa_pair (question, sql_text, answer, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (question)
DO UPDATE SET sql_text = excluded.sql_text, answer = excluded.answer, updated_at = excluded.updated_at
RETURNING created_at, updated_at`
	if err := r.db.QueryRowContext(ctx, query, pair.Question, pair.SQL, pair.Answer, now).Scan(&pair.CreatedAt, &pair.UpdatedAt); err != nil {
		return qapair.Pair{}, fmt.Errorf("upsert qa pair: %w", err)
	}
	return pair, nil
}

func (r *Repository) Delete(ctx context.Context, question string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM qa_pair WHERE question = $1`, qapair.Normalize(question))
	if err != nil {
		return fmt.Errorf("delete qa pair: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete qa pair rows affected: %w", err)
	}
	if affected == 0 {
		return qapair.ErrNotFound
	}
	return nil
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM qa_pair`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count qa pairs: %w", err)
	}
	return count, nil
}

func (r *Repository) RecordExport(ctx context.Context, export qapair.Export) error {
	query := `
INSERT INTO qa_export (export_id, object_path, row_count, size_bytes, created_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, export.ExportID, export.ObjectPath, export.RowCount, export.SizeBytes, export.CreatedAt); err != nil {
		return fmt.Errorf("record qa export: %w", err)
	}
	return nil
}

// ListExports returns export records newest first. A non-positive limit
// returns all of them.
func (r *Repository) ListExports(ctx context.Context, limit int) ([]qapair.Export, error) {
	query := `
SELECT export_id, object_path, row_count, size_bytes, created_at
FROM qa_export
ORDER BY created_at DESC, export_id DESC`
	args := []any{}
	if limit > 0 {
		query += `
LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list qa exports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	exports := make([]qapair.Export, 0)
	for rows.Next() {
		var export qapair.Export
		if err := rows.Scan(&export.ExportID, &export.ObjectPath, &export.RowCount, &export.SizeBytes, &export.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan qa export row: %w", err)
		}
		exports = append(exports, export)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate qa export rows: %w", err)
	}
	return exports, nil
}

func (r *Repository) DeleteExport(ctx context.Context, exportID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM qa_export WHERE export_id = $1`, exportID)
	if err != nil {
		return fmt.Errorf("delete qa export: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete qa export rows affected: %w", err)
	}
	if affected == 0 {
		return qapair.ErrNotFound
	}
	return nil
}
