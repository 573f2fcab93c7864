package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
)

func TestUpsertUsesConflictUpdate(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	created := now.Add(-time.Hour)
	repo.SetClock(func() time.Time { return now })

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO qa_pair (question, sql_text, answer, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (question)
DO UPDATE SET sql_text = excluded.sql_text, answer = excluded.answer, updated_at = excluded.updated_at
RETURNING created_at, updated_at`)).
		WithArgs("How many users?", "SELECT COUNT(*) FROM users", "42", now).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, now))

	pair, err := repo.Upsert(context.Background(), qapair.Pair{
		Question: " How many users? ",
		SQL:      "SELECT COUNT(*) FROM users",
		Answer:   "42",
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if pair.Question != "How many users?" || !pair.CreatedAt.Equal(created) || !pair.UpdatedAt.Equal(now) {
		t.Fatalf("Upsert() = %#v", pair)
	}
	assertSQLMock(t, mock)
}

func TestUpsertValidatesBeforeQuery(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	if _, err := repo.Upsert(context.Background(), qapair.Pair{Question: "q"}); err == nil {
		t.Fatal("expected validation error")
	}
	assertSQLMock(t, mock)
}

func TestGetReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT question, sql_text, answer, created_at, updated_at
FROM qa_pair
WHERE question = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, qapair.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestListPaginates(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT question, sql_text, answer, created_at, updated_at
FROM qa_pair
ORDER BY updated_at DESC, question ASC
LIMIT $1 OFFSET $2`)).
		WithArgs(10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"question", "sql_text", "answer", "created_at", "updated_at"}).
			AddRow("q1", "SELECT 1", "one", now, now).
			AddRow("q2", "SELECT 2", "two", now, now))

	pairs, err := repo.List(context.Background(), 10, 20)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pairs) != 2 || pairs[1].Answer != "two" {
		t.Fatalf("List() = %#v", pairs)
	}
	assertSQLMock(t, mock)
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM qa_pair WHERE question = $1`)).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Delete(context.Background(), "gone"); !errors.Is(err, qapair.ErrNotFound) {
		t.Fatalf("Delete() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestListExportsWithLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT export_id, object_path, row_count, size_bytes, created_at
FROM qa_export
ORDER BY created_at DESC, export_id DESC
LIMIT $1`)).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"export_id", "object_path", "row_count", "size_bytes", "created_at"}).
			AddRow("exp-2", "qa-exports/dt=2025-03-01/exp-2.parquet", int64(12), int64(2048), now))

	exports, err := repo.ListExports(context.Background(), 3)
	if err != nil {
		t.Fatalf("ListExports() error = %v", err)
	}
	if len(exports) != 1 || exports[0].RowCount != 12 || exports[0].SizeBytes != 2048 {
		t.Fatalf("ListExports() = %#v", exports)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
