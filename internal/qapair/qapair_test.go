package qapair

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryUpsertIsIdempotentPerQuestion(t *testing.T) {
	store := NewMemory()
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	store.Clock = func() time.Time { return now }
	ctx := context.Background()

	first, err := store.Upsert(ctx, Pair{Question: "How many users?", SQL: "SELECT COUNT(*) FROM users", Answer: "42"})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	now = now.Add(time.Minute)
	second, err := store.Upsert(ctx, Pair{Question: "  How many users?  ", SQL: "SELECT COUNT(id) FROM users", Answer: "43"})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	count, _ := store.Count(ctx)
	if count != 1 {
		t.Fatalf("Count() = %d, want 1", count)
	}
	got, err := store.Get(ctx, "How many users?")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SQL != "SELECT COUNT(id) FROM users" || got.Answer != "43" {
		t.Fatalf("Get() = %#v, want last write", got)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) || !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("timestamps created=%v updated=%v", second.CreatedAt, second.UpdatedAt)
	}
}

func TestMemoryRejectsIncompletePair(t *testing.T) {
	store := NewMemory()
	if _, err := store.Upsert(context.Background(), Pair{Question: " ", SQL: "SELECT 1", Answer: "1"}); err == nil {
		t.Fatal("expected error for empty question")
	}
	if _, err := store.Upsert(context.Background(), Pair{Question: "q", SQL: "SELECT 1"}); err == nil {
		t.Fatal("expected error for empty answer")
	}
}

func TestMemoryListOrdersByRecency(t *testing.T) {
	store := NewMemory()
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	store.Clock = func() time.Time { return now }
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		if _, err := store.Upsert(ctx, Pair{Question: q, SQL: "SELECT 1", Answer: q}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		now = now.Add(time.Second)
	}

	pairs, err := store.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pairs) != 2 || pairs[0].Question != "c" || pairs[1].Question != "b" {
		t.Fatalf("List() = %#v", pairs)
	}
	rest, _ := store.List(ctx, 10, 2)
	if len(rest) != 1 || rest[0].Question != "a" {
		t.Fatalf("List(offset=2) = %#v", rest)
	}
	if empty, _ := store.List(ctx, 10, 5); len(empty) != 0 {
		t.Fatalf("List(offset past end) = %#v", empty)
	}
}

func TestMemoryDeleteAndNotFound(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	_, _ = store.Upsert(ctx, Pair{Question: "q", SQL: "SELECT 1", Answer: "1"})
	if err := store.Delete(ctx, "q"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "q"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryExportsNewestFirst(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"e1", "e2", "e3"} {
		_ = store.RecordExport(ctx, Export{ExportID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	exports, err := store.ListExports(ctx, 0)
	if err != nil {
		t.Fatalf("ListExports() error = %v", err)
	}
	if len(exports) != 3 || exports[0].ExportID != "e3" {
		t.Fatalf("ListExports() = %#v", exports)
	}
	if err := store.DeleteExport(ctx, "e1"); err != nil {
		t.Fatalf("DeleteExport() error = %v", err)
	}
	if err := store.DeleteExport(ctx, "e1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteExport() error = %v, want ErrNotFound", err)
	}
}
