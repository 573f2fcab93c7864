package cache

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemory[string]()
	store.Clock = clock.Now
	ctx := context.Background()

	if err := store.Set(ctx, "all_tables", "drug,patent", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := store.Get(ctx, "all_tables")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || got != "drug,patent" {
		t.Fatalf("Get() = %q, %v", got, ok)
	}
}

func TestMemoryExpiresAtTTLBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemory[int]()
	store.Clock = clock.Now
	ctx := context.Background()

	_ = store.Set(ctx, "k", 7, 10*time.Second)

	clock.Advance(9 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("entry should be present before expiry")
	}

	clock.Advance(time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("entry should be absent once now == expiry")
	}
	if store.Len() != 0 {
		t.Fatalf("Len() = %d, expired entry should be evicted on read", store.Len())
	}
}

func TestMemorySetRefreshesExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemory[string]()
	store.Clock = clock.Now
	ctx := context.Background()

	_ = store.Set(ctx, "k", "v1", 10*time.Second)
	clock.Advance(8 * time.Second)
	_ = store.Set(ctx, "k", "v2", 10*time.Second)
	clock.Advance(8 * time.Second)

	got, ok, _ := store.Get(ctx, "k")
	if !ok || got != "v2" {
		t.Fatalf("Get() = %q, %v; want v2 with refreshed expiry", got, ok)
	}
}

func TestMemoryDelete(t *testing.T) {
	store := NewMemory[string]()
	ctx := context.Background()
	_ = store.Set(ctx, "k", "v", time.Hour)
	_ = store.Delete(ctx, "k")
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("entry should be gone after Delete")
	}
}
