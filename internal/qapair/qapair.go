// Package qapair holds learned question/answer pairs. The question text is
// the only key: writing the same question again replaces its sql and answer.
package qapair

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrNotFound = errors.New("qa pair not found")

type Pair struct {
	Question  string    `json:"question"`
	SQL       string    `json:"sql"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store interface {
	Get(ctx context.Context, question string) (Pair, error)
	List(ctx context.Context, limit, offset int) ([]Pair, error)
	Upsert(ctx context.Context, pair Pair) (Pair, error)
	Delete(ctx context.Context, question string) error
	Count(ctx context.Context) (int64, error)
}

// Export records one parquet snapshot of the store written to object storage.
type Export struct {
	ExportID   string    `json:"export_id"`
	ObjectPath string    `json:"object_path"`
	RowCount   int64     `json:"row_count"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

type ExportLog interface {
	RecordExport(ctx context.Context, export Export) error
	ListExports(ctx context.Context, limit int) ([]Export, error)
	DeleteExport(ctx context.Context, exportID string) error
}

// Normalize trims surrounding whitespace. Inner text is kept as-is, so two
// questions differing only in punctuation are distinct keys.
func Normalize(question string) string {
	return strings.TrimSpace(question)
}

func (p Pair) Validate() error {
	if Normalize(p.Question) == "" {
		return errors.New("question is required")
	}
	if strings.TrimSpace(p.SQL) == "" {
		return errors.New("sql is required")
	}
	if strings.TrimSpace(p.Answer) == "" {
		return errors.New("answer is required")
	}
	return nil
}

// Memory is an in-process Store and ExportLog used by tests and by the
// API when no store DSN is configured.
type Memory struct {
	Clock func() time.Time

	mu      sync.RWMutex
	pairs   map[string]Pair
	exports map[string]Export
}

func NewMemory() *Memory {
	return &Memory{
		Clock:   func() time.Time { return time.Now().UTC() },
		pairs:   map[string]Pair{},
		exports: map[string]Export{},
	}
}

func (m *Memory) Get(_ context.Context, question string) (Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pair, ok := m.pairs[Normalize(question)]
	if !ok {
		return Pair{}, ErrNotFound
	}
	return pair, nil
}

func (m *Memory) List(_ context.Context, limit, offset int) ([]Pair, error) {
	m.mu.RLock()
	pairs := make([]Pair, 0, len(m.pairs))
	for _, pair := range m.pairs {
		pairs = append(pairs, pair)
	}
	m.mu.RUnlock()

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].UpdatedAt.Equal(pairs[j].UpdatedAt) {
			return pairs[i].Question < pairs[j].Question
		}
		return pairs[i].UpdatedAt.After(pairs[j].UpdatedAt)
	})
	if offset > 0 {
		if offset >= len(pairs) {
			return []Pair{}, nil
		}
		pairs = pairs[offset:]
	}
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs, nil
}

func (m *Memory) Upsert(_ context.Context, pair Pair) (Pair, error) {
	pair.Question = Normalize(pair.Question)
	if err := pair.Validate(); err != nil {
		return Pair{}, err
	}
	now := m.Clock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.pairs[pair.Question]; ok {
		pair.CreatedAt = existing.CreatedAt
	} else {
		pair.CreatedAt = now
	}
	pair.UpdatedAt = now
	m.pairs[pair.Question] = pair
	return pair, nil
}

func (m *Memory) Delete(_ context.Context, question string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Normalize(question)
	if _, ok := m.pairs[key]; !ok {
		return ErrNotFound
	}
	delete(m.pairs, key)
	return nil
}

func (m *Memory) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.pairs)), nil
}

func (m *Memory) RecordExport(_ context.Context, export Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exports[export.ExportID] = export
	return nil
}

func (m *Memory) ListExports(_ context.Context, limit int) ([]Export, error) {
	m.mu.RLock()
	exports := make([]Export, 0, len(m.exports))
	for _, export := range m.exports {
		exports = append(exports, export)
	}
	m.mu.RUnlock()

	sort.Slice(exports, func(i, j int) bool { return exports[i].CreatedAt.After(exports[j].CreatedAt) })
	if limit > 0 && len(exports) > limit {
		exports = exports[:limit]
	}
	return exports, nil
}

func (m *Memory) DeleteExport(_ context.Context, exportID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exports[exportID]; !ok {
		return ErrNotFound
	}
	delete(m.exports, exportID)
	return nil
}
