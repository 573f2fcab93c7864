// Package matcher finds previously answered questions that are semantically
// close to a new one.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/renjiajia-patsnap/llmdemo/internal/observability"
	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
)

const DefaultThreshold = 0.95

// Embedder matches langchaingo's embeddings.Embedder.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type MatchResult struct {
	Question        string  `json:"question"`
	MatchedQuestion string  `json:"matched_question,omitempty"`
	SQL             string  `json:"sql,omitempty"`
	Answer          string  `json:"answer,omitempty"`
	Similarity      float64 `json:"similarity,omitempty"`
}

func (m MatchResult) Found() bool {
	return m.Answer != ""
}

type Matcher struct {
	embedder Embedder
	index    Index
	logger   *slog.Logger

	mu    sync.RWMutex
	pairs map[string]qapair.Pair
}

func New(embedder Embedder, index Index, logger *slog.Logger) (*Matcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if index == nil {
		index = NewFlatIndex()
	}
	return &Matcher{embedder: embedder, index: index, logger: logger, pairs: map[string]qapair.Pair{}}, nil
}

// FindSimilar returns the stored pair whose question is closest to question
// when its similarity is strictly above threshold. A non-positive threshold
// uses DefaultThreshold.
func (m *Matcher) FindSimilar(ctx context.Context, question string, threshold float64) (MatchResult, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	miss := MatchResult{Question: question}
	if m.index.Len() == 0 {
		return miss, nil
	}

	vector, err := m.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return miss, fmt.Errorf("embed question: %w", err)
	}
	text, distance, ok := m.index.Nearest(vector)
	if !ok {
		return miss, nil
	}
	similarity := 1 - distance
	observability.ObserveSimilarity(similarity)
	if similarity <= threshold {
		m.debug(ctx, "no similar question", slog.String("nearest", text), slog.Float64("similarity", similarity))
		return miss, nil
	}

	m.mu.RLock()
	pair, found := m.pairs[text]
	m.mu.RUnlock()
	if !found {
		return miss, nil
	}
	m.debug(ctx, "similar question found", slog.String("matched", text), slog.Float64("similarity", similarity))
	return MatchResult{
		Question:        question,
		MatchedQuestion: pair.Question,
		SQL:             pair.SQL,
		Answer:          pair.Answer,
		Similarity:      similarity,
	}, nil
}

// Add indexes a single pair. A question already in the index only has its
// sql and answer refreshed.
func (m *Matcher) Add(ctx context.Context, pair qapair.Pair) error {
	pair.Question = qapair.Normalize(pair.Question)
	if pair.Question == "" {
		return fmt.Errorf("question is required")
	}
	if m.index.Contains(pair.Question) {
		m.remember(pair)
		return nil
	}
	vectors, err := m.embedder.EmbedDocuments(ctx, []string{pair.Question})
	if err != nil {
		return fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embedder returned %d vectors for 1 text", len(vectors))
	}
	m.remember(pair)
	m.index.Add(pair.Question, vectors[0])
	return nil
}

// Load indexes pairs with one batch embedding call. It returns how many new
// questions were embedded.
func (m *Matcher) Load(ctx context.Context, pairs []qapair.Pair) (int, error) {
	pending := make([]qapair.Pair, 0, len(pairs))
	seen := map[string]struct{}{}
	for _, pair := range pairs {
		pair.Question = qapair.Normalize(pair.Question)
		if pair.Question == "" {
			continue
		}
		if m.index.Contains(pair.Question) {
			m.remember(pair)
			continue
		}
		if _, dup := seen[pair.Question]; dup {
			continue
		}
		seen[pair.Question] = struct{}{}
		pending = append(pending, pair)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, pair := range pending {
		texts[i] = pair.Question
	}
	vectors, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed questions: %w", err)
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, pair := range pending {
		m.remember(pair)
		m.index.Add(pair.Question, vectors[i])
	}
	return len(pending), nil
}

// Forget drops the stored answer for question. The vector stays in the
// index but can no longer produce a match.
func (m *Matcher) Forget(question string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pairs, qapair.Normalize(question))
}

func (m *Matcher) Len() int {
	return m.index.Len()
}

func (m *Matcher) remember(pair qapair.Pair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[pair.Question] = pair
}

func (m *Matcher) debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	if m.logger == nil {
		return
	}
	m.logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}
