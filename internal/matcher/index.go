package matcher

import (
	"math"
	"sync"
)

// Index is a nearest-neighbour store over question embeddings.
type Index interface {
	Add(text string, vector []float32)
	Nearest(vector []float32) (text string, distance float64, ok bool)
	Contains(text string) bool
	Len() int
}

// FlatIndex scans every vector. Distance is cosine distance, so 0 means the
// same direction and 2 means opposite.
type FlatIndex struct {
	mu      sync.RWMutex
	texts   []string
	vectors [][]float32
	indexed map[string]struct{}
}

func NewFlatIndex() *FlatIndex {
	return &FlatIndex{indexed: map[string]struct{}{}}
}

// Add ignores texts already present.
func (x *FlatIndex) Add(text string, vector []float32) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.indexed[text]; ok {
		return
	}
	x.indexed[text] = struct{}{}
	x.texts = append(x.texts, text)
	x.vectors = append(x.vectors, vector)
}

func (x *FlatIndex) Nearest(vector []float32) (string, float64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	best := -1
	bestDistance := math.Inf(1)
	for i, candidate := range x.vectors {
		distance := CosineDistance(vector, candidate)
		if distance < bestDistance {
			best = i
			bestDistance = distance
		}
	}
	if best < 0 {
		return "", 0, false
	}
	return x.texts[best], bestDistance, true
}

func (x *FlatIndex) Contains(text string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.indexed[text]
	return ok
}

func (x *FlatIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.texts)
}

// CosineDistance returns 1 - cos(a, b). Mismatched lengths or zero vectors
// are treated as unrelated (distance 1).
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
