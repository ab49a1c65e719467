// Package store provides the vector index behind the knowledge base.
package store

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
)

// DefaultCollection is the collection the knowledge base reads and writes.
const DefaultCollection = "documents"

// PayloadContent is the payload key holding a chunk's text.
const PayloadContent = "page_content"

// ErrDimensionMismatch is returned when a vector does not match the index.
var ErrDimensionMismatch = errors.New("store: vector dimension mismatch")

// Point is a vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Hit is a search result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Content returns the hit's page_content payload, or "".
func (h Hit) Content() string {
	s, _ := h.Payload[PayloadContent].(string)
	return s
}

// VectorStore is a vector index over document chunks.
type VectorStore interface {
	// EnsureCollection creates the collection when missing. Creating an
	// existing collection is a no-op.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert adds or replaces points.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to topK points ordered by descending similarity.
	Search(ctx context.Context, vector []float32, topK int) ([]Hit, error)

	// Close releases resources.
	Close() error
}

// MemoryStore is an in-process cosine similarity index. It backs tests and
// deployments without a vector database.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]Point
}

var _ VectorStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]Point)}
}

func (m *MemoryStore) EnsureCollection(ctx context.Context, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension == 0 {
		m.dimension = dimension
	}
	return nil
}

func (m *MemoryStore) Upsert(ctx context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		if m.dimension == 0 {
			m.dimension = len(p.Vector)
		}
		if len(p.Vector) != m.dimension {
			return ErrDimensionMismatch
		}
		m.points[p.ID] = p
	}
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.points) == 0 || topK <= 0 {
		return nil, nil
	}
	if len(vector) != m.dimension {
		return nil, ErrDimensionMismatch
	}

	hits := make([]Hit, 0, len(m.points))
	for _, p := range m.points {
		hits = append(hits, Hit{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
