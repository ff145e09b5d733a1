package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

type mockEntry struct {
	embedding []float32
	metadata  Metadata
}

// MockIndex is an in-memory Index used in tests. It ranks by exact cosine
// similarity and applies the same strict user scoping as real backends.
type MockIndex struct {
	mu      sync.RWMutex
	ready   bool
	entries map[string]mockEntry

	// FailQueries makes Query return an error, simulating an
	// unreachable index.
	FailQueries bool
}

func NewMockIndex() *MockIndex {
	return &MockIndex{entries: make(map[string]mockEntry)}
}

func (x *MockIndex) EnsureReady(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ready = true
	return nil
}

func (x *MockIndex) Upsert(ctx context.Context, id string, embedding []float32, metadata Metadata) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.ready {
		return errors.New("vector index not provisioned")
	}
	copied := make([]float32, len(embedding))
	copy(copied, embedding)
	x.entries[id] = mockEntry{embedding: copied, metadata: metadata}
	return nil
}

func (x *MockIndex) Query(ctx context.Context, embedding []float32, topK int, userID string, filters *Filters) ([]QueryResult, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.ready {
		return nil, errors.New("vector index not provisioned")
	}
	if x.FailQueries {
		return nil, errors.New("vector index unreachable")
	}

	results := []QueryResult{}
	for id, entry := range x.entries {
		if entry.metadata.UserID != userID || !matchesFilters(entry.metadata, filters) {
			continue
		}
		results = append(results, QueryResult{
			ID:       id,
			Score:    cosineSimilarity(embedding, entry.embedding),
			Metadata: entry.metadata,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (x *MockIndex) Delete(ctx context.Context, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.ready {
		return errors.New("vector index not provisioned")
	}
	delete(x.entries, id)
	return nil
}

func (x *MockIndex) Count(ctx context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.ready {
		return 0, errors.New("vector index not provisioned")
	}
	return len(x.entries), nil
}

// Len returns the number of stored entries.
func (x *MockIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Has reports whether an entry with the given id exists.
func (x *MockIndex) Has(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.entries[id]
	return ok
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if similarity > 1 {
		similarity = 1
	}
	if similarity < 0 {
		similarity = 0
	}
	return float32(similarity)
}
