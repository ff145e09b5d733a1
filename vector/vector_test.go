package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedMock(t *testing.T) *MockIndex {
	t.Helper()
	ctx := context.Background()
	index := NewMockIndex()
	require.NoError(t, index.EnsureReady(ctx))

	entries := []struct {
		id        string
		embedding []float32
		metadata  Metadata
	}{
		{"v1", []float32{1, 0, 0}, Metadata{MemoryID: "m1", UserID: "u1", Type: "note", Tags: []string{"coffee", "morning"}, Timestamp: 1000}},
		{"v2", []float32{0.9, 0.1, 0}, Metadata{MemoryID: "m2", UserID: "u1", Type: "task", Tags: []string{"coffee"}, Timestamp: 2000}},
		{"v3", []float32{1, 0, 0}, Metadata{MemoryID: "m3", UserID: "u2", Type: "note", Timestamp: 3000}},
	}
	for _, entry := range entries {
		require.NoError(t, index.Upsert(ctx, entry.id, entry.embedding, entry.metadata))
	}
	return index
}

func TestMockIndexUserScoping(t *testing.T) {
	index := seedMock(t)

	results, err := index.Query(context.Background(), []float32{1, 0, 0}, 10, "u1", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		require.Equal(t, "u1", result.Metadata.UserID)
	}
	// Best match first.
	require.Equal(t, "m1", results[0].Metadata.MemoryID)
}

func TestMockIndexTypeFilter(t *testing.T) {
	index := seedMock(t)
	noteType := "note"

	results, err := index.Query(context.Background(), []float32{1, 0, 0}, 10, "u1", &Filters{Type: &noteType})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "m1", results[0].Metadata.MemoryID)
}

func TestMockIndexTagAndTimeFilters(t *testing.T) {
	index := seedMock(t)
	ctx := context.Background()

	results, err := index.Query(ctx, []float32{1, 0, 0}, 10, "u1", &Filters{Tags: []string{"coffee", "morning"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "m1", results[0].Metadata.MemoryID)

	from := int64(1500)
	results, err = index.Query(ctx, []float32{1, 0, 0}, 10, "u1", &Filters{TimestampFrom: &from})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "m2", results[0].Metadata.MemoryID)
}

func TestMockIndexTopK(t *testing.T) {
	index := seedMock(t)

	results, err := index.Query(context.Background(), []float32{1, 0, 0}, 1, "u1", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "m1", results[0].Metadata.MemoryID)
}

func TestMockIndexUpsertReplacesAndDelete(t *testing.T) {
	index := seedMock(t)
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, "v1", []float32{0, 1, 0}, Metadata{MemoryID: "m1", UserID: "u1"}))
	require.Equal(t, 3, index.Len())

	require.NoError(t, index.Delete(ctx, "v1"))
	require.False(t, index.Has("v1"))
	// Deleting again is not an error.
	require.NoError(t, index.Delete(ctx, "v1"))

	count, err := index.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestMockIndexRequiresProvisioning(t *testing.T) {
	index := NewMockIndex()
	_, err := index.Query(context.Background(), []float32{1, 0, 0}, 5, "u1", nil)
	require.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 0.0001)
	require.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 0.0001)
	// Opposite vectors clamp to zero.
	require.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 0.0001)
	// Mismatched or empty inputs score zero.
	require.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1}), 0.0001)
	require.InDelta(t, 0.0, cosineSimilarity(nil, nil), 0.0001)
}

func TestMetadataCodec(t *testing.T) {
	metadata := Metadata{
		MemoryID:  "m1",
		UserID:    "u1",
		Type:      "note",
		Tags:      []string{"a", "b"},
		Timestamp: 12345,
	}
	decoded := decodeMetadata(encodeMetadata(metadata), "")
	require.Equal(t, metadata, decoded)
}
