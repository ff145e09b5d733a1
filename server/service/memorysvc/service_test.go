package memorysvc

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openclaw/cortex/server/internal/errors"
	"github.com/openclaw/cortex/server/internal/observability"
	"github.com/openclaw/cortex/server/retrieval"
	"github.com/openclaw/cortex/store"
	"github.com/openclaw/cortex/store/teststore"
	"github.com/openclaw/cortex/vector"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

type serviceFixture struct {
	service  *Service
	store    *store.Store
	index    *vector.MockIndex
	embedder *fakeEmbedder
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	s := teststore.NewStore()
	t.Cleanup(func() { _ = s.Close() })

	index := vector.NewMockIndex()
	require.NoError(t, index.EnsureReady(context.Background()))

	embedder := &fakeEmbedder{vectors: map[string][]float32{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := retrieval.NewEngine(s, index, embedder, nil, logger)

	return &serviceFixture{
		service:  NewService(s, index, embedder, engine, nil, logger),
		store:    s,
		index:    index,
		embedder: embedder,
	}
}

func TestCreateMemory(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	response, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{
		UserID:  "u1",
		Title:   "espresso",
		Content: "two shots in the morning",
		Tags:    []string{"coffee"},
	})
	require.NoError(t, err)

	memory := response.Memory
	require.NotEmpty(t, memory.ID)
	require.Equal(t, "u1", memory.UserID)
	require.Equal(t, store.MemoryTypeNote, memory.Type)
	require.True(t, strings.HasPrefix(memory.EmbeddingID, "emb_"))
	require.True(t, f.index.Has(memory.EmbeddingID))
	require.Empty(t, memory.LinkedMemoryIDs)
	require.Empty(t, response.RelatedMemories)
	require.NotZero(t, memory.Timestamp)
}

func TestCreateMemoryLinksToNeighbors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.embedder.vectors["espresso two shots"] = []float32{1, 0, 0}
	f.embedder.vectors["latte with oat milk"] = []float32{0.95, 0.05, 0}

	first, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{
		UserID:  "u1",
		Title:   "espresso",
		Content: "two shots",
	})
	require.NoError(t, err)

	second, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{
		UserID:  "u1",
		Title:   "latte",
		Content: "with oat milk",
	})
	require.NoError(t, err)

	require.Equal(t, []string{first.Memory.ID}, second.Memory.LinkedMemoryIDs)
	require.Len(t, second.RelatedMemories, 1)
	require.Equal(t, first.Memory.ID, second.RelatedMemories[0].ID)
}

func TestCreateMemoryLinksStayWithinUser(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.embedder.vectors["espresso two shots"] = []float32{1, 0, 0}
	f.embedder.vectors["espresso same text"] = []float32{1, 0, 0}

	_, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{
		UserID:  "other",
		Title:   "espresso",
		Content: "two shots",
	})
	require.NoError(t, err)

	mine, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{
		UserID:  "u1",
		Title:   "espresso",
		Content: "same text",
	})
	require.NoError(t, err)
	require.Empty(t, mine.Memory.LinkedMemoryIDs)
}

func TestCreateMemorySurvivesEmbeddingFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.embedder.err = context.DeadlineExceeded

	response, err := f.service.CreateMemory(context.Background(), &CreateMemoryRequest{
		UserID:  "u1",
		Content: "a memory without a vector",
	})
	require.NoError(t, err)
	require.Empty(t, response.Memory.EmbeddingID)
	require.Equal(t, 0, f.index.Len())

	// The record is still retrievable.
	memory, err := f.service.GetMemory(context.Background(), response.Memory.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, response.Memory.ID, memory.ID)
}

func TestCreateMemorySkipsEmbeddingWhenDisabled(t *testing.T) {
	f := newServiceFixture(t)
	disabled := false

	response, err := f.service.CreateMemory(context.Background(), &CreateMemoryRequest{
		UserID:            "u1",
		Content:           "no embedding please",
		GenerateEmbedding: &disabled,
	})
	require.NoError(t, err)
	require.Empty(t, response.Memory.EmbeddingID)
	require.Equal(t, 0, f.index.Len())
}

func TestCreateMemoryValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{UserID: "u1", Content: "   "})
	require.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))

	_, err = f.service.CreateMemory(ctx, &CreateMemoryRequest{UserID: "u1", Content: "x", Type: "journal"})
	require.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))

	_, err = f.service.CreateMemory(ctx, &CreateMemoryRequest{Content: "x"})
	require.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}

func TestGetMemoryTouchesLastAccessed(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	seeded, err := f.store.CreateMemory(ctx, &store.Memory{
		ID:             "m1",
		UserID:         "u1",
		Type:           store.MemoryTypeNote,
		Content:        "old memory",
		Timestamp:      1000,
		CreatedTs:      1000,
		UpdatedTs:      1000,
		LastAccessedTs: 1000,
	})
	require.NoError(t, err)

	_, err = f.service.GetMemory(ctx, seeded.ID, "u1")
	require.NoError(t, err)

	refreshed, err := f.store.GetMemory(ctx, seeded.ID, "u1")
	require.NoError(t, err)
	require.Greater(t, refreshed.LastAccessedTs, int64(1000))
}

func TestGetMemoryNotFound(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.GetMemory(ctx, "missing", "u1")
	require.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	// Another user's memory is indistinguishable from a missing one.
	response, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{UserID: "u1", Content: "private"})
	require.NoError(t, err)
	_, err = f.service.GetMemory(ctx, response.Memory.ID, "u2")
	require.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestListMemoriesPinnedFirst(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	older, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{UserID: "u1", Content: "older pinned", IsPinned: true})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	newer, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{UserID: "u1", Content: "newer unpinned"})
	require.NoError(t, err)

	response, err := f.service.ListMemories(ctx, &ListMemoriesRequest{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, 2, response.Total)
	require.Equal(t, older.Memory.ID, response.Memories[0].ID)
	require.Equal(t, newer.Memory.ID, response.Memories[1].ID)
}

func TestUpdateMemoryReembedsOnContentChange(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.embedder.vectors["espresso two shots"] = []float32{1, 0, 0}
	f.embedder.vectors["latte with oat milk"] = []float32{0.95, 0.05, 0}
	f.embedder.vectors["espresso now about latte"] = []float32{0.9, 0.1, 0}

	first, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{UserID: "u1", Title: "espresso", Content: "two shots"})
	require.NoError(t, err)
	neighbor, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{UserID: "u1", Title: "latte", Content: "with oat milk"})
	require.NoError(t, err)

	// The first memory was created before the neighbor existed.
	require.Empty(t, first.Memory.LinkedMemoryIDs)

	newContent := "now about latte"
	updated, err := f.service.UpdateMemory(ctx, &UpdateMemoryRequest{
		ID:      first.Memory.ID,
		UserID:  "u1",
		Content: &newContent,
	})
	require.NoError(t, err)
	require.Equal(t, newContent, updated.Content)
	require.Equal(t, first.Memory.EmbeddingID, updated.EmbeddingID)
	require.Contains(t, updated.LinkedMemoryIDs, neighbor.Memory.ID)
}

func TestUpdateMemoryTitleOnlyKeepsEmbedding(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.embedder.vectors["espresso two shots"] = []float32{1, 0, 0}

	created, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{UserID: "u1", Title: "espresso", Content: "two shots"})
	require.NoError(t, err)

	newTitle := "doppio"
	updated, err := f.service.UpdateMemory(ctx, &UpdateMemoryRequest{
		ID:     created.Memory.ID,
		UserID: "u1",
		Title:  &newTitle,
	})
	require.NoError(t, err)
	require.Equal(t, newTitle, updated.Title)
	require.Equal(t, created.Memory.EmbeddingID, updated.EmbeddingID)
	require.Equal(t, created.Memory.LinkedMemoryIDs, updated.LinkedMemoryIDs)
}

func TestUpdateMemoryNotFound(t *testing.T) {
	f := newServiceFixture(t)
	content := "x"
	_, err := f.service.UpdateMemory(context.Background(), &UpdateMemoryRequest{
		ID:      "missing",
		UserID:  "u1",
		Content: &content,
	})
	require.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestDeleteMemoryRemovesVectorEntry(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	response, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{UserID: "u1", Content: "to be deleted"})
	require.NoError(t, err)
	require.True(t, f.index.Has(response.Memory.EmbeddingID))

	require.NoError(t, f.service.DeleteMemory(ctx, response.Memory.ID, "u1"))
	require.False(t, f.index.Has(response.Memory.EmbeddingID))

	_, err = f.service.GetMemory(ctx, response.Memory.ID, "u1")
	require.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestVectorEntriesGauge(t *testing.T) {
	s := teststore.NewStore()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	index := vector.NewMockIndex()
	require.NoError(t, index.EnsureReady(ctx))

	embedder := &fakeEmbedder{vectors: map[string][]float32{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	engine := retrieval.NewEngine(s, index, embedder, metrics, logger)
	service := NewService(s, index, embedder, engine, metrics, logger)

	response, err := service.CreateMemory(ctx, &CreateMemoryRequest{UserID: "u1", Content: "tracked"})
	require.NoError(t, err)
	require.InDelta(t, 1, scrapeGauge(t, metrics, "cortex_vector_entries"), 0.0001)

	require.NoError(t, service.DeleteMemory(ctx, response.Memory.ID, "u1"))
	require.InDelta(t, 0, scrapeGauge(t, metrics, "cortex_vector_entries"), 0.0001)
}

func scrapeGauge(t *testing.T, metrics *observability.Metrics, name string) float64 {
	t.Helper()
	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, line := range strings.Split(recorder.Body.String(), "\n") {
		if strings.HasPrefix(line, name+" ") {
			value, err := strconv.ParseFloat(strings.TrimPrefix(line, name+" "), 64)
			require.NoError(t, err)
			return value
		}
	}
	t.Fatalf("gauge %s not found in metrics output", name)
	return 0
}

func TestDeleteMemoryWrongUser(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	response, err := f.service.CreateMemory(ctx, &CreateMemoryRequest{UserID: "u1", Content: "private"})
	require.NoError(t, err)

	err = f.service.DeleteMemory(ctx, response.Memory.ID, "u2")
	require.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	require.True(t, f.index.Has(response.Memory.EmbeddingID))
}
