package retrieval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openclaw/cortex/server/internal/errors"
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

type engineFixture struct {
	engine   *Engine
	store    *store.Store
	index    *vector.MockIndex
	embedder *fakeEmbedder
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	s := teststore.NewStore()
	t.Cleanup(func() { _ = s.Close() })

	index := vector.NewMockIndex()
	require.NoError(t, index.EnsureReady(context.Background()))

	embedder := &fakeEmbedder{vectors: map[string][]float32{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &engineFixture{
		engine:   NewEngine(s, index, embedder, nil, logger),
		store:    s,
		index:    index,
		embedder: embedder,
	}
}

func (f *engineFixture) seedMemory(t *testing.T, id, userID, title, content string, embedding []float32) *store.Memory {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UnixMilli()
	memory, err := f.store.CreateMemory(ctx, &store.Memory{
		ID:        id,
		UserID:    userID,
		Type:      store.MemoryTypeNote,
		Title:     title,
		Content:   content,
		Timestamp: now,
		CreatedTs: now,
		UpdatedTs: now,
	})
	require.NoError(t, err)
	if embedding != nil {
		require.NoError(t, f.index.Upsert(ctx, "emb_"+id, embedding, vector.Metadata{
			MemoryID:  id,
			UserID:    userID,
			Type:      store.MemoryTypeNote,
			Timestamp: now,
		}))
	}
	return memory
}

func TestSearchValidation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Search(ctx, &Request{UserID: "u1", Query: ""})
	require.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))

	_, err = f.engine.Search(ctx, &Request{UserID: "", Query: "x"})
	require.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))

	_, err = f.engine.Search(ctx, &Request{UserID: "u1", Query: "x", SearchType: "fuzzy"})
	require.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}

func TestTextSearch(t *testing.T) {
	f := newEngineFixture(t)
	f.seedMemory(t, "m1", "u1", "coffee brewing", "grind size and water", nil)
	f.seedMemory(t, "m2", "u1", "tea ceremony", "a cup of coffee after", nil)
	f.seedMemory(t, "m3", "u1", "gardening", "tomatoes and basil", nil)

	response, err := f.engine.Search(context.Background(), &Request{
		UserID:     "u1",
		Query:      "coffee",
		SearchType: SearchTypeText,
	})
	require.NoError(t, err)
	require.Len(t, response.Results, 2)
	require.Equal(t, "m1", response.Results[0].Memory.ID)
	require.InDelta(t, 0.8, response.Results[0].Score, 0.0001)
	require.Equal(t, "text", response.Results[0].MatchType)
	require.Equal(t, "m2", response.Results[1].Memory.ID)
	require.InDelta(t, 0.5, response.Results[1].Score, 0.0001)
	require.GreaterOrEqual(t, response.TookMs, int64(0))
}

func TestSemanticSearchUserIsolation(t *testing.T) {
	f := newEngineFixture(t)
	f.embedder.vectors["coffee"] = []float32{1, 0, 0}
	f.seedMemory(t, "m1", "u1", "espresso", "own note", []float32{1, 0, 0})
	f.seedMemory(t, "m2", "u2", "espresso", "someone else's note", []float32{1, 0, 0})

	response, err := f.engine.Search(context.Background(), &Request{
		UserID:     "u1",
		Query:      "coffee",
		SearchType: SearchTypeSemantic,
	})
	require.NoError(t, err)
	require.Len(t, response.Results, 1)
	require.Equal(t, "m1", response.Results[0].Memory.ID)
	require.Equal(t, "semantic", response.Results[0].MatchType)
}

func TestHybridMergesScores(t *testing.T) {
	f := newEngineFixture(t)
	f.embedder.vectors["coffee"] = []float32{0.8, 0.6, 0}
	// Lexical score 1.0 (title + content), semantic score 0.8.
	f.seedMemory(t, "m1", "u1", "coffee brewing", "coffee beans", []float32{1, 0, 0})

	response, err := f.engine.Search(context.Background(), &Request{
		UserID: "u1",
		Query:  "coffee",
	})
	require.NoError(t, err)
	require.Len(t, response.Results, 1)
	require.Equal(t, "hybrid", response.Results[0].MatchType)
	require.InDelta(t, 0.9, response.Results[0].Score, 0.001)
}

func TestHybridKeepsSinglePathResults(t *testing.T) {
	f := newEngineFixture(t)
	f.embedder.vectors["coffee"] = []float32{1, 0, 0}
	// Semantic only: no lexical overlap with the query.
	f.seedMemory(t, "m1", "u1", "morning ritual", "espresso shots", []float32{1, 0, 0})
	// Text only: no vector entry.
	f.seedMemory(t, "m2", "u1", "coffee shops", "places to visit", nil)

	response, err := f.engine.Search(context.Background(), &Request{
		UserID: "u1",
		Query:  "coffee",
	})
	require.NoError(t, err)
	require.Len(t, response.Results, 2)

	matchTypes := map[string]string{}
	for _, result := range response.Results {
		matchTypes[result.Memory.ID] = result.MatchType
	}
	require.Equal(t, "semantic", matchTypes["m1"])
	require.Equal(t, "text", matchTypes["m2"])
}

func TestHybridDegradesWhenIndexFails(t *testing.T) {
	f := newEngineFixture(t)
	f.seedMemory(t, "m1", "u1", "coffee brewing", "notes", nil)
	f.index.FailQueries = true

	response, err := f.engine.Search(context.Background(), &Request{
		UserID: "u1",
		Query:  "coffee",
	})
	require.NoError(t, err)
	require.Len(t, response.Results, 1)
	require.Equal(t, "text", response.Results[0].MatchType)
}

func TestSemanticSearchFailsWhenIndexUnavailable(t *testing.T) {
	f := newEngineFixture(t)
	f.index.FailQueries = true

	_, err := f.engine.Search(context.Background(), &Request{
		UserID:     "u1",
		Query:      "coffee",
		SearchType: SearchTypeSemantic,
	})
	require.True(t, errors.IsCode(err, errors.ErrCodeIndexUnavailable))
}

func TestHybridDegradesWhenEmbeddingFails(t *testing.T) {
	f := newEngineFixture(t)
	f.seedMemory(t, "m1", "u1", "coffee brewing", "notes", nil)
	f.embedder.err = context.DeadlineExceeded

	response, err := f.engine.Search(context.Background(), &Request{
		UserID: "u1",
		Query:  "coffee",
	})
	require.NoError(t, err)
	require.Len(t, response.Results, 1)
	require.Equal(t, "text", response.Results[0].MatchType)
}

func TestSearchOrderingAndTruncation(t *testing.T) {
	f := newEngineFixture(t)
	f.seedMemory(t, "m1", "u1", "coffee", "coffee", nil)        // 1.0
	f.seedMemory(t, "m2", "u1", "coffee brewing", "other", nil) // 0.8
	f.seedMemory(t, "m3", "u1", "other", "about coffee", nil)   // 0.5

	response, err := f.engine.Search(context.Background(), &Request{
		UserID:     "u1",
		Query:      "coffee",
		SearchType: SearchTypeText,
		Limit:      2,
	})
	require.NoError(t, err)
	require.Len(t, response.Results, 2)
	require.Equal(t, 2, response.Total)
	require.GreaterOrEqual(t, response.Results[0].Score, response.Results[1].Score)
	require.Equal(t, "m1", response.Results[0].Memory.ID)
	require.Equal(t, "m2", response.Results[1].Memory.ID)
}

func TestSearchDefaultLimit(t *testing.T) {
	f := newEngineFixture(t)
	for i := 0; i < 25; i++ {
		f.seedMemory(t, fmt.Sprintf("m%d", i), "u1", "coffee brewing", "notes", nil)
	}

	response, err := f.engine.Search(context.Background(), &Request{
		UserID:     "u1",
		Query:      "coffee",
		SearchType: SearchTypeText,
	})
	require.NoError(t, err)
	require.Len(t, response.Results, 20)
}

func TestLinkRelatedExcludesSelf(t *testing.T) {
	f := newEngineFixture(t)
	f.seedMemory(t, "m1", "u1", "espresso", "notes", []float32{1, 0, 0})
	f.seedMemory(t, "m2", "u1", "latte", "notes", []float32{0.9, 0.1, 0})
	f.seedMemory(t, "m3", "u2", "espresso", "notes", []float32{1, 0, 0})

	linked, err := f.engine.LinkRelated(context.Background(), "m1", "u1", []float32{1, 0, 0})
	require.NoError(t, err)
	require.Equal(t, []string{"m2"}, linked)
}
