// Package retrieval implements semantic, lexical, and hybrid search over
// stored memories, plus nearest-neighbor linking.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openclaw/cortex/ai"
	"github.com/openclaw/cortex/server/internal/errors"
	"github.com/openclaw/cortex/server/internal/observability"
	"github.com/openclaw/cortex/store"
	"github.com/openclaw/cortex/vector"
)

// SearchType selects the retrieval path.
type SearchType string

const (
	SearchTypeSemantic SearchType = "semantic"
	SearchTypeText     SearchType = "text"
	SearchTypeHybrid   SearchType = "hybrid"
)

// IsValidSearchType reports whether t is a known search type.
func IsValidSearchType(t SearchType) bool {
	return t == SearchTypeSemantic || t == SearchTypeText || t == SearchTypeHybrid
}

const (
	defaultLimit = 20
	maxLimit     = 100
	linkTopK     = 5
)

// Request is a search request scoped to one user.
type Request struct {
	UserID     string
	Query      string
	SearchType SearchType
	Limit      int
	Filters    *vector.Filters
}

// Result is a single ranked match.
type Result struct {
	Memory    *store.Memory `json:"memory"`
	Score     float32       `json:"score"`
	MatchType string        `json:"matchType"`
}

// Response is a ranked result page with timing.
type Response struct {
	Results []*Result `json:"results"`
	Total   int       `json:"total"`
	TookMs  int64     `json:"tookMs"`
}

// Engine runs searches against the record store and the vector index.
// The embedder and index may be nil when not configured; semantic paths
// then degrade or fail depending on the search type.
type Engine struct {
	store    *store.Store
	index    vector.Index
	embedder ai.EmbeddingService
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewEngine(s *store.Store, index vector.Index, embedder ai.EmbeddingService, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:    s,
		index:    index,
		embedder: embedder,
		metrics:  metrics,
		logger:   logger,
	}
}

// Search runs the requested retrieval path and returns ranked results.
func (e *Engine) Search(ctx context.Context, request *Request) (*Response, error) {
	start := time.Now()

	if request.UserID == "" {
		return nil, errors.InvalidArgument("user id is required")
	}
	if request.Query == "" {
		return nil, errors.InvalidArgument("query is required")
	}
	if request.SearchType == "" {
		request.SearchType = SearchTypeHybrid
	}
	if !IsValidSearchType(request.SearchType) {
		return nil, errors.InvalidArgument("unknown search type: " + string(request.SearchType))
	}
	if request.Limit <= 0 {
		request.Limit = defaultLimit
	}
	if request.Limit > maxLimit {
		request.Limit = maxLimit
	}

	results, err := e.search(ctx, request)
	if e.metrics != nil {
		e.metrics.ObserveSearch(string(request.SearchType), time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	results = sortAndTruncate(results, request.Limit)
	return &Response{
		Results: results,
		Total:   len(results),
		TookMs:  time.Since(start).Milliseconds(),
	}, nil
}

func (e *Engine) search(ctx context.Context, request *Request) ([]*Result, error) {
	switch request.SearchType {
	case SearchTypeSemantic:
		return e.semanticSearch(ctx, request)
	case SearchTypeText:
		return e.textSearch(ctx, request)
	default:
		return e.hybridSearch(ctx, request)
	}
}

// hybridSearch runs both paths concurrently and merges. A single failed
// path degrades to the other; both failing is an error.
func (e *Engine) hybridSearch(ctx context.Context, request *Request) ([]*Result, error) {
	var (
		semanticResults, textResults []*Result
		semanticErr, textErr         error
	)

	var g errgroup.Group
	g.Go(func() error {
		semanticResults, semanticErr = e.semanticSearch(ctx, request)
		return nil
	})
	g.Go(func() error {
		textResults, textErr = e.textSearch(ctx, request)
		return nil
	})
	_ = g.Wait()

	if semanticErr != nil && textErr != nil {
		return nil, errors.UpstreamFailure("both retrieval paths failed", semanticErr)
	}
	if semanticErr != nil {
		e.logger.WarnContext(ctx, "semantic path degraded", append(observability.LogAttrs(ctx), slog.Any("error", semanticErr))...)
		return textResults, nil
	}
	if textErr != nil {
		e.logger.WarnContext(ctx, "text path degraded", append(observability.LogAttrs(ctx), slog.Any("error", textErr))...)
		return semanticResults, nil
	}
	return mergeResults(semanticResults, textResults), nil
}

func (e *Engine) semanticSearch(ctx context.Context, request *Request) ([]*Result, error) {
	embedding, err := e.embedQuery(ctx, request.Query)
	if err != nil {
		return nil, err
	}
	if e.index == nil {
		return nil, errors.IndexUnavailable(nil)
	}

	matches, err := e.index.Query(ctx, embedding, request.Limit, request.UserID, request.Filters)
	if err != nil {
		return nil, errors.IndexUnavailable(err)
	}

	results := []*Result{}
	for _, match := range matches {
		memory, err := e.store.GetMemory(ctx, match.Metadata.MemoryID, request.UserID)
		if err != nil || memory == nil {
			// Index entries can outlive their records briefly; skip strays.
			continue
		}
		results = append(results, &Result{
			Memory:    memory,
			Score:     match.Score,
			MatchType: string(SearchTypeSemantic),
		})
	}
	return results, nil
}

func (e *Engine) textSearch(ctx context.Context, request *Request) ([]*Result, error) {
	find := &store.FindMemory{
		UserID:       &request.UserID,
		ContainsText: &request.Query,
		Limit:        &request.Limit,
	}
	if request.Filters != nil && request.Filters.Type != nil {
		find.Type = request.Filters.Type
	}

	memories, err := e.store.ListMemories(ctx, find)
	if err != nil {
		return nil, errors.UpstreamFailure("text search failed", err)
	}

	results := []*Result{}
	for _, memory := range memories {
		results = append(results, &Result{
			Memory:    memory,
			Score:     lexicalScore(memory.Title, memory.Content, request.Query),
			MatchType: string(SearchTypeText),
		})
	}
	return results, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if e.embedder == nil {
		return nil, errors.EmbeddingUnavailable(nil)
	}
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.EmbeddingUnavailable(err)
	}
	return embedding, nil
}

// LinkRelated returns the ids of up to five stored memories most similar
// to the given embedding, excluding the memory itself.
func (e *Engine) LinkRelated(ctx context.Context, memoryID, userID string, embedding []float32) ([]string, error) {
	if e.index == nil {
		return nil, errors.IndexUnavailable(nil)
	}
	matches, err := e.index.Query(ctx, embedding, linkTopK, userID, nil)
	if err != nil {
		return nil, errors.IndexUnavailable(err)
	}

	linked := []string{}
	for _, match := range matches {
		if match.Metadata.MemoryID == memoryID {
			continue
		}
		linked = append(linked, match.Metadata.MemoryID)
	}
	return linked, nil
}

// mergeResults fuses the two ranked lists. A memory found by both paths
// gets the arithmetic mean of its scores and is marked hybrid.
func mergeResults(semantic, text []*Result) []*Result {
	merged := make([]*Result, 0, len(semantic)+len(text))
	byID := make(map[string]*Result, len(semantic))
	for _, result := range semantic {
		byID[result.Memory.ID] = result
		merged = append(merged, result)
	}
	for _, result := range text {
		if existing, ok := byID[result.Memory.ID]; ok {
			existing.Score = (existing.Score + result.Score) / 2
			existing.MatchType = string(SearchTypeHybrid)
			continue
		}
		merged = append(merged, result)
	}
	return merged
}

func sortAndTruncate(results []*Result, limit int) []*Result {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
