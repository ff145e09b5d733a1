// Package memorysvc implements the memory lifecycle: create, read, list,
// update, and delete, with best-effort embedding and automatic linking.
package memorysvc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/openclaw/cortex/ai"
	"github.com/openclaw/cortex/server/internal/errors"
	"github.com/openclaw/cortex/server/internal/observability"
	"github.com/openclaw/cortex/server/retrieval"
	"github.com/openclaw/cortex/store"
	"github.com/openclaw/cortex/vector"
)

// Service coordinates the record store, the embedding provider, and the
// vector index. The record store is the source of truth: a memory exists
// once its record is persisted, embedding or not.
type Service struct {
	store    *store.Store
	index    vector.Index
	embedder ai.EmbeddingService
	engine   *retrieval.Engine
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewService(s *store.Store, index vector.Index, embedder ai.EmbeddingService, engine *retrieval.Engine, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:    s,
		index:    index,
		embedder: embedder,
		engine:   engine,
		metrics:  metrics,
		logger:   logger,
	}
}

// CreateMemoryRequest carries the fields of a new memory.
type CreateMemoryRequest struct {
	UserID     string
	Type       string
	Title      string
	Content    string
	Tags       []string
	Items      []store.ChecklistItem
	ReminderAt int64
	IsPinned   bool

	// GenerateEmbedding defaults to true when nil.
	GenerateEmbedding *bool
}

// CreateMemoryResponse returns the persisted memory and snapshots of the
// memories it was linked to.
type CreateMemoryResponse struct {
	Memory          *store.Memory
	RelatedMemories []*store.Memory
}

// CreateMemory persists the record first, then embeds, indexes, and links
// it. Embedding and linking are enhancements: their failure never fails
// the create.
func (s *Service) CreateMemory(ctx context.Context, request *CreateMemoryRequest) (*CreateMemoryResponse, error) {
	if request.UserID == "" {
		return nil, errors.InvalidArgument("user id is required")
	}
	if strings.TrimSpace(request.Content) == "" {
		return nil, errors.InvalidArgument("content is required")
	}
	if request.Type == "" {
		request.Type = store.MemoryTypeNote
	}
	if !store.IsValidMemoryType(request.Type) {
		return nil, errors.InvalidArgument("invalid memory type: " + request.Type)
	}

	now := time.Now().UnixMilli()
	memory := &store.Memory{
		ID:              uuid.NewString(),
		UserID:          request.UserID,
		Type:            request.Type,
		Title:           request.Title,
		Content:         request.Content,
		Tags:            request.Tags,
		AutoTopics:      []string{},
		Items:           request.Items,
		LinkedMemoryIDs: []string{},
		Timestamp:       now,
		ReminderAt:      request.ReminderAt,
		IsPinned:        request.IsPinned,
		CreatedTs:       now,
		UpdatedTs:       now,
		LastAccessedTs:  now,
	}

	memory, err := s.store.CreateMemory(ctx, memory)
	if err != nil {
		s.observe(ctx, "create", err)
		return nil, errors.UpstreamFailure("failed to create memory", err)
	}

	if s.shouldEmbed(request.GenerateEmbedding) {
		if enriched := s.embedAndLink(ctx, memory); enriched != nil {
			memory = enriched
		}
	}
	s.observe(ctx, "create", nil)

	return &CreateMemoryResponse{
		Memory:          memory,
		RelatedMemories: s.loadRelated(ctx, memory),
	}, nil
}

// GetMemory returns the memory and touches its last-accessed timestamp.
func (s *Service) GetMemory(ctx context.Context, id, userID string) (*store.Memory, error) {
	memory, err := s.store.GetMemory(ctx, id, userID)
	if err != nil {
		s.observe(ctx, "get", err)
		return nil, errors.UpstreamFailure("failed to get memory", err)
	}
	if memory == nil {
		s.observe(ctx, "get", errors.NotFound(""))
		return nil, errors.NotFound("memory not found: " + id)
	}

	if err := s.store.TouchMemory(ctx, id, time.Now().UnixMilli()); err != nil {
		s.logger.WarnContext(ctx, "failed to touch memory", append(observability.LogAttrs(ctx), slog.String("memory_id", id), slog.Any("error", err))...)
	}
	s.observe(ctx, "get", nil)
	return memory, nil
}

// ListMemoriesRequest narrows and pages a listing.
type ListMemoriesRequest struct {
	UserID string
	Type   *string
	Limit  int
	Offset int
}

// ListMemoriesResponse is one page plus the total match count.
type ListMemoriesResponse struct {
	Memories []*store.Memory
	Total    int
}

// ListMemories returns the user's memories, pinned first, newest first
// within each group.
func (s *Service) ListMemories(ctx context.Context, request *ListMemoriesRequest) (*ListMemoriesResponse, error) {
	if request.UserID == "" {
		return nil, errors.InvalidArgument("user id is required")
	}
	if request.Type != nil && !store.IsValidMemoryType(*request.Type) {
		return nil, errors.InvalidArgument("invalid memory type: " + *request.Type)
	}
	if request.Limit <= 0 {
		request.Limit = 50
	}

	find := &store.FindMemory{
		UserID:      &request.UserID,
		Type:        request.Type,
		Limit:       &request.Limit,
		PinnedFirst: true,
	}
	if request.Offset > 0 {
		find.Offset = &request.Offset
	}

	memories, err := s.store.ListMemories(ctx, find)
	if err != nil {
		s.observe(ctx, "list", err)
		return nil, errors.UpstreamFailure("failed to list memories", err)
	}
	total, err := s.store.CountMemories(ctx, &store.FindMemory{UserID: &request.UserID, Type: request.Type})
	if err != nil {
		s.observe(ctx, "list", err)
		return nil, errors.UpstreamFailure("failed to count memories", err)
	}
	s.observe(ctx, "list", nil)
	return &ListMemoriesResponse{Memories: memories, Total: total}, nil
}

// UpdateMemoryRequest carries partial updates. Nil fields are unchanged.
type UpdateMemoryRequest struct {
	ID     string
	UserID string

	Type       *string
	Title      *string
	Content    *string
	Tags       *[]string
	Items      *[]store.ChecklistItem
	ReminderAt *int64
	IsPinned   *bool
}

// UpdateMemory applies the changes and, when the content changed,
// refreshes the embedding and recomputes links.
func (s *Service) UpdateMemory(ctx context.Context, request *UpdateMemoryRequest) (*store.Memory, error) {
	if request.UserID == "" {
		return nil, errors.InvalidArgument("user id is required")
	}
	if request.Type != nil && !store.IsValidMemoryType(*request.Type) {
		return nil, errors.InvalidArgument("invalid memory type: " + *request.Type)
	}
	if request.Content != nil && strings.TrimSpace(*request.Content) == "" {
		return nil, errors.InvalidArgument("content cannot be empty")
	}

	existing, err := s.store.GetMemory(ctx, request.ID, request.UserID)
	if err != nil {
		s.observe(ctx, "update", err)
		return nil, errors.UpstreamFailure("failed to get memory", err)
	}
	if existing == nil {
		s.observe(ctx, "update", errors.NotFound(""))
		return nil, errors.NotFound("memory not found: " + request.ID)
	}

	now := time.Now().UnixMilli()
	update := &store.UpdateMemory{
		ID:         request.ID,
		UserID:     request.UserID,
		Type:       request.Type,
		Title:      request.Title,
		Content:    request.Content,
		Tags:       request.Tags,
		Items:      request.Items,
		ReminderAt: request.ReminderAt,
		IsPinned:   request.IsPinned,
		UpdatedTs:  &now,
	}

	memory, err := s.store.UpdateMemory(ctx, update)
	if err != nil {
		s.observe(ctx, "update", err)
		return nil, errors.UpstreamFailure("failed to update memory", err)
	}

	contentChanged := request.Content != nil && *request.Content != existing.Content
	if contentChanged {
		if enriched := s.embedAndLink(ctx, memory); enriched != nil {
			memory = enriched
		}
	}
	s.observe(ctx, "update", nil)
	return memory, nil
}

// DeleteMemory removes the vector entry first, then the record. A failed
// vector removal is logged and does not block record deletion.
func (s *Service) DeleteMemory(ctx context.Context, id, userID string) error {
	memory, err := s.store.GetMemory(ctx, id, userID)
	if err != nil {
		s.observe(ctx, "delete", err)
		return errors.UpstreamFailure("failed to get memory", err)
	}
	if memory == nil {
		s.observe(ctx, "delete", errors.NotFound(""))
		return errors.NotFound("memory not found: " + id)
	}

	if memory.EmbeddingID != "" && s.index != nil {
		if err := s.index.Delete(ctx, memory.EmbeddingID); err != nil {
			s.logger.WarnContext(ctx, "failed to delete vector entry", append(observability.LogAttrs(ctx), slog.String("embedding_id", memory.EmbeddingID), slog.Any("error", err))...)
		}
		s.refreshVectorGauge(ctx)
	}

	if err := s.store.DeleteMemory(ctx, &store.DeleteMemory{ID: id, UserID: userID}); err != nil {
		s.observe(ctx, "delete", err)
		return errors.UpstreamFailure("failed to delete memory", err)
	}
	s.observe(ctx, "delete", nil)
	return nil
}

func (s *Service) shouldEmbed(generateEmbedding *bool) bool {
	if s.embedder == nil || s.index == nil {
		return false
	}
	return generateEmbedding == nil || *generateEmbedding
}

// embedAndLink embeds the memory text, upserts it into the vector index,
// computes links, and writes the embedding reference back to the record.
// Returns the refreshed record, or nil if any step failed.
func (s *Service) embedAndLink(ctx context.Context, memory *store.Memory) *store.Memory {
	text := strings.TrimSpace(memory.Title + " " + memory.Content)
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.warnEnrichment(ctx, memory.ID, "embedding failed", err)
		return nil
	}

	embeddingID := memory.EmbeddingID
	if embeddingID == "" {
		embeddingID = "emb_" + shortuuid.New()
	}
	metadata := vector.Metadata{
		MemoryID:  memory.ID,
		UserID:    memory.UserID,
		Type:      memory.Type,
		Tags:      memory.Tags,
		Timestamp: memory.Timestamp,
	}
	if err := s.index.Upsert(ctx, embeddingID, embedding, metadata); err != nil {
		s.warnEnrichment(ctx, memory.ID, "vector upsert failed", err)
		return nil
	}
	s.refreshVectorGauge(ctx)

	linked, err := s.engine.LinkRelated(ctx, memory.ID, memory.UserID, embedding)
	if err != nil {
		s.warnEnrichment(ctx, memory.ID, "linking failed", err)
		linked = []string{}
	}

	now := time.Now().UnixMilli()
	updated, err := s.store.UpdateMemory(ctx, &store.UpdateMemory{
		ID:              memory.ID,
		UserID:          memory.UserID,
		EmbeddingID:     &embeddingID,
		LinkedMemoryIDs: &linked,
		UpdatedTs:       &now,
	})
	if err != nil {
		s.warnEnrichment(ctx, memory.ID, "failed to store embedding reference", err)
		return nil
	}
	return updated
}

func (s *Service) loadRelated(ctx context.Context, memory *store.Memory) []*store.Memory {
	related := []*store.Memory{}
	for _, id := range memory.LinkedMemoryIDs {
		linked, err := s.store.GetMemory(ctx, id, memory.UserID)
		if err != nil || linked == nil {
			continue
		}
		related = append(related, linked)
	}
	return related
}

func (s *Service) refreshVectorGauge(ctx context.Context) {
	if s.metrics == nil || s.index == nil {
		return
	}
	if count, err := s.index.Count(ctx); err == nil {
		s.metrics.SetVectorEntries(count)
	}
}

func (s *Service) warnEnrichment(ctx context.Context, memoryID, message string, err error) {
	s.logger.WarnContext(ctx, message, append(observability.LogAttrs(ctx), slog.String("memory_id", memoryID), slog.Any("error", err))...)
}

func (s *Service) observe(ctx context.Context, operation string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOperation(operation, err)
	if err != nil {
		s.metrics.CountError(string(errors.GetCodeFromError(err, errors.ErrCodeUpstreamFailure)))
	}
}
