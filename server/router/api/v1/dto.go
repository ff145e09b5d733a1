package v1

import (
	"github.com/openclaw/cortex/store"
	"github.com/openclaw/cortex/vector"
)

type createMemoryRequest struct {
	Type              string                `json:"type"`
	Title             string                `json:"title"`
	Content           string                `json:"content"`
	Tags              []string              `json:"tags"`
	Items             []store.ChecklistItem `json:"items"`
	ReminderAt        int64                 `json:"reminderAt"`
	IsPinned          bool                  `json:"isPinned"`
	GenerateEmbedding *bool                 `json:"generateEmbedding"`
}

type updateMemoryRequest struct {
	Type       *string                `json:"type"`
	Title      *string                `json:"title"`
	Content    *string                `json:"content"`
	Tags       *[]string              `json:"tags"`
	Items      *[]store.ChecklistItem `json:"items"`
	ReminderAt *int64                 `json:"reminderAt"`
	IsPinned   *bool                  `json:"isPinned"`
}

type searchRequest struct {
	Query      string        `json:"query"`
	SearchType string        `json:"searchType"`
	Limit      int           `json:"limit"`
	Filters    searchFilters `json:"filters"`
}

type searchFilters struct {
	Type          *string  `json:"type"`
	Tags          []string `json:"tags"`
	TimestampFrom *int64   `json:"timestampFrom"`
	TimestampTo   *int64   `json:"timestampTo"`
}

func (f searchFilters) toFilters() *vector.Filters {
	if f.Type == nil && len(f.Tags) == 0 && f.TimestampFrom == nil && f.TimestampTo == nil {
		return nil
	}
	return &vector.Filters{
		Type:          f.Type,
		Tags:          f.Tags,
		TimestampFrom: f.TimestampFrom,
		TimestampTo:   f.TimestampTo,
	}
}

type memoryResponse struct {
	ID              string                `json:"id"`
	UserID          string                `json:"userId"`
	Type            string                `json:"type"`
	Title           string                `json:"title"`
	Content         string                `json:"content"`
	Tags            []string              `json:"tags"`
	AutoTopics      []string              `json:"autoTopics"`
	Items           []store.ChecklistItem `json:"items,omitempty"`
	EmbeddingID     string                `json:"embeddingId,omitempty"`
	LinkedMemoryIDs []string              `json:"linkedMemoryIds"`
	Timestamp       int64                 `json:"timestamp"`
	ReminderAt      int64                 `json:"reminderAt,omitempty"`
	IsPinned        bool                  `json:"isPinned"`
	CreatedTs       int64                 `json:"createdTs"`
	UpdatedTs       int64                 `json:"updatedTs"`
	LastAccessedTs  int64                 `json:"lastAccessedTs"`
}

type searchResultResponse struct {
	Memory    *memoryResponse `json:"memory"`
	Score     float32         `json:"score"`
	MatchType string          `json:"matchType"`
}

func convertMemory(memory *store.Memory) *memoryResponse {
	if memory == nil {
		return nil
	}
	response := &memoryResponse{
		ID:              memory.ID,
		UserID:          memory.UserID,
		Type:            memory.Type,
		Title:           memory.Title,
		Content:         memory.Content,
		Tags:            memory.Tags,
		AutoTopics:      memory.AutoTopics,
		Items:           memory.Items,
		EmbeddingID:     memory.EmbeddingID,
		LinkedMemoryIDs: memory.LinkedMemoryIDs,
		Timestamp:       memory.Timestamp,
		ReminderAt:      memory.ReminderAt,
		IsPinned:        memory.IsPinned,
		CreatedTs:       memory.CreatedTs,
		UpdatedTs:       memory.UpdatedTs,
		LastAccessedTs:  memory.LastAccessedTs,
	}
	if response.Tags == nil {
		response.Tags = []string{}
	}
	if response.AutoTopics == nil {
		response.AutoTopics = []string{}
	}
	if response.LinkedMemoryIDs == nil {
		response.LinkedMemoryIDs = []string{}
	}
	return response
}
