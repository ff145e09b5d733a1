package store

import (
	"context"

	"github.com/pkg/errors"
)

// Memory type constants.
const (
	MemoryTypeNote      = "note"
	MemoryTypeTask      = "task"
	MemoryTypeChecklist = "checklist"
	MemoryTypeReminder  = "reminder"
)

// IsValidMemoryType reports whether t is a recognized memory type.
func IsValidMemoryType(t string) bool {
	switch t {
	case MemoryTypeNote, MemoryTypeTask, MemoryTypeChecklist, MemoryTypeReminder:
		return true
	}
	return false
}

// ChecklistItem is a single entry of a checklist memory.
type ChecklistItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Memory represents a user-owned content unit: a note, task, checklist or reminder.
type Memory struct {
	ID     string
	UserID string
	Type   string
	Title  string
	// Content is the primary searchable field.
	Content    string
	Tags       []string
	AutoTopics []string
	Items      []ChecklistItem

	// EmbeddingID references the entry stored for this memory in the vector
	// index. Empty if embedding generation was skipped or failed.
	EmbeddingID string
	// LinkedMemoryIDs are memories discovered as semantically related at
	// creation/update time. Advisory only: referenced memories may have been
	// deleted since.
	LinkedMemoryIDs []string

	// Timestamp is the creation instant in epoch milliseconds, the default
	// sort key for listings.
	Timestamp      int64
	ReminderAt     int64 // epoch milliseconds, 0 means no reminder
	IsPinned       bool
	CreatedTs      int64
	UpdatedTs      int64
	LastAccessedTs int64
}

// FindMemory is the find condition for memories.
type FindMemory struct {
	ID     *string
	UserID *string
	Type   *string

	// ContainsText matches memories whose title or content contains the text
	// case-insensitively.
	ContainsText *string

	Limit  *int
	Offset *int

	// PinnedFirst orders pinned memories before unpinned ones. Within each
	// group ordering is by Timestamp descending.
	PinnedFirst bool
}

// UpdateMemory is the update condition for a memory. Nil fields are left unchanged.
type UpdateMemory struct {
	ID     string
	UserID string

	Type            *string
	Title           *string
	Content         *string
	Tags            *[]string
	AutoTopics      *[]string
	Items           *[]ChecklistItem
	EmbeddingID     *string
	LinkedMemoryIDs *[]string
	ReminderAt      *int64
	IsPinned        *bool
	UpdatedTs       *int64
}

// DeleteMemory is the delete condition for a memory.
type DeleteMemory struct {
	ID     string
	UserID string
}

func (s *Store) CreateMemory(ctx context.Context, create *Memory) (*Memory, error) {
	if create.Content == "" {
		return nil, errors.New("content cannot be empty")
	}
	if !IsValidMemoryType(create.Type) {
		return nil, errors.Errorf("invalid memory type: %s", create.Type)
	}
	memory, err := s.driver.CreateMemory(ctx, create)
	if err != nil {
		return nil, err
	}
	s.memoryCache.Set(ctx, memory.ID, memory)
	return memory, nil
}

// GetMemory returns the memory with the given id owned by userID, or nil if
// it does not exist.
func (s *Store) GetMemory(ctx context.Context, id, userID string) (*Memory, error) {
	if cached, ok := s.memoryCache.Get(ctx, id); ok {
		if memory, ok := cached.(*Memory); ok && memory.UserID == userID {
			return memory, nil
		}
	}
	list, err := s.driver.ListMemories(ctx, &FindMemory{ID: &id, UserID: &userID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	s.memoryCache.Set(ctx, list[0].ID, list[0])
	return list[0], nil
}

func (s *Store) ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error) {
	return s.driver.ListMemories(ctx, find)
}

func (s *Store) CountMemories(ctx context.Context, find *FindMemory) (int, error) {
	return s.driver.CountMemories(ctx, find)
}

func (s *Store) UpdateMemory(ctx context.Context, update *UpdateMemory) (*Memory, error) {
	memory, err := s.driver.UpdateMemory(ctx, update)
	if err != nil {
		return nil, err
	}
	s.memoryCache.Set(ctx, memory.ID, memory)
	return memory, nil
}

func (s *Store) DeleteMemory(ctx context.Context, delete *DeleteMemory) error {
	if err := s.driver.DeleteMemory(ctx, delete); err != nil {
		return err
	}
	s.memoryCache.Delete(ctx, delete.ID)
	return nil
}

// TouchMemory updates the last-accessed timestamp of a memory. Best effort:
// callers may ignore the returned error.
func (s *Store) TouchMemory(ctx context.Context, id string, accessedTs int64) error {
	s.memoryCache.Delete(ctx, id)
	return s.driver.TouchMemory(ctx, id, accessedTs)
}
