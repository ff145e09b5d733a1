// Package teststore provides an in-memory store driver for tests.
package teststore

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/openclaw/cortex/internal/profile"
	"github.com/openclaw/cortex/store"
)

// NewStore returns a Store backed by an in-memory driver.
func NewStore() *store.Store {
	return store.New(NewDriver(), &profile.Profile{Mode: "demo", Driver: "sqlite"})
}

// Driver is an in-memory implementation of store.Driver. It mirrors the
// filtering and ordering semantics of the SQL drivers.
type Driver struct {
	mu            sync.RWMutex
	memories      map[string]*store.Memory
	schemaVersion string
}

func NewDriver() *Driver {
	return &Driver{memories: make(map[string]*store.Memory)}
}

func (d *Driver) GetDB() *sql.DB { return nil }

func (d *Driver) Close() error { return nil }

func (d *Driver) IsInitialized(ctx context.Context) (bool, error) { return true, nil }

func (d *Driver) GetSchemaVersion(ctx context.Context) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.schemaVersion, nil
}

func (d *Driver) UpsertSchemaVersion(ctx context.Context, version string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schemaVersion = version
	return nil
}

func (d *Driver) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copied := *create
	d.memories[create.ID] = &copied
	return create, nil
}

func (d *Driver) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.Memory{}
	for _, memory := range d.memories {
		if matches(memory, find) {
			copied := *memory
			list = append(list, &copied)
		}
	}

	sort.SliceStable(list, func(i, j int) bool {
		if find.PinnedFirst && list[i].IsPinned != list[j].IsPinned {
			return list[i].IsPinned
		}
		return list[i].Timestamp > list[j].Timestamp
	})

	if find.Offset != nil {
		if *find.Offset >= len(list) {
			return []*store.Memory{}, nil
		}
		list = list[*find.Offset:]
	}
	if find.Limit != nil && len(list) > *find.Limit {
		list = list[:*find.Limit]
	}
	return list, nil
}

func (d *Driver) CountMemories(ctx context.Context, find *store.FindMemory) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	count := 0
	for _, memory := range d.memories {
		if matches(memory, find) {
			count++
		}
	}
	return count, nil
}

func (d *Driver) UpdateMemory(ctx context.Context, update *store.UpdateMemory) (*store.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	memory, ok := d.memories[update.ID]
	if !ok || memory.UserID != update.UserID {
		return nil, errors.Errorf("memory %s not found", update.ID)
	}

	if update.Type != nil {
		memory.Type = *update.Type
	}
	if update.Title != nil {
		memory.Title = *update.Title
	}
	if update.Content != nil {
		memory.Content = *update.Content
	}
	if update.Tags != nil {
		memory.Tags = *update.Tags
	}
	if update.AutoTopics != nil {
		memory.AutoTopics = *update.AutoTopics
	}
	if update.Items != nil {
		memory.Items = *update.Items
	}
	if update.EmbeddingID != nil {
		memory.EmbeddingID = *update.EmbeddingID
	}
	if update.LinkedMemoryIDs != nil {
		memory.LinkedMemoryIDs = *update.LinkedMemoryIDs
	}
	if update.ReminderAt != nil {
		memory.ReminderAt = *update.ReminderAt
	}
	if update.IsPinned != nil {
		memory.IsPinned = *update.IsPinned
	}
	if update.UpdatedTs != nil {
		memory.UpdatedTs = *update.UpdatedTs
	}

	copied := *memory
	return &copied, nil
}

func (d *Driver) DeleteMemory(ctx context.Context, del *store.DeleteMemory) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	memory, ok := d.memories[del.ID]
	if !ok || memory.UserID != del.UserID {
		return errors.Errorf("memory %s not found", del.ID)
	}
	delete(d.memories, del.ID)
	return nil
}

func (d *Driver) TouchMemory(ctx context.Context, id string, accessedTs int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if memory, ok := d.memories[id]; ok {
		memory.LastAccessedTs = accessedTs
	}
	return nil
}

func matches(memory *store.Memory, find *store.FindMemory) bool {
	if find.ID != nil && memory.ID != *find.ID {
		return false
	}
	if find.UserID != nil && memory.UserID != *find.UserID {
		return false
	}
	if find.Type != nil && memory.Type != *find.Type {
		return false
	}
	if find.ContainsText != nil {
		q := strings.ToLower(*find.ContainsText)
		if !strings.Contains(strings.ToLower(memory.Title), q) &&
			!strings.Contains(strings.ToLower(memory.Content), q) {
			return false
		}
	}
	return true
}
