package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Schema version bookkeeping, used by the migrator.
	GetSchemaVersion(ctx context.Context) (string, error)
	UpsertSchemaVersion(ctx context.Context, version string) error

	// Memory model related methods.
	CreateMemory(ctx context.Context, create *Memory) (*Memory, error)
	ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error)
	CountMemories(ctx context.Context, find *FindMemory) (int, error)
	UpdateMemory(ctx context.Context, update *UpdateMemory) (*Memory, error)
	DeleteMemory(ctx context.Context, delete *DeleteMemory) error
	TouchMemory(ctx context.Context, id string, accessedTs int64) error
}
