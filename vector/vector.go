// Package vector provides the vector index gateway used for semantic
// retrieval and automatic memory linking.
package vector

import "context"

// Metadata is the payload stored alongside each vector entry.
type Metadata struct {
	MemoryID  string
	UserID    string
	Type      string
	Tags      []string
	Timestamp int64 // unix millis
}

// Filters narrows a query beyond the mandatory user scope.
// All set fields must match. Tags require every listed tag to be present.
type Filters struct {
	Type          *string
	Tags          []string
	TimestampFrom *int64
	TimestampTo   *int64
}

// QueryResult is a single nearest-neighbor match.
type QueryResult struct {
	ID       string
	Score    float32
	Metadata Metadata
}

// Index is the vector index gateway. Every query is scoped to a single
// user; the backend must never return another user's entries.
type Index interface {
	// EnsureReady provisions the backing index if it does not exist yet.
	// It is called once at startup and must be idempotent.
	EnsureReady(ctx context.Context) error

	// Upsert inserts or replaces the entry with the given external id.
	Upsert(ctx context.Context, id string, embedding []float32, metadata Metadata) error

	// Query returns up to topK nearest neighbors for the user, best first.
	Query(ctx context.Context, embedding []float32, topK int, userID string, filters *Filters) ([]QueryResult, error)

	// Delete removes the entry with the given external id. Deleting a
	// missing entry is not an error.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored entries across all users.
	Count(ctx context.Context) (int, error)
}

func matchesFilters(metadata Metadata, filters *Filters) bool {
	if filters == nil {
		return true
	}
	if filters.Type != nil && metadata.Type != *filters.Type {
		return false
	}
	for _, tag := range filters.Tags {
		if !containsString(metadata.Tags, tag) {
			return false
		}
	}
	if filters.TimestampFrom != nil && metadata.Timestamp < *filters.TimestampFrom {
		return false
	}
	if filters.TimestampTo != nil && metadata.Timestamp > *filters.TimestampTo {
		return false
	}
	return true
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
