package vector

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/pkg/errors"
)

// ChromemIndex is the embedded vector index backend. State persists under
// the data directory, so no external service is required.
type ChromemIndex struct {
	path string
	name string

	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemIndex creates an embedded index stored under dataDir.
func NewChromemIndex(dataDir, name string) *ChromemIndex {
	return &ChromemIndex{
		path: filepath.Join(dataDir, "vector"),
		name: name,
	}
}

func (x *ChromemIndex) EnsureReady(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.collection != nil {
		return nil
	}

	db, err := chromem.NewPersistentDB(x.path, false)
	if err != nil {
		return errors.Wrapf(err, "failed to open vector store at %s", x.path)
	}
	// All vectors are computed upstream, so the collection never embeds
	// on its own.
	collection, err := db.GetOrCreateCollection(x.name, nil, rejectEmbedding)
	if err != nil {
		return errors.Wrapf(err, "failed to create collection %s", x.name)
	}
	x.db = db
	x.collection = collection
	return nil
}

func (x *ChromemIndex) Upsert(ctx context.Context, id string, embedding []float32, metadata Metadata) error {
	collection, err := x.ready()
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        id,
		Embedding: embedding,
		Content:   metadata.MemoryID,
		Metadata:  encodeMetadata(metadata),
	}
	if err := collection.AddDocument(ctx, doc); err != nil {
		return errors.Wrapf(err, "failed to upsert vector %s", id)
	}
	return nil
}

func (x *ChromemIndex) Query(ctx context.Context, embedding []float32, topK int, userID string, filters *Filters) ([]QueryResult, error) {
	collection, err := x.ready()
	if err != nil {
		return nil, err
	}

	where := map[string]string{"user_id": userID}
	if filters != nil && filters.Type != nil {
		where["type"] = *filters.Type
	}

	// chromem rejects nResults beyond the collection size, and tag or
	// time constraints are applied after the fact, so oversample.
	n := topK * 4
	if count := collection.Count(); n > count {
		n = count
	}
	if n == 0 {
		return []QueryResult{}, nil
	}

	matches, err := collection.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		return nil, errors.Wrap(err, "vector query failed")
	}

	results := []QueryResult{}
	for _, match := range matches {
		metadata := decodeMetadata(match.Metadata, match.Content)
		if metadata.UserID != userID || !matchesFilters(metadata, filters) {
			continue
		}
		results = append(results, QueryResult{
			ID:       match.ID,
			Score:    match.Similarity,
			Metadata: metadata,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

func (x *ChromemIndex) Delete(ctx context.Context, id string) error {
	collection, err := x.ready()
	if err != nil {
		return err
	}
	if err := collection.Delete(ctx, nil, nil, id); err != nil {
		return errors.Wrapf(err, "failed to delete vector %s", id)
	}
	return nil
}

func (x *ChromemIndex) Count(ctx context.Context) (int, error) {
	collection, err := x.ready()
	if err != nil {
		return 0, err
	}
	return collection.Count(), nil
}

func (x *ChromemIndex) ready() (*chromem.Collection, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.collection == nil {
		return nil, errors.New("vector index not provisioned")
	}
	return x.collection, nil
}

func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("collection-side embedding is disabled")
}

func encodeMetadata(metadata Metadata) map[string]string {
	tags, _ := json.Marshal(metadata.Tags)
	return map[string]string{
		"memory_id": metadata.MemoryID,
		"user_id":   metadata.UserID,
		"type":      metadata.Type,
		"tags":      string(tags),
		"timestamp": strconv.FormatInt(metadata.Timestamp, 10),
	}
}

func decodeMetadata(raw map[string]string, fallbackMemoryID string) Metadata {
	metadata := Metadata{
		MemoryID: raw["memory_id"],
		UserID:   raw["user_id"],
		Type:     raw["type"],
	}
	if metadata.MemoryID == "" {
		metadata.MemoryID = fallbackMemoryID
	}
	if raw["tags"] != "" {
		_ = json.Unmarshal([]byte(raw["tags"]), &metadata.Tags)
	}
	metadata.Timestamp, _ = strconv.ParseInt(raw["timestamp"], 10, 64)
	return metadata
}
