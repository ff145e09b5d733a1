package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"
)

// PgvectorIndex stores vectors in a PostgreSQL table using the pgvector
// extension. It shares the connection pool with the record store.
type PgvectorIndex struct {
	db         *sql.DB
	table      string
	dimensions int
}

// NewPgvectorIndex creates a pgvector-backed index. The index name becomes
// the table name, with dashes normalized for SQL identifiers.
func NewPgvectorIndex(db *sql.DB, name string, dimensions int) *PgvectorIndex {
	return &PgvectorIndex{
		db:         db,
		table:      strings.ReplaceAll(name, "-", "_"),
		dimensions: dimensions,
	}
}

func (x *PgvectorIndex) EnsureReady(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			tags JSONB NOT NULL DEFAULT '[]',
			timestamp BIGINT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, x.table, x.dimensions),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_user_id ON %s (user_id)", x.table, x.table),
	}
	for _, stmt := range stmts {
		if _, err := x.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to provision vector table %s", x.table)
		}
	}
	return nil
}

func (x *PgvectorIndex) Upsert(ctx context.Context, id string, embedding []float32, metadata Metadata) error {
	tags, err := json.Marshal(metadata.Tags)
	if err != nil {
		return errors.Wrap(err, "failed to marshal tags")
	}
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, memory_id, user_id, type, tags, timestamp, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			memory_id = EXCLUDED.memory_id,
			user_id = EXCLUDED.user_id,
			type = EXCLUDED.type,
			tags = EXCLUDED.tags,
			timestamp = EXCLUDED.timestamp,
			embedding = EXCLUDED.embedding
	`, x.table)
	if _, err := x.db.ExecContext(ctx, stmt,
		id,
		metadata.MemoryID,
		metadata.UserID,
		metadata.Type,
		string(tags),
		metadata.Timestamp,
		pgvector.NewVector(embedding),
	); err != nil {
		return errors.Wrapf(err, "failed to upsert vector %s", id)
	}
	return nil
}

func (x *PgvectorIndex) Query(ctx context.Context, embedding []float32, topK int, userID string, filters *Filters) ([]QueryResult, error) {
	where := []string{"user_id = $2"}
	args := []any{pgvector.NewVector(embedding), userID}
	if filters != nil {
		if filters.Type != nil {
			args = append(args, *filters.Type)
			where = append(where, fmt.Sprintf("type = $%d", len(args)))
		}
		for _, tag := range filters.Tags {
			value, err := json.Marshal([]string{tag})
			if err != nil {
				return nil, errors.Wrap(err, "failed to marshal tag filter")
			}
			args = append(args, string(value))
			where = append(where, fmt.Sprintf("tags @> $%d", len(args)))
		}
		if filters.TimestampFrom != nil {
			args = append(args, *filters.TimestampFrom)
			where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
		}
		if filters.TimestampTo != nil {
			args = append(args, *filters.TimestampTo)
			where = append(where, fmt.Sprintf("timestamp <= $%d", len(args)))
		}
	}
	args = append(args, topK)

	// Cosine distance via <=>, reported as similarity in [0, 1].
	query := fmt.Sprintf(`
		SELECT id, memory_id, user_id, type, tags, timestamp,
			1 - (embedding <=> $1) AS score
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $%d
	`, x.table, strings.Join(where, " AND "), len(args))

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "vector query failed")
	}
	defer rows.Close()

	results := []QueryResult{}
	for rows.Next() {
		var result QueryResult
		var tags []byte
		if err := rows.Scan(
			&result.ID,
			&result.Metadata.MemoryID,
			&result.Metadata.UserID,
			&result.Metadata.Type,
			&tags,
			&result.Metadata.Timestamp,
			&result.Score,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector match")
		}
		if err := json.Unmarshal(tags, &result.Metadata.Tags); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal tags")
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (x *PgvectorIndex) Count(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", x.table)
	if err := x.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count vectors")
	}
	return count, nil
}

func (x *PgvectorIndex) Delete(ctx context.Context, id string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = $1", x.table)
	if _, err := x.db.ExecContext(ctx, stmt, id); err != nil {
		return errors.Wrapf(err, "failed to delete vector %s", id)
	}
	return nil
}
