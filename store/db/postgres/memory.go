package postgres

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/openclaw/cortex/store"
)

func (d *DB) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	tags, autoTopics, items, linkedIDs, err := marshalMemoryLists(create)
	if err != nil {
		return nil, err
	}

	stmt := `
		INSERT INTO memory (
			id, user_id, type, title, content, tags, auto_topics, items,
			embedding_id, linked_memory_ids, timestamp, reminder_at, is_pinned,
			created_ts, updated_ts, last_accessed_ts
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.UserID,
		create.Type,
		create.Title,
		create.Content,
		tags,
		autoTopics,
		items,
		create.EmbeddingID,
		linkedIDs,
		create.Timestamp,
		create.ReminderAt,
		create.IsPinned,
		create.CreatedTs,
		create.UpdatedTs,
		create.LastAccessedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create memory")
	}
	return create, nil
}

func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	where, args := buildMemoryWhere(find)

	orderBy := "timestamp DESC"
	if find.PinnedFirst {
		orderBy = "is_pinned DESC, " + orderBy
	}

	query := `
		SELECT
			id, user_id, type, title, content, tags, auto_topics, items,
			embedding_id, linked_memory_ids, timestamp, reminder_at, is_pinned,
			created_ts, updated_ts, last_accessed_ts
		FROM memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ` + orderBy
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memories")
	}
	defer rows.Close()

	list := []*store.Memory{}
	for rows.Next() {
		var memory store.Memory
		var tags, autoTopics, items, linkedIDs []byte
		if err := rows.Scan(
			&memory.ID,
			&memory.UserID,
			&memory.Type,
			&memory.Title,
			&memory.Content,
			&tags,
			&autoTopics,
			&items,
			&memory.EmbeddingID,
			&linkedIDs,
			&memory.Timestamp,
			&memory.ReminderAt,
			&memory.IsPinned,
			&memory.CreatedTs,
			&memory.UpdatedTs,
			&memory.LastAccessedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory")
		}
		if err := unmarshalMemoryLists(&memory, tags, autoTopics, items, linkedIDs); err != nil {
			return nil, err
		}
		list = append(list, &memory)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) CountMemories(ctx context.Context, find *store.FindMemory) (int, error) {
	where, args := buildMemoryWhere(find)
	query := `SELECT COUNT(*) FROM memory WHERE ` + strings.Join(where, " AND ")

	var count int
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count memories")
	}
	return count, nil
}

func (d *DB) UpdateMemory(ctx context.Context, update *store.UpdateMemory) (*store.Memory, error) {
	set, args := []string{}, []any{}
	if update.Type != nil {
		set, args = append(set, "type = "+placeholder(len(args)+1)), append(args, *update.Type)
	}
	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.Content != nil {
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, *update.Content)
	}
	if update.Tags != nil {
		value, err := marshalStringList(*update.Tags)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "tags = "+placeholder(len(args)+1)), append(args, value)
	}
	if update.AutoTopics != nil {
		value, err := marshalStringList(*update.AutoTopics)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "auto_topics = "+placeholder(len(args)+1)), append(args, value)
	}
	if update.Items != nil {
		value, err := json.Marshal(*update.Items)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal checklist items")
		}
		set, args = append(set, "items = "+placeholder(len(args)+1)), append(args, string(value))
	}
	if update.EmbeddingID != nil {
		set, args = append(set, "embedding_id = "+placeholder(len(args)+1)), append(args, *update.EmbeddingID)
	}
	if update.LinkedMemoryIDs != nil {
		value, err := marshalStringList(*update.LinkedMemoryIDs)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "linked_memory_ids = "+placeholder(len(args)+1)), append(args, value)
	}
	if update.ReminderAt != nil {
		set, args = append(set, "reminder_at = "+placeholder(len(args)+1)), append(args, *update.ReminderAt)
	}
	if update.IsPinned != nil {
		set, args = append(set, "is_pinned = "+placeholder(len(args)+1)), append(args, *update.IsPinned)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	stmt := `UPDATE memory SET ` + strings.Join(set, ", ") +
		` WHERE id = ` + placeholder(len(args)+1) + ` AND user_id = ` + placeholder(len(args)+2)
	args = append(args, update.ID, update.UserID)
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update memory")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, errors.Errorf("memory %s not found", update.ID)
	}

	list, err := d.ListMemories(ctx, &store.FindMemory{ID: &update.ID, UserID: &update.UserID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Errorf("memory %s not found after update", update.ID)
	}
	return list[0], nil
}

func (d *DB) DeleteMemory(ctx context.Context, delete *store.DeleteMemory) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM memory WHERE id = $1 AND user_id = $2`, delete.ID, delete.UserID)
	if err != nil {
		return errors.Wrap(err, "failed to delete memory")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Errorf("memory %s not found", delete.ID)
	}
	return nil
}

func (d *DB) TouchMemory(ctx context.Context, id string, accessedTs int64) error {
	_, err := d.db.ExecContext(ctx, `UPDATE memory SET last_accessed_ts = $1 WHERE id = $2`, accessedTs, id)
	if err != nil {
		return errors.Wrap(err, "failed to touch memory")
	}
	return nil
}

func buildMemoryWhere(find *store.FindMemory) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Type != nil {
		where, args = append(where, "type = "+placeholder(len(args)+1)), append(args, *find.Type)
	}
	if find.ContainsText != nil {
		pattern := "%" + *find.ContainsText + "%"
		where = append(where, "(title ILIKE "+placeholder(len(args)+1)+" OR content ILIKE "+placeholder(len(args)+2)+")")
		args = append(args, pattern, pattern)
	}
	return where, args
}

func marshalMemoryLists(memory *store.Memory) (tags, autoTopics, items, linkedIDs string, err error) {
	if tags, err = marshalStringList(memory.Tags); err != nil {
		return
	}
	if autoTopics, err = marshalStringList(memory.AutoTopics); err != nil {
		return
	}
	var itemBytes []byte
	if memory.Items == nil {
		itemBytes = []byte("[]")
	} else if itemBytes, err = json.Marshal(memory.Items); err != nil {
		err = errors.Wrap(err, "failed to marshal checklist items")
		return
	}
	items = string(itemBytes)
	linkedIDs, err = marshalStringList(memory.LinkedMemoryIDs)
	return
}

func unmarshalMemoryLists(memory *store.Memory, tags, autoTopics, items, linkedIDs []byte) error {
	if err := json.Unmarshal(tags, &memory.Tags); err != nil {
		return errors.Wrap(err, "failed to unmarshal tags")
	}
	if err := json.Unmarshal(autoTopics, &memory.AutoTopics); err != nil {
		return errors.Wrap(err, "failed to unmarshal auto topics")
	}
	if err := json.Unmarshal(items, &memory.Items); err != nil {
		return errors.Wrap(err, "failed to unmarshal checklist items")
	}
	if err := json.Unmarshal(linkedIDs, &memory.LinkedMemoryIDs); err != nil {
		return errors.Wrap(err, "failed to unmarshal linked memory ids")
	}
	return nil
}

func marshalStringList(list []string) (string, error) {
	if list == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal(list)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal string list")
	}
	return string(bytes), nil
}
