package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

const settingSchemaVersion = "schema_version"

func (d *DB) GetSchemaVersion(ctx context.Context) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM system_setting WHERE name = ?`, settingSchemaVersion).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to get schema version")
	}
	return value, nil
}

func (d *DB) UpsertSchemaVersion(ctx context.Context, version string) error {
	stmt := `
		INSERT INTO system_setting (name, value)
		VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := d.db.ExecContext(ctx, stmt, settingSchemaVersion, version); err != nil {
		return errors.Wrap(err, "failed to upsert schema version")
	}
	return nil
}
