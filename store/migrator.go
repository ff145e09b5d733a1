package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/openclaw/cortex/internal/version"
)

//go:embed migration
var migrationFS embed.FS

// LatestSchemaFileName is the full schema applied to fresh installations.
const LatestSchemaFileName = "LATEST.sql"

// Migrate initializes the database schema if the database is empty and
// keeps the recorded schema version in sync. Running an older build
// against a database initialized by a newer one is refused.
func (s *Store) Migrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	currentSchemaVersion, err := s.GetCurrentSchemaVersion()
	if err != nil {
		return errors.Wrap(err, "failed to get current schema version")
	}

	if !initialized {
		if err := s.applyLatestSchema(ctx); err != nil {
			return err
		}
		if err := s.driver.UpsertSchemaVersion(ctx, currentSchemaVersion); err != nil {
			return errors.Wrap(err, "failed to record schema version")
		}
		slog.Info("database initialized successfully", "schemaVersion", currentSchemaVersion)
		return nil
	}

	recordedSchemaVersion, err := s.driver.GetSchemaVersion(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get recorded schema version")
	}
	if recordedSchemaVersion != "" && version.IsVersionGreaterThan(recordedSchemaVersion, currentSchemaVersion) {
		return errors.Errorf("cannot downgrade schema version from %s to %s", recordedSchemaVersion, currentSchemaVersion)
	}
	if !version.IsVersionGreaterOrEqualThan(recordedSchemaVersion, currentSchemaVersion) {
		slog.Info("updating recorded schema version",
			"from", recordedSchemaVersion,
			"to", currentSchemaVersion)
		if err := s.driver.UpsertSchemaVersion(ctx, currentSchemaVersion); err != nil {
			return errors.Wrap(err, "failed to update schema version")
		}
	}
	return nil
}

// GetCurrentSchemaVersion returns the schema version of this build, the
// minor release with a zero patch (e.g. "0.3.0" for build 0.3.1).
func (s *Store) GetCurrentSchemaVersion() (string, error) {
	currentVersion := version.GetCurrentVersion(s.profile.Mode)
	minorVersion := version.GetMinorVersion(currentVersion)
	if minorVersion == "" {
		return "", errors.Errorf("invalid version string: %s", currentVersion)
	}
	return minorVersion + ".0", nil
}

func (s *Store) applyLatestSchema(ctx context.Context) error {
	filePath := fmt.Sprintf("migration/%s/%s", s.profile.Driver, LatestSchemaFileName)
	bytes, err := migrationFS.ReadFile(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to read latest schema file: %s", filePath)
	}

	tx, err := s.driver.GetDB().Begin()
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	slog.Info("initializing new database with latest schema", "file", filePath)
	if err := s.execute(ctx, tx, string(bytes)); err != nil {
		return errors.Wrapf(err, "failed to execute schema file %s", filePath)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// execute executes a SQL script within a transaction context.
// PostgreSQL doesn't support multiple statements in a single ExecContext call,
// so the script is split and executed statement by statement.
func (s *Store) execute(ctx context.Context, tx *sql.Tx, script string) error {
	if s.profile.Driver != "postgres" {
		if _, err := tx.ExecContext(ctx, script); err != nil {
			return errors.Wrap(err, "failed to execute statement")
		}
		return nil
	}
	for i, stmt := range splitSQL(script) {
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute statement %d: %s", i+1, stmt)
		}
	}
	return nil
}

// splitSQL splits a multi-statement SQL script into individual statements,
// dropping comment-only lines. The schema files contain no quoted semicolons
// or function bodies, so a line-based split is sufficient.
func splitSQL(script string) []string {
	var statements []string
	var current strings.Builder
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
