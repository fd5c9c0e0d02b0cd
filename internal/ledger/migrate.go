package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	// SQL is rendered per dialect: {{id}} and {{bool}} are substituted.
	SQL []string
}

// migrations are applied in order, each exactly once, tracked in
// schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: translation_log",
		SQL: []string{
			`CREATE TABLE IF NOT EXISTS translation_log (
				id             {{id}},
				request_id     TEXT NOT NULL DEFAULT '',
				update_id      BIGINT NOT NULL DEFAULT 0,
				chat_id        BIGINT NOT NULL DEFAULT 0,
				source         TEXT NOT NULL,
				outcome        TEXT NOT NULL,
				error_kind     TEXT NOT NULL DEFAULT '',
				variant_width  INTEGER NOT NULL DEFAULT 0,
				variant_height INTEGER NOT NULL DEFAULT 0,
				file_size      BIGINT NOT NULL DEFAULT 0,
				payload_bytes  BIGINT NOT NULL DEFAULT 0,
				provider       TEXT NOT NULL DEFAULT '',
				model          TEXT NOT NULL DEFAULT '',
				latency_ms     BIGINT NOT NULL DEFAULT 0,
				created_at     BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_translation_log_time ON translation_log(created_at)`,
		},
	},
	{
		Version:     2,
		Description: "v2: replied flag, outcome index",
		SQL: []string{
			`ALTER TABLE translation_log ADD COLUMN replied {{bool}} NOT NULL DEFAULT {{false}}`,
			`CREATE INDEX IF NOT EXISTS idx_translation_log_outcome ON translation_log(outcome, error_kind)`,
		},
	},
}

func (d dialect) render(stmt string) string {
	falseLit := "0"
	if d.boolType == "BOOLEAN" {
		falseLit = "FALSE"
	}
	return strings.NewReplacer(
		"{{id}}", d.idColumn,
		"{{bool}}", d.boolType,
		"{{false}}", falseLit,
	).Replace(stmt)
}

// runMigrations applies all pending schema migrations.
func runMigrations(ctx context.Context, db *sql.DB, d dialect, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  BIGINT
		)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := getSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying ledger migration", "version", m.Version, "description", m.Description, "driver", d.name)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		for _, stmt := range m.SQL {
			if _, err := tx.ExecContext(ctx, d.render(stmt)); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d: %w", m.Version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, d.rebind(
			`INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)`),
			m.Version, m.Description, nowMillis(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
