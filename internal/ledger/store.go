// Package ledger keeps a durable record of request outcomes: what was
// asked for, which variant was fetched, which provider answered, and how
// it ended. It stores no message or translation text.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pinyinbot/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver string // sqlite | postgres
	DSN    string // file path for sqlite, connection URL for postgres
	Logger *slog.Logger
}

// Store writes outcomes to the translation_log table.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// Open connects and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var (
		db  *sql.DB
		d   dialect
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		d = sqliteDialect
		db, err = openSQLite(cfg.DSN)
	case DriverPostgres:
		d = postgresDialect
		db, err = sql.Open("pgx", cfg.DSN)
		if err == nil {
			db.SetMaxOpenConns(4)
			db.SetConnMaxIdleTime(5 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open ledger database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger database unreachable: %w", err)
	}

	s := &Store{db: db, dialect: d, logger: cfg.Logger}
	if err := runMigrations(ctx, db, d, cfg.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger migration failed: %w", err)
	}
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite ledger needs a file path")
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record appends one outcome.
func (s *Store) Record(ctx context.Context, o domain.Outcome) error {
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO translation_log (
			request_id, update_id, chat_id, source, outcome, error_kind,
			variant_width, variant_height, file_size, payload_bytes,
			provider, model, replied, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		o.RequestID, o.UpdateID, o.ChatID, o.Source, o.Classification, string(o.ErrorKind),
		o.VariantWidth, o.VariantHeight, o.FileSize, o.PayloadBytes,
		o.Provider, o.Model, o.Replied, o.Latency.Milliseconds(), created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// Recent returns the newest outcomes first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.Outcome, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT request_id, update_id, chat_id, source, outcome, error_kind,
		       variant_width, variant_height, file_size, payload_bytes,
		       provider, model, replied, latency_ms, created_at
		FROM translation_log
		ORDER BY id DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		var (
			o         domain.Outcome
			kind      string
			latencyMs int64
			createdMs int64
		)
		if err := rows.Scan(
			&o.RequestID, &o.UpdateID, &o.ChatID, &o.Source, &o.Classification, &kind,
			&o.VariantWidth, &o.VariantHeight, &o.FileSize, &o.PayloadBytes,
			&o.Provider, &o.Model, &o.Replied, &latencyMs, &createdMs,
		); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.ErrorKind = domain.ErrorKind(kind)
		o.Latency = time.Duration(latencyMs) * time.Millisecond
		o.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

// SummaryRow aggregates outcomes sharing a classification and error kind.
type SummaryRow struct {
	Outcome      string
	ErrorKind    string
	Count        int64
	AvgLatencyMs float64
}

// Summary counts outcomes by classification and error kind.
func (s *Store) Summary(ctx context.Context) ([]SummaryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, error_kind, COUNT(*), COALESCE(AVG(latency_ms), 0)
		FROM translation_log
		GROUP BY outcome, error_kind
		ORDER BY outcome, error_kind`)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var out []SummaryRow
	for rows.Next() {
		var r SummaryRow
		if err := rows.Scan(&r.Outcome, &r.ErrorKind, &r.Count, &r.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// dialect covers the few places SQLite and PostgreSQL differ.
type dialect struct {
	name          string
	idColumn      string
	boolType      string
	numberedBinds bool
}

var (
	sqliteDialect   = dialect{name: DriverSQLite, idColumn: "INTEGER PRIMARY KEY AUTOINCREMENT", boolType: "INTEGER"}
	postgresDialect = dialect{name: DriverPostgres, idColumn: "BIGSERIAL PRIMARY KEY", boolType: "BOOLEAN", numberedBinds: true}
)

// rebind turns ? placeholders into $1, $2, ... for PostgreSQL.
func (d dialect) rebind(query string) string {
	if !d.numberedBinds {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SchemaVersion reports the applied migration level.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return getSchemaVersion(ctx, s.db)
}

// Driver names the database backend in use.
func (s *Store) Driver() string { return s.dialect.name }

func nowMillis() int64 { return time.Now().UnixMilli() }
