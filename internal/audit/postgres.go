package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS command_log (
	id          uuid PRIMARY KEY,
	table_name  text        NOT NULL,
	record_type text        NOT NULL,
	row_count   integer     NOT NULL,
	payload     text        NOT NULL,
	status      text        NOT NULL,
	error       text,
	ip_address  text,
	user_agent  text,
	duration_ms bigint      NOT NULL DEFAULT 0,
	created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS command_log_table_created_idx ON command_log (table_name, created_at DESC);
CREATE INDEX IF NOT EXISTS command_log_created_idx ON command_log (created_at);
`

const insertSQL = `INSERT INTO command_log
	(id, table_name, record_type, row_count, payload, status, error, ip_address, user_agent, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const selectColumns = `id, table_name, record_type, row_count, payload, status, error, ip_address, user_agent, duration_ms, created_at`

// PgStore is the Postgres-backed command log.
type PgStore struct {
	db  DBTX
	now func() time.Time
}

// NewPgStore creates a store over an open pool or connection.
func NewPgStore(db DBTX) *PgStore {
	return &PgStore{db: db, now: time.Now}
}

// EnsureSchema creates the command_log table and its indexes if missing.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create command_log: %w", err)
	}
	return nil
}

// Record inserts one entry.
func (s *PgStore) Record(ctx context.Context, e Entry) error {
	e = prepare(e, s.now())
	_, err := s.db.Exec(ctx, insertSQL,
		pgtype.UUID{Bytes: [16]byte(e.ID), Valid: true},
		e.Table,
		e.RecordType,
		int32(e.RowCount),
		e.Payload,
		string(e.Status),
		toPgText(e.Error),
		toPgText(e.IPAddress),
		toPgText(e.UserAgent),
		e.DurationMs,
		pgtype.Timestamptz{Time: e.CreatedAt, Valid: true},
	)
	if err != nil {
		return fmt.Errorf("insert command_log: %w", err)
	}
	return nil
}

// List returns entries matching f, newest first.
func (s *PgStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	query, args := buildListQuery(f)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query command_log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			id                 pgtype.UUID
			rowCount           int32
			status             string
			errText, ip, agent pgtype.Text
			createdAt          pgtype.Timestamptz
			e                  Entry
		)
		if err := rows.Scan(&id, &e.Table, &e.RecordType, &rowCount, &e.Payload, &status,
			&errText, &ip, &agent, &e.DurationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan command_log: %w", err)
		}
		e.ID = uuid.UUID(id.Bytes)
		e.RowCount = int(rowCount)
		e.Status = Status(status)
		e.Error = errText.String
		e.IPAddress = ip.String
		e.UserAgent = agent.String
		e.CreatedAt = createdAt.Time
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read command_log: %w", err)
	}
	return entries, nil
}

// Purge deletes entries created before the cutoff.
func (s *PgStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM command_log WHERE created_at < $1`,
		pgtype.Timestamptz{Time: before, Valid: true})
	if err != nil {
		return 0, fmt.Errorf("purge command_log: %w", err)
	}
	return tag.RowsAffected(), nil
}

func buildListQuery(f Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.Table != "" {
		add("table_name = $%d", f.Table)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", pgtype.Timestamptz{Time: f.Since, Valid: true})
	}

	var b strings.Builder
	b.WriteString("SELECT " + selectColumns + " FROM command_log")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	args = append(args, f.limit())
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}
