package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the conversation_messages table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL,
    role        TEXT NOT NULL,
    content     TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversation_messages_session ON conversation_messages(session_id, id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL table.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore on db. The caller is responsible
// for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pool to dsn, pings it and runs [Schema]. The returned
// close function releases the pool.
func Connect(ctx context.Context, dsn string) (*PostgresStore, func(), error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("history: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("history: ping: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Ping checks that the database answers. It runs a trivial query so any
// [DB] implementation works.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("history: ping: %w", err)
	}
	return nil
}

// Append implements [Store]. A zero CreatedAt is filled in by the database.
func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	const query = `
		INSERT INTO conversation_messages (session_id, role, content)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	if err := s.db.QueryRow(ctx, query, e.SessionID, e.Role, e.Content).Scan(&e.CreatedAt); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context, sessionID string) ([]Entry, error) {
	const query = `
		SELECT session_id, role, content, created_at
		FROM conversation_messages
		WHERE session_id = $1
		ORDER BY id`

	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history: list %q: %w", sessionID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SessionID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list %q: %w", sessionID, err)
	}
	return entries, nil
}

// Clear implements [Store].
func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM conversation_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("history: clear %q: %w", sessionID, err)
	}
	return nil
}
