// Package sqlite implements the durability store on a single SQLite file.
//
// Sessions, raw fragments, and translated event metadata live in three
// tables. The file runs in WAL mode so recovery reads at startup and
// read-only CLI queries do not block the write path.
package sqlite

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/store"
	"github.com/pithecene-io/conduit/types"
)

// Store is the SQLite-backed durability store.
type Store struct {
	pool   *sqlitex.Pool
	logger *log.Logger
	path   string
}

var _ store.Store = (*Store)(nil)

// Open creates the store, the database file if missing, and the schema.
func Open(cfg PoolConfig) (*Store, error) {
	pool, err := openPool(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{
		pool:   pool,
		logger: cfg.Logger,
		path:   cfg.Path,
	}, nil
}

// Close closes the connection pool. Blocks until borrowed connections are
// returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite: closing %s: %w", s.path, err)
	}
	return nil
}

// AppendSession inserts or replaces the session row.
func (s *Store) AppendSession(ctx context.Context, record store.SessionRecord) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: append session: %w", err)
	}
	defer s.pool.Put(conn)

	var endedAt any
	if record.EndedAt != nil {
		endedAt = *record.EndedAt
	}
	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO sessions
			(session_id, thread_id, run_id, status, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.SessionID,
				record.ThreadID,
				record.RunID,
				string(record.Status),
				record.StartedAt,
				endedAt,
			},
		})
	if err != nil {
		return fmt.Errorf("sqlite: append session %s: %w", record.SessionID, err)
	}
	return nil
}

// UpdateSessionStatus transitions the persisted status and records the end
// time when given.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status types.SessionStatus, endedAt *int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: update status: %w", err)
	}
	defer s.pool.Put(conn)

	var ended any
	if endedAt != nil {
		ended = *endedAt
	}
	err = sqlitex.Execute(conn,
		`UPDATE sessions SET status = ?, ended_at = COALESCE(?, ended_at)
			WHERE session_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(status), ended, sessionID},
		})
	if err != nil {
		return fmt.Errorf("sqlite: update status %s: %w", sessionID, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("sqlite: update status %s: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

// AppendMessage appends one raw fragment.
func (s *Store) AppendMessage(ctx context.Context, record store.MessageRecord) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: append message: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO messages (session_id, kind, payload, ts) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{record.SessionID, record.Kind, record.Payload, record.Timestamp},
		})
	if err != nil {
		return fmt.Errorf("sqlite: append message for %s: %w", record.SessionID, err)
	}
	return nil
}

// AppendEventMeta appends one translated event's metadata.
func (s *Store) AppendEventMeta(ctx context.Context, record store.EventMetaRecord) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: append event meta: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO event_meta (session_id, event_id, type, ts) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{record.SessionID, record.EventID, record.Type, record.Timestamp},
		})
	if err != nil {
		return fmt.Errorf("sqlite: append event meta for %s: %w", record.SessionID, err)
	}
	return nil
}

// GetSession returns the persisted session, or store.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (store.SessionRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return store.SessionRecord{}, fmt.Errorf("sqlite: get session: %w", err)
	}
	defer s.pool.Put(conn)

	var record store.SessionRecord
	found := false
	err = sqlitex.Execute(conn,
		`SELECT session_id, thread_id, run_id, status, started_at, ended_at
			FROM sessions WHERE session_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				record = scanSession(stmt)
				return nil
			},
		})
	if err != nil {
		return store.SessionRecord{}, fmt.Errorf("sqlite: get session %s: %w", sessionID, err)
	}
	if !found {
		return store.SessionRecord{}, store.ErrNotFound
	}
	return record, nil
}

func scanSession(stmt *sqlite.Stmt) store.SessionRecord {
	record := store.SessionRecord{
		SessionID: stmt.ColumnText(0),
		ThreadID:  stmt.ColumnText(1),
		RunID:     stmt.ColumnText(2),
		Status:    types.SessionStatus(stmt.ColumnText(3)),
		StartedAt: stmt.ColumnInt64(4),
	}
	if !stmt.ColumnIsNull(5) {
		endedAt := stmt.ColumnInt64(5)
		record.EndedAt = &endedAt
	}
	return record
}

// ListMessages returns the session's fragments in arrival order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]store.MessageRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list messages: %w", err)
	}
	defer s.pool.Put(conn)

	var records []store.MessageRecord
	err = sqlitex.Execute(conn,
		`SELECT session_id, kind, payload, ts FROM messages
			WHERE session_id = ? ORDER BY seq`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				payload := make([]byte, stmt.ColumnLen(2))
				stmt.ColumnBytes(2, payload)
				records = append(records, store.MessageRecord{
					SessionID: stmt.ColumnText(0),
					Kind:      stmt.ColumnText(1),
					Payload:   payload,
					Timestamp: stmt.ColumnInt64(3),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite: list messages for %s: %w", sessionID, err)
	}
	return records, nil
}

// ListSessions returns sessions newest-first, at most limit (zero means no
// limit).
func (s *Store) ListSessions(ctx context.Context, limit int) ([]store.SessionRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT session_id, thread_id, run_id, status, started_at, ended_at
		FROM sessions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var records []store.SessionRecord
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			records = append(records, scanSession(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	return records, nil
}

// ListIncompleteSessions returns every session id whose persisted status is
// non-terminal.
func (s *Store) ListIncompleteSessions(ctx context.Context) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list incomplete: %w", err)
	}
	defer s.pool.Put(conn)

	var ids []string
	err = sqlitex.Execute(conn,
		`SELECT session_id FROM sessions WHERE status IN (?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				string(types.SessionStarted),
				string(types.SessionActive),
			},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ids = append(ids, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite: list incomplete: %w", err)
	}
	return ids, nil
}

// MarkFailed forces the session to the failed terminal status.
func (s *Store) MarkFailed(ctx context.Context, sessionID string, endedAt int64) error {
	return s.UpdateSessionStatus(ctx, sessionID, types.SessionFailed, &endedAt)
}
