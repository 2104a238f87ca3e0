// Package store defines the durability surface for session replay and
// crash recovery.
//
// The store is write-behind: the live event path never waits on it, and a
// write failure is logged, never surfaced to connected clients. Recovery
// reads happen only at process start and through the read-only CLI.
package store

import (
	"context"
	"errors"

	"github.com/pithecene-io/conduit/types"
)

// ErrNotFound is returned by read operations when the session does not
// exist in the store.
var ErrNotFound = errors.New("store: session not found")

// SessionRecord is the persisted session entity.
type SessionRecord struct {
	SessionID string
	ThreadID  string
	RunID     string
	Status    types.SessionStatus
	StartedAt int64  // unix ms
	EndedAt   *int64 // unix ms, nil while the session is live
}

// MessageRecord is one ingested fragment, stored raw for replay.
type MessageRecord struct {
	SessionID string
	Kind      string
	Payload   []byte // fragment JSON
	Timestamp int64  // unix ms
}

// EventMetaRecord is the minimal persisted form of one translated event:
// enough to audit what was emitted, not a full event log.
type EventMetaRecord struct {
	SessionID string
	EventID   string
	Type      string
	Timestamp int64 // unix ms
}

// Store persists sessions, their raw fragments, and translated event
// metadata. Implementations must be safe for concurrent use.
type Store interface {
	// AppendSession inserts the session row. Overwrites an existing row
	// with the same session id (resume after restart).
	AppendSession(ctx context.Context, record SessionRecord) error

	// UpdateSessionStatus transitions the persisted status. endedAt is
	// recorded when non-nil.
	UpdateSessionStatus(ctx context.Context, sessionID string, status types.SessionStatus, endedAt *int64) error

	// AppendMessage appends one raw fragment in arrival order.
	AppendMessage(ctx context.Context, record MessageRecord) error

	// AppendEventMeta appends one translated event's metadata.
	AppendEventMeta(ctx context.Context, record EventMetaRecord) error

	// GetSession returns the persisted session, or ErrNotFound.
	GetSession(ctx context.Context, sessionID string) (SessionRecord, error)

	// ListMessages returns the session's fragments in arrival order.
	ListMessages(ctx context.Context, sessionID string) ([]MessageRecord, error)

	// ListSessions returns sessions newest-first, at most limit (zero
	// means no limit).
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)

	// ListIncompleteSessions returns the ids of every session whose
	// persisted status is non-terminal.
	ListIncompleteSessions(ctx context.Context) ([]string, error)

	// MarkFailed forces the session to the failed terminal status. Used
	// by the startup recovery sweep.
	MarkFailed(ctx context.Context, sessionID string, endedAt int64) error

	// Close releases the store's resources.
	Close() error
}
