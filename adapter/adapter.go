// Package adapter defines the downstream notification surface: when a
// session reaches a terminal state, an optional adapter tells an external
// system about it (redis pub/sub, webhook).
//
// Notification is fire-and-forget from the engine's perspective: a failed
// delivery is logged and counted by the adapter, never surfaced to the
// session lifecycle.
package adapter

import (
	"context"

	"github.com/pithecene-io/conduit/types"
)

// SessionCompleted is the payload delivered to downstream systems when a
// session goes terminal.
type SessionCompleted struct {
	SessionID string              `json:"sessionId"`
	ThreadID  string              `json:"threadId,omitempty"`
	RunID     string              `json:"runId,omitempty"`
	Status    types.SessionStatus `json:"status"`
	EndedAt   int64               `json:"endedAt"` // unix ms
	Usage     *types.TokenUsage   `json:"usage,omitempty"`
}

// Adapter delivers session completion notifications downstream.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Name identifies the adapter in logs and config.
	Name() string

	// NotifySessionCompleted delivers one completion notification.
	// Implementations own their retry policy; the returned error is for
	// the caller's log line only.
	NotifySessionCompleted(ctx context.Context, event SessionCompleted) error

	// Close releases the adapter's resources.
	Close() error
}
