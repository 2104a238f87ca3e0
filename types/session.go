package types

import "time"

// SessionStatus is the lifecycle status of a session.
type SessionStatus string

// Session status constants. Transitions are monotonic: Completed and
// Failed are terminal and never revert to Active.
const (
	SessionStarted   SessionStatus = "started"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// IsTerminal returns true if the status is Completed or Failed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// CanTransitionTo reports whether moving from s to next preserves the
// monotonic lifecycle. Terminal states accept no further transitions;
// Active never reverts to Started.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if s == SessionActive && next == SessionStarted {
		return false
	}
	return true
}

// Session is one logical client interaction, identified internally and
// optionally bound to an external thread/run id pair.
type Session struct {
	// ID is the internal session identifier (UUID).
	ID string `json:"id"`
	// ThreadID is the external conversation identifier, when bound.
	ThreadID *string `json:"threadId,omitempty"`
	// RunID is the current run on the session's thread, when known.
	RunID *string `json:"runId,omitempty"`
	// StartedAt is the session creation time.
	StartedAt time.Time `json:"startedAt"`
	// EndedAt is the terminal transition time; nil while the session
	// is live.
	EndedAt *time.Time `json:"endedAt,omitempty"`
	// Status is the current lifecycle status.
	Status SessionStatus `json:"status"`
	// Metadata is opaque caller-supplied context.
	Metadata map[string]any `json:"metadata,omitempty"`
}
