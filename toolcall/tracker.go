// Package toolcall tracks the lifecycle of tool invocations within one
// session: Pending -> Executing -> {Completed, Failed}.
//
// The tracker is a pure state machine. It is not persisted and holds no
// cross-session state; the translator owning a session's fragment stream is
// the only caller, so no locking is required.
package toolcall

import (
	"fmt"

	"github.com/pithecene-io/conduit/log"
)

// Status is the lifecycle status of one tool invocation.
type Status string

// Tool call status constants. StatusUnknown is returned for operations on
// call ids the tracker has never seen.
const (
	StatusUnknown   Status = "unknown"
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Call is the tracked record of one tool invocation.
type Call struct {
	// ID is the correlation id, stable for the invocation's lifetime.
	ID string
	// Name is the invoked tool's name.
	Name string
	// GenerationID is the model turn that produced the invocation.
	GenerationID string
	// Status is the current lifecycle status.
	Status Status
	// ArgChunks counts the argument delta chunks recorded so far.
	ArgChunks int64
}

// Tracker converts tool invocation/result fragments into discrete lifecycle
// transitions and assigns deterministic correlation identifiers.
type Tracker struct {
	logger *log.Logger

	calls map[string]*Call
	// ordinals counts invocations per generation, used to synthesize
	// deterministic call ids when the upstream supplies none.
	ordinals map[string]int
	// lastOpen remembers each generation's most recent call so hintless
	// argument-delta fragments attach to it rather than opening a new call.
	lastOpen map[string]string
}

// NewTracker creates a tracker for one session.
func NewTracker(logger *log.Logger) *Tracker {
	return &Tracker{
		logger:   logger,
		calls:    make(map[string]*Call),
		ordinals: make(map[string]int),
		lastOpen: make(map[string]string),
	}
}

// Open registers a new tool invocation and returns its call id, plus
// whether this call was newly created (false for repeated invocation
// fragments carrying more argument deltas for an already-open call).
//
// The id is taken from callHint when present; otherwise it is synthesized
// from the generation id and the invocation's ordinal position, which makes
// replayed streams produce identical ids. The call starts Pending; the
// caller advances it with MarkExecuting once the start event is emitted.
func (t *Tracker) Open(generationID, callHint, toolName string) (string, bool) {
	callID := callHint
	if callID == "" {
		if existing, ok := t.lastOpen[generationID]; ok {
			// Hintless fragments continue the generation's latest call
			// while it is still streaming arguments.
			if call := t.calls[existing]; call != nil &&
				(call.Status == StatusPending || call.Status == StatusExecuting) {
				return existing, false
			}
		}
		callID = fmt.Sprintf("%s-call-%d", generationID, t.ordinals[generationID])
	}

	if existing, ok := t.calls[callID]; ok {
		return existing.ID, false
	}

	t.ordinals[generationID]++
	t.lastOpen[generationID] = callID
	t.calls[callID] = &Call{
		ID:           callID,
		Name:         toolName,
		GenerationID: generationID,
		Status:       StatusPending,
	}
	return callID, true
}

// MarkExecuting advances a Pending call to Executing.
// Returns the resulting status, or StatusUnknown for an unseen id.
func (t *Tracker) MarkExecuting(callID string) Status {
	call, ok := t.calls[callID]
	if !ok {
		return StatusUnknown
	}
	if call.Status == StatusPending {
		call.Status = StatusExecuting
	}
	return call.Status
}

// RecordArgsDelta records one incremental argument chunk for an open call.
// Returns false if the call id is unknown or already terminal.
func (t *Tracker) RecordArgsDelta(callID, chunk string) bool {
	call, ok := t.calls[callID]
	if !ok {
		return false
	}
	if call.Status == StatusCompleted || call.Status == StatusFailed {
		return false
	}
	_ = chunk
	call.ArgChunks++
	return true
}

// Close transitions a call to Completed (or Failed when isError is set).
//
// Closing an id the tracker has never seen returns StatusUnknown and
// auto-opens the call in its terminal state, so the caller can synthesize a
// best-effort start event retroactively. This covers upstreams that deliver
// a result before its invocation under reordering.
func (t *Tracker) Close(callID string, isError bool) Status {
	terminal := StatusCompleted
	if isError {
		terminal = StatusFailed
	}

	call, ok := t.calls[callID]
	if !ok {
		t.logger.Warn("tool result with no open call, auto-opening", map[string]any{
			"call_id": callID,
		})
		t.calls[callID] = &Call{
			ID:     callID,
			Status: terminal,
		}
		return StatusUnknown
	}

	if call.Status == StatusCompleted || call.Status == StatusFailed {
		// Duplicate result; the first terminal transition wins.
		t.logger.Warn("ignoring duplicate tool result", map[string]any{
			"call_id": callID,
			"status":  call.Status,
		})
		return call.Status
	}

	call.Status = terminal
	return terminal
}

// Lookup returns the tracked call for an id, if any.
func (t *Tracker) Lookup(callID string) (*Call, bool) {
	call, ok := t.calls[callID]
	return call, ok
}

// OpenCalls returns the ids of calls that have not reached a terminal
// status, in no particular order.
func (t *Tracker) OpenCalls() []string {
	var open []string
	for id, call := range t.calls {
		if call.Status == StatusPending || call.Status == StatusExecuting {
			open = append(open, id)
		}
	}
	return open
}
