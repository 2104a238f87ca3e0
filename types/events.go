package types

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType is the wire protocol type tag (SCREAMING_SNAKE_CASE).
type EventType string

// Event type constants. This is the closed set of protocol event variants;
// the wire envelope carries the tag in its "type" field.
const (
	EventSessionStarted          EventType = "SESSION_STARTED"
	EventRunStarted              EventType = "RUN_STARTED"
	EventRunFinished             EventType = "RUN_FINISHED"
	EventRunError                EventType = "RUN_ERROR"
	EventTextMessageStart        EventType = "TEXT_MESSAGE_START"
	EventTextMessageContent      EventType = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd          EventType = "TEXT_MESSAGE_END"
	EventReasoningStart          EventType = "REASONING_START"
	EventReasoningMessageStart   EventType = "REASONING_MESSAGE_START"
	EventReasoningMessageContent EventType = "REASONING_MESSAGE_CONTENT"
	EventReasoningMessageEnd     EventType = "REASONING_MESSAGE_END"
	EventReasoningEnd            EventType = "REASONING_END"
	EventToolCallStart           EventType = "TOOL_CALL_START"
	EventToolCallArgs            EventType = "TOOL_CALL_ARGS"
	EventToolCallEnd             EventType = "TOOL_CALL_END"
	EventToolCallResult          EventType = "TOOL_CALL_RESULT"
	EventStepStarted             EventType = "STEP_STARTED"
	EventStepFinished            EventType = "STEP_FINISHED"
	EventStateSnapshot           EventType = "STATE_SNAPSHOT"
	EventStateDelta              EventType = "STATE_DELTA"
)

// IsTerminal returns true if this event type ends a run.
func (e EventType) IsTerminal() bool {
	return e == EventRunFinished
}

// RunStatus is the terminal status carried by RUN_FINISHED.
type RunStatus string

// Run status constants.
const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Event is one unit of the outward-facing wire protocol.
//
// The variant set is closed: every concrete event type lives in this
// package and embeds BaseEvent. Consumers dispatch with a type switch over
// the concrete types, so a missing handler is a compile-visible gap rather
// than a runtime surprise.
type Event interface {
	// Base returns the shared wire envelope fields. The returned pointer
	// aliases the event; callers may stamp correlation ids before publish.
	Base() *BaseEvent
}

// BaseEvent carries the envelope fields common to every protocol event.
// Timestamp is milliseconds since the Unix epoch.
type BaseEvent struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id"`
	Timestamp *int64    `json:"timestamp"`
	SessionID *string   `json:"sessionId"`
	ThreadID  *string   `json:"threadId"`
	RunID     *string   `json:"runId"`
}

// Base implements Event.
func (b *BaseEvent) Base() *BaseEvent { return b }

// NewBase creates a BaseEvent with a fresh ULID event id and the current
// wall-clock timestamp. Correlation ids start nil and are stamped by the
// session engine before publish.
func NewBase(eventType EventType) BaseEvent {
	ts := time.Now().UnixMilli()
	return BaseEvent{
		Type:      eventType,
		ID:        ulid.Make().String(),
		Timestamp: &ts,
	}
}

// NewMessageID allocates a message id for a text or reasoning stream.
// ULIDs are timestamp-prefixed, so ids sort in allocation order.
func NewMessageID() string { return ulid.Make().String() }

// SessionStartedEvent announces a newly created session.
type SessionStartedEvent struct {
	BaseEvent
}

// RunStartedEvent announces the start of a run on a session.
type RunStartedEvent struct {
	BaseEvent
}

// RunFinishedEvent terminates a run. Usage is attached when the upstream
// reported token counters before the run ended.
type RunFinishedEvent struct {
	BaseEvent
	Status RunStatus   `json:"status"`
	Usage  *TokenUsage `json:"usage,omitempty"`
}

// RunErrorEvent surfaces a failure to clients. Recoverable errors do not
// terminate the run; non-recoverable errors are followed by RUN_FINISHED
// with failed status.
type RunErrorEvent struct {
	BaseEvent
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// TextMessageStartEvent opens a streamed text message.
type TextMessageStartEvent struct {
	BaseEvent
	MessageID string `json:"messageId"`
	Role      string `json:"role,omitempty"`
}

// TextMessageContentEvent carries one text chunk. Index is gap-free and
// strictly increasing per message id, starting at 0.
type TextMessageContentEvent struct {
	BaseEvent
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
	Index     int64  `json:"index"`
}

// TextMessageEndEvent closes a streamed text message. TotalChunks equals
// the number of TEXT_MESSAGE_CONTENT events emitted for the message id.
type TextMessageEndEvent struct {
	BaseEvent
	MessageID   string `json:"messageId"`
	TotalChunks int64  `json:"totalChunks"`
}

// ReasoningStartEvent opens a reasoning phase for a generation. It wraps
// one or more reasoning messages.
type ReasoningStartEvent struct {
	BaseEvent
}

// ReasoningMessageStartEvent opens a streamed reasoning message.
type ReasoningMessageStartEvent struct {
	BaseEvent
	MessageID string `json:"messageId"`
}

// ReasoningMessageContentEvent carries one reasoning chunk. Index semantics
// match TEXT_MESSAGE_CONTENT.
type ReasoningMessageContentEvent struct {
	BaseEvent
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
	Index     int64  `json:"index"`
}

// ReasoningMessageEndEvent closes a streamed reasoning message.
type ReasoningMessageEndEvent struct {
	BaseEvent
	MessageID   string `json:"messageId"`
	TotalChunks int64  `json:"totalChunks"`
}

// ReasoningEndEvent closes a reasoning phase.
type ReasoningEndEvent struct {
	BaseEvent
}

// ToolCallStartEvent opens a tool call lifecycle.
type ToolCallStartEvent struct {
	BaseEvent
	CallID   string `json:"toolCallId"`
	ToolName string `json:"toolCallName"`
}

// ToolCallArgsEvent carries one incremental chunk of tool arguments JSON.
type ToolCallArgsEvent struct {
	BaseEvent
	CallID string `json:"toolCallId"`
	Delta  string `json:"delta"`
}

// ToolCallEndEvent marks the end of argument streaming for a call.
type ToolCallEndEvent struct {
	BaseEvent
	CallID string `json:"toolCallId"`
}

// ToolCallResultEvent carries the tool execution result.
type ToolCallResultEvent struct {
	BaseEvent
	CallID  string `json:"toolCallId"`
	Result  string `json:"result"`
	IsError bool   `json:"isError,omitempty"`
}

// StepStartedEvent marks the start of one model turn (generation).
type StepStartedEvent struct {
	BaseEvent
	StepID string `json:"stepId"`
}

// StepFinishedEvent marks the end of one model turn.
type StepFinishedEvent struct {
	BaseEvent
	StepID string `json:"stepId"`
}

// StateSnapshotEvent carries the full shared state as raw JSON.
type StateSnapshotEvent struct {
	BaseEvent
	Snapshot map[string]any `json:"snapshot"`
}

// StateDeltaEvent carries only the changed state keys.
type StateDeltaEvent struct {
	BaseEvent
	Delta map[string]any `json:"delta"`
}
