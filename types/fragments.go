// Package types defines core domain types for the Conduit protocol engine.
//
//nolint:revive // types is a common Go package naming convention
package types

// FragmentKind is the type discriminant for agent output fragments.
type FragmentKind string

// Fragment kind constants.
const (
	FragmentText           FragmentKind = "text"
	FragmentReasoning      FragmentKind = "reasoning"
	FragmentToolInvocation FragmentKind = "tool_invocation"
	FragmentToolResult     FragmentKind = "tool_result"
	FragmentUsage          FragmentKind = "usage"
	FragmentControl        FragmentKind = "control"
)

// Valid returns true if k is a known fragment kind.
func (k FragmentKind) Valid() bool {
	switch k {
	case FragmentText, FragmentReasoning, FragmentToolInvocation,
		FragmentToolResult, FragmentUsage, FragmentControl:
		return true
	}
	return false
}

// ControlMarker identifies a control fragment's intent.
type ControlMarker string

// Control marker constants.
const (
	// ControlFlush closes any open text/reasoning stream for the
	// fragment's generation without ending the generation.
	ControlFlush ControlMarker = "flush"
	// ControlGenerationEnd marks the end of one model turn.
	ControlGenerationEnd ControlMarker = "generation_end"
	// ControlRunEnd marks the end of the run; the translator emits
	// RUN_FINISHED after closing open streams.
	ControlRunEnd ControlMarker = "run_end"
	// ControlRunFailed marks an upstream failure; the translator emits a
	// non-recoverable RUN_ERROR followed by RUN_FINISHED with failed status.
	ControlRunFailed ControlMarker = "run_failed"
)

// TokenUsage carries token counters reported by the provider.
type TokenUsage struct {
	PromptTokens     int64 `msgpack:"prompt_tokens" json:"promptTokens"`
	CompletionTokens int64 `msgpack:"completion_tokens" json:"completionTokens"`
	TotalTokens      int64 `msgpack:"total_tokens" json:"totalTokens"`
}

// Fragment is one incremental unit of agent output.
//
// Fragments form a tagged union over Kind; only the fields relevant to a
// given kind are populated. All fields use msgpack tags to match the wire
// framing on the agent IPC pipe, and json tags for durability storage.
type Fragment struct {
	// Kind is the fragment type discriminant.
	Kind FragmentKind `msgpack:"kind" json:"kind"`
	// GenerationID groups fragments belonging to one model turn.
	GenerationID string `msgpack:"generation_id" json:"generationId"`
	// RunID is the external run identifier, when known.
	RunID *string `msgpack:"run_id,omitempty" json:"runId,omitempty"`
	// ThreadID is the external conversation identifier, when known.
	ThreadID *string `msgpack:"thread_id,omitempty" json:"threadId,omitempty"`
	// Role is the producing role (assistant, tool).
	Role string `msgpack:"role,omitempty" json:"role,omitempty"`

	// Delta is the incremental text or reasoning content
	// (kinds: text, reasoning).
	Delta string `msgpack:"delta,omitempty" json:"delta,omitempty"`

	// ToolName is the invoked tool's name (kind: tool_invocation).
	ToolName string `msgpack:"tool_name,omitempty" json:"toolName,omitempty"`
	// ToolCallID correlates an invocation with its result
	// (kinds: tool_invocation, tool_result). May be empty on invocation;
	// the tracker then synthesizes a deterministic id.
	ToolCallID string `msgpack:"tool_call_id,omitempty" json:"toolCallId,omitempty"`
	// ArgsDelta is an incremental chunk of the tool's JSON arguments
	// (kind: tool_invocation).
	ArgsDelta string `msgpack:"args_delta,omitempty" json:"argsDelta,omitempty"`
	// Result is the tool's result payload (kind: tool_result).
	Result string `msgpack:"result,omitempty" json:"result,omitempty"`
	// IsError signals a failed tool execution (kind: tool_result).
	IsError bool `msgpack:"is_error,omitempty" json:"isError,omitempty"`

	// Usage carries token counters (kind: usage).
	Usage *TokenUsage `msgpack:"usage,omitempty" json:"usage,omitempty"`

	// Marker is the control intent (kind: control).
	Marker ControlMarker `msgpack:"marker,omitempty" json:"marker,omitempty"`
	// FailureMessage describes the upstream failure for run_failed markers.
	FailureMessage string `msgpack:"failure_message,omitempty" json:"failureMessage,omitempty"`
}
