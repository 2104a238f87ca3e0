package translate

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/conduit/types"
)

// Error codes carried on RUN_ERROR events.
const (
	// ErrCodeProtocolViolation marks a recoverable error caused by a
	// malformed or out-of-order fragment.
	ErrCodeProtocolViolation = "PROTOCOL_VIOLATION"
	// ErrCodeUpstreamFailure marks a non-recoverable failure of the
	// agent/tool execution collaborator.
	ErrCodeUpstreamFailure = "UPSTREAM_FAILURE"
)

// ProtocolErrorKind classifies fragment validation errors.
type ProtocolErrorKind int

const (
	// ProtocolErrorMissingField indicates a fragment missing a required field.
	ProtocolErrorMissingField ProtocolErrorKind = iota
	// ProtocolErrorUnknownKind indicates an unrecognized fragment kind.
	ProtocolErrorUnknownKind
	// ProtocolErrorUnknownMarker indicates an unrecognized control marker.
	ProtocolErrorUnknownMarker
)

// ProtocolError represents a fragment that violates the fragment contract.
// Always recoverable: the translator surfaces one RUN_ERROR event and
// continues.
type ProtocolError struct {
	Kind ProtocolErrorKind
	Msg  string
}

func (e *ProtocolError) Error() string { return e.Msg }

// IsProtocolError returns true if the error is a fragment contract violation.
func IsProtocolError(err error) bool {
	var protoErr *ProtocolError
	return errors.As(err, &protoErr)
}

// validateFragment checks the fragment's required fields per kind.
func validateFragment(fragment *types.Fragment) error {
	if !fragment.Kind.Valid() {
		return &ProtocolError{
			Kind: ProtocolErrorUnknownKind,
			Msg:  fmt.Sprintf("unknown fragment kind: %q", fragment.Kind),
		}
	}
	if fragment.GenerationID == "" {
		return &ProtocolError{
			Kind: ProtocolErrorMissingField,
			Msg:  "fragment missing generation_id",
		}
	}

	switch fragment.Kind {
	case types.FragmentToolInvocation:
		if fragment.ToolName == "" && fragment.ToolCallID == "" && fragment.ArgsDelta == "" {
			return &ProtocolError{
				Kind: ProtocolErrorMissingField,
				Msg:  "tool invocation missing tool_name, tool_call_id, and args_delta",
			}
		}
	case types.FragmentToolResult:
		if fragment.ToolCallID == "" {
			return &ProtocolError{
				Kind: ProtocolErrorMissingField,
				Msg:  "tool result missing tool_call_id",
			}
		}
	case types.FragmentUsage:
		if fragment.Usage == nil {
			return &ProtocolError{
				Kind: ProtocolErrorMissingField,
				Msg:  "usage fragment missing counters",
			}
		}
	case types.FragmentControl:
		if fragment.Marker == "" {
			return &ProtocolError{
				Kind: ProtocolErrorMissingField,
				Msg:  "control fragment missing marker",
			}
		}
	}
	return nil
}
