// Package translate converts raw agent fragments into protocol events.
//
// The Translator is stateful per generation id: each generation carries its
// own open text stream, open reasoning stream, and open tool-call argument
// stream. A single goroutine drains one session's fragment sequence, so the
// translator requires no locking. Interleaved generations degrade to
// independent, individually correct state machines.
package translate

import (
	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/metrics"
	"github.com/pithecene-io/conduit/toolcall"
	"github.com/pithecene-io/conduit/types"
)

// messageState tracks one open text or reasoning message.
type messageState struct {
	id     string
	chunks int64
}

// generationState is the per-generation translator state.
type generationState struct {
	stepEmitted   bool
	openText      *messageState
	openReasoning *messageState
	// reasoningPhase is true between REASONING_START and REASONING_END.
	reasoningPhase bool
	// openArgsCall is the call id currently streaming arguments, if any.
	openArgsCall string
}

// Translator converts a sequence of fragments into protocol events.
//
// Invariants upheld for every message id: exactly one start event, content
// events with gap-free indices from 0, exactly one end event whose
// totalChunks equals the content count. A malformed fragment produces one
// recoverable RUN_ERROR event and is otherwise discarded; the translator
// never faults on a single bad fragment.
type Translator struct {
	logger    *log.Logger
	tracker   *toolcall.Tracker
	collector *metrics.Collector

	generations map[string]*generationState

	usage       *types.TokenUsage
	runStarted  bool
	runFinished bool
}

// NewTranslator creates a translator for one session.
func NewTranslator(logger *log.Logger, collector *metrics.Collector) *Translator {
	return &Translator{
		logger:      logger,
		tracker:     toolcall.NewTracker(logger),
		collector:   collector,
		generations: make(map[string]*generationState),
	}
}

// Tracker exposes the tool-call tracker for diagnostics.
func (t *Translator) Tracker() *toolcall.Tracker { return t.tracker }

// Finished returns true once a RUN_FINISHED event has been emitted.
func (t *Translator) Finished() bool { return t.runFinished }

// Translate converts one fragment into zero or more protocol events.
func (t *Translator) Translate(fragment *types.Fragment) []types.Event {
	t.collector.IncFragmentIngested()

	if err := validateFragment(fragment); err != nil {
		t.collector.IncProtocolViolation()
		t.logger.Warn("malformed fragment discarded", map[string]any{
			"error": err.Error(),
			"kind":  string(fragment.Kind),
		})
		return t.count(t.protocolError(err))
	}

	if t.runFinished {
		t.logger.Warn("fragment after run finished, dropped", map[string]any{
			"kind":          string(fragment.Kind),
			"generation_id": fragment.GenerationID,
		})
		return nil
	}

	var events []types.Event
	if !t.runStarted {
		t.runStarted = true
		ev := &types.RunStartedEvent{BaseEvent: types.NewBase(types.EventRunStarted)}
		events = append(events, ev)
	}

	gen := t.generation(fragment.GenerationID)
	if !gen.stepEmitted && fragment.Kind != types.FragmentControl {
		gen.stepEmitted = true
		events = append(events, &types.StepStartedEvent{
			BaseEvent: types.NewBase(types.EventStepStarted),
			StepID:    fragment.GenerationID,
		})
	}

	switch fragment.Kind {
	case types.FragmentText:
		events = append(events, t.closeReasoning(gen)...)
		events = append(events, t.closeArgsStream(gen)...)
		events = append(events, t.textContent(gen, fragment)...)

	case types.FragmentReasoning:
		events = append(events, t.closeText(gen)...)
		events = append(events, t.closeArgsStream(gen)...)
		events = append(events, t.reasoningContent(gen, fragment)...)

	case types.FragmentToolInvocation:
		events = append(events, t.closeText(gen)...)
		events = append(events, t.closeReasoning(gen)...)
		events = append(events, t.toolInvocation(gen, fragment)...)

	case types.FragmentToolResult:
		events = append(events, t.closeText(gen)...)
		events = append(events, t.closeReasoning(gen)...)
		events = append(events, t.toolResult(gen, fragment)...)

	case types.FragmentUsage:
		if fragment.Usage != nil {
			t.usage = fragment.Usage
		}

	case types.FragmentControl:
		events = append(events, t.control(fragment.GenerationID, gen, fragment)...)
	}

	return t.count(events)
}

// Finish closes any streams left open and emits the terminal RUN_FINISHED
// event. The engine calls it when the upstream ends without an explicit
// run_end marker (EOF, cancellation, upstream crash).
func (t *Translator) Finish(status types.RunStatus) []types.Event {
	if t.runFinished {
		return nil
	}
	var events []types.Event
	for genID, gen := range t.generations {
		events = append(events, t.closeAll(gen)...)
		if gen.stepEmitted {
			events = append(events, &types.StepFinishedEvent{
				BaseEvent: types.NewBase(types.EventStepFinished),
				StepID:    genID,
			})
		}
	}
	events = append(events, t.finishRun(status)...)
	return t.count(events)
}

// Fail emits a non-recoverable RUN_ERROR followed by RUN_FINISHED with
// failed status. Used for upstream failures.
func (t *Translator) Fail(code, message string) []types.Event {
	return t.count(t.fail(code, message))
}

func (t *Translator) fail(code, message string) []types.Event {
	if t.runFinished {
		return nil
	}
	var events []types.Event
	for genID, gen := range t.generations {
		events = append(events, t.closeAll(gen)...)
		if gen.stepEmitted {
			events = append(events, &types.StepFinishedEvent{
				BaseEvent: types.NewBase(types.EventStepFinished),
				StepID:    genID,
			})
		}
	}
	events = append(events, &types.RunErrorEvent{
		BaseEvent:   types.NewBase(types.EventRunError),
		Code:        code,
		Message:     message,
		Recoverable: false,
	})
	events = append(events, t.finishRun(types.RunStatusFailed)...)
	return events
}

func (t *Translator) generation(id string) *generationState {
	gen, ok := t.generations[id]
	if !ok {
		gen = &generationState{}
		t.generations[id] = gen
	}
	return gen
}

func (t *Translator) count(events []types.Event) []types.Event {
	for range events {
		t.collector.IncEventTranslated()
	}
	return events
}

// protocolError produces the single recoverable error event for a
// malformed fragment.
func (t *Translator) protocolError(err error) []types.Event {
	return []types.Event{&types.RunErrorEvent{
		BaseEvent:   types.NewBase(types.EventRunError),
		Code:        ErrCodeProtocolViolation,
		Message:     err.Error(),
		Recoverable: true,
	}}
}

func (t *Translator) textContent(gen *generationState, fragment *types.Fragment) []types.Event {
	var events []types.Event
	if gen.openText == nil {
		gen.openText = &messageState{id: types.NewMessageID()}
		role := fragment.Role
		if role == "" {
			role = "assistant"
		}
		events = append(events, &types.TextMessageStartEvent{
			BaseEvent: types.NewBase(types.EventTextMessageStart),
			MessageID: gen.openText.id,
			Role:      role,
		})
	}
	events = append(events, &types.TextMessageContentEvent{
		BaseEvent: types.NewBase(types.EventTextMessageContent),
		MessageID: gen.openText.id,
		Delta:     fragment.Delta,
		Index:     gen.openText.chunks,
	})
	gen.openText.chunks++
	return events
}

func (t *Translator) reasoningContent(gen *generationState, fragment *types.Fragment) []types.Event {
	var events []types.Event
	if !gen.reasoningPhase {
		gen.reasoningPhase = true
		events = append(events, &types.ReasoningStartEvent{
			BaseEvent: types.NewBase(types.EventReasoningStart),
		})
	}
	if gen.openReasoning == nil {
		gen.openReasoning = &messageState{id: types.NewMessageID()}
		events = append(events, &types.ReasoningMessageStartEvent{
			BaseEvent: types.NewBase(types.EventReasoningMessageStart),
			MessageID: gen.openReasoning.id,
		})
	}
	events = append(events, &types.ReasoningMessageContentEvent{
		BaseEvent: types.NewBase(types.EventReasoningMessageContent),
		MessageID: gen.openReasoning.id,
		Delta:     fragment.Delta,
		Index:     gen.openReasoning.chunks,
	})
	gen.openReasoning.chunks++
	return events
}

func (t *Translator) toolInvocation(gen *generationState, fragment *types.Fragment) []types.Event {
	var events []types.Event

	callID, created := t.tracker.Open(fragment.GenerationID, fragment.ToolCallID, fragment.ToolName)

	// A new call closes the previous call's argument stream.
	if gen.openArgsCall != "" && gen.openArgsCall != callID {
		events = append(events, t.closeArgsStream(gen)...)
	}

	if created {
		t.tracker.MarkExecuting(callID)
		call, _ := t.tracker.Lookup(callID)
		events = append(events, &types.ToolCallStartEvent{
			BaseEvent: types.NewBase(types.EventToolCallStart),
			CallID:    callID,
			ToolName:  call.Name,
		})
		gen.openArgsCall = callID
	}

	if fragment.ArgsDelta != "" {
		if t.tracker.RecordArgsDelta(callID, fragment.ArgsDelta) {
			events = append(events, &types.ToolCallArgsEvent{
				BaseEvent: types.NewBase(types.EventToolCallArgs),
				CallID:    callID,
				Delta:     fragment.ArgsDelta,
			})
		}
	}

	return events
}

func (t *Translator) toolResult(gen *generationState, fragment *types.Fragment) []types.Event {
	var events []types.Event

	callID := fragment.ToolCallID
	if gen.openArgsCall == callID {
		events = append(events, t.closeArgsStream(gen)...)
	}

	status := t.tracker.Close(callID, fragment.IsError)
	if status == toolcall.StatusUnknown {
		// Result arrived before its invocation. Synthesize a best-effort
		// lifecycle so downstream consumers still see a well-formed pair.
		t.collector.IncCorrelationMiss()
		t.logger.Warn("synthesizing tool call start for orphan result", map[string]any{
			"call_id": callID,
		})
		events = append(events,
			&types.ToolCallStartEvent{
				BaseEvent: types.NewBase(types.EventToolCallStart),
				CallID:    callID,
				ToolName:  fragment.ToolName,
			},
			&types.ToolCallEndEvent{
				BaseEvent: types.NewBase(types.EventToolCallEnd),
				CallID:    callID,
			},
		)
	}

	events = append(events, &types.ToolCallResultEvent{
		BaseEvent: types.NewBase(types.EventToolCallResult),
		CallID:    callID,
		Result:    fragment.Result,
		IsError:   fragment.IsError,
	})
	return events
}

func (t *Translator) control(genID string, gen *generationState, fragment *types.Fragment) []types.Event {
	var events []types.Event
	switch fragment.Marker {
	case types.ControlFlush:
		events = append(events, t.closeAll(gen)...)

	case types.ControlGenerationEnd:
		events = append(events, t.closeAll(gen)...)
		if gen.stepEmitted {
			events = append(events, &types.StepFinishedEvent{
				BaseEvent: types.NewBase(types.EventStepFinished),
				StepID:    genID,
			})
		}
		delete(t.generations, genID)

	case types.ControlRunEnd:
		for id, g := range t.generations {
			events = append(events, t.closeAll(g)...)
			if g.stepEmitted {
				events = append(events, &types.StepFinishedEvent{
					BaseEvent: types.NewBase(types.EventStepFinished),
					StepID:    id,
				})
			}
		}
		events = append(events, t.finishRun(types.RunStatusCompleted)...)

	case types.ControlRunFailed:
		message := fragment.FailureMessage
		if message == "" {
			message = "upstream failure"
		}
		events = append(events, t.fail(ErrCodeUpstreamFailure, message)...)

	default:
		t.collector.IncProtocolViolation()
		events = append(events, t.protocolError(&ProtocolError{
			Kind: ProtocolErrorUnknownMarker,
			Msg:  "unknown control marker: " + string(fragment.Marker),
		})...)
	}
	return events
}

// finishRun emits the terminal RUN_FINISHED, attaching accumulated usage.
func (t *Translator) finishRun(status types.RunStatus) []types.Event {
	if t.runFinished {
		return nil
	}
	t.runFinished = true
	if !t.runStarted {
		t.runStarted = true
	}
	t.generations = make(map[string]*generationState)
	return []types.Event{&types.RunFinishedEvent{
		BaseEvent: types.NewBase(types.EventRunFinished),
		Status:    status,
		Usage:     t.usage,
	}}
}

func (t *Translator) closeAll(gen *generationState) []types.Event {
	var events []types.Event
	events = append(events, t.closeText(gen)...)
	events = append(events, t.closeReasoning(gen)...)
	events = append(events, t.closeArgsStream(gen)...)
	return events
}

func (t *Translator) closeText(gen *generationState) []types.Event {
	if gen.openText == nil {
		return nil
	}
	ev := &types.TextMessageEndEvent{
		BaseEvent:   types.NewBase(types.EventTextMessageEnd),
		MessageID:   gen.openText.id,
		TotalChunks: gen.openText.chunks,
	}
	gen.openText = nil
	return []types.Event{ev}
}

func (t *Translator) closeReasoning(gen *generationState) []types.Event {
	var events []types.Event
	if gen.openReasoning != nil {
		events = append(events, &types.ReasoningMessageEndEvent{
			BaseEvent:   types.NewBase(types.EventReasoningMessageEnd),
			MessageID:   gen.openReasoning.id,
			TotalChunks: gen.openReasoning.chunks,
		})
		gen.openReasoning = nil
	}
	if gen.reasoningPhase {
		events = append(events, &types.ReasoningEndEvent{
			BaseEvent: types.NewBase(types.EventReasoningEnd),
		})
		gen.reasoningPhase = false
	}
	return events
}

func (t *Translator) closeArgsStream(gen *generationState) []types.Event {
	if gen.openArgsCall == "" {
		return nil
	}
	ev := &types.ToolCallEndEvent{
		BaseEvent: types.NewBase(types.EventToolCallEnd),
		CallID:    gen.openArgsCall,
	}
	gen.openArgsCall = ""
	return []types.Event{ev}
}
