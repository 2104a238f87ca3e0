package types

import (
	"encoding/json"
	"testing"
)

func TestEventTypeIsTerminal(t *testing.T) {
	if !EventRunFinished.IsTerminal() {
		t.Error("RUN_FINISHED should be terminal")
	}
	if EventRunError.IsTerminal() {
		t.Error("RUN_ERROR should not be terminal (recoverable errors continue the run)")
	}
	if EventTextMessageContent.IsTerminal() {
		t.Error("TEXT_MESSAGE_CONTENT should not be terminal")
	}
}

func TestNewBasePopulatesEnvelope(t *testing.T) {
	base := NewBase(EventTextMessageStart)

	if base.Type != EventTextMessageStart {
		t.Errorf("expected type TEXT_MESSAGE_START, got %s", base.Type)
	}
	if base.ID == "" {
		t.Error("expected non-empty event id")
	}
	if base.Timestamp == nil || *base.Timestamp <= 0 {
		t.Error("expected positive millisecond timestamp")
	}
	if base.SessionID != nil {
		t.Error("session id should start nil; the engine stamps it before publish")
	}
}

func TestEventIDsSortInAllocationOrder(t *testing.T) {
	first := NewBase(EventTextMessageContent)
	second := NewBase(EventTextMessageContent)

	if first.ID >= second.ID {
		t.Errorf("ULID event ids should sort in allocation order: %s >= %s", first.ID, second.ID)
	}
}

func TestWireEnvelopeShape(t *testing.T) {
	sid := "sess-1"
	ev := &TextMessageContentEvent{
		BaseEvent: NewBase(EventTextMessageContent),
		MessageID: "msg-1",
		Delta:     "Hel",
		Index:     0,
	}
	ev.SessionID = &sid

	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded["type"] != "TEXT_MESSAGE_CONTENT" {
		t.Errorf("expected type tag TEXT_MESSAGE_CONTENT, got %v", decoded["type"])
	}
	if decoded["sessionId"] != "sess-1" {
		t.Errorf("expected sessionId sess-1, got %v", decoded["sessionId"])
	}
	// threadId/runId must be present as null, not omitted.
	if v, ok := decoded["threadId"]; !ok || v != nil {
		t.Errorf("expected threadId null, got %v (present=%v)", v, ok)
	}
	// index 0 must survive marshaling (no omitempty on ordering fields).
	if v, ok := decoded["index"]; !ok || v != float64(0) {
		t.Errorf("expected index 0, got %v (present=%v)", v, ok)
	}
}

func TestSessionStatusTransitions(t *testing.T) {
	cases := []struct {
		name string
		from SessionStatus
		to   SessionStatus
		want bool
	}{
		{"started to active", SessionStarted, SessionActive, true},
		{"active to completed", SessionActive, SessionCompleted, true},
		{"active to failed", SessionActive, SessionFailed, true},
		{"active back to started", SessionActive, SessionStarted, false},
		{"completed to active", SessionCompleted, SessionActive, false},
		{"failed to active", SessionFailed, SessionActive, false},
		{"completed to failed", SessionCompleted, SessionFailed, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s: CanTransitionTo = %v, want %v", tc.name, got, tc.want)
		}
	}
}
