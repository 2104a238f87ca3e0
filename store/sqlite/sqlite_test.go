package sqlite

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/store"
	"github.com/pithecene-io/conduit/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(PoolConfig{
		Path:   filepath.Join(t.TempDir(), "conduit.db"),
		Logger: log.NewLogger("sqlite-test").WithOutput(io.Discard),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	record := store.SessionRecord{
		SessionID: "s1",
		ThreadID:  "t1",
		RunID:     "r1",
		Status:    types.SessionStarted,
		StartedAt: 1000,
	}
	if err := s.AppendSession(ctx, record); err != nil {
		t.Fatalf("append session: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.ThreadID != "t1" || got.RunID != "r1" || got.Status != types.SessionStarted {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.EndedAt != nil {
		t.Error("live session must have nil ended_at")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetSession(t.Context(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSessionStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	if err := s.AppendSession(ctx, store.SessionRecord{
		SessionID: "s1",
		ThreadID:  "t1",
		Status:    types.SessionStarted,
		StartedAt: 1000,
	}); err != nil {
		t.Fatalf("append session: %v", err)
	}

	if err := s.UpdateSessionStatus(ctx, "s1", types.SessionActive, nil); err != nil {
		t.Fatalf("update to active: %v", err)
	}

	endedAt := int64(2000)
	if err := s.UpdateSessionStatus(ctx, "s1", types.SessionCompleted, &endedAt); err != nil {
		t.Fatalf("update to completed: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != types.SessionCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.EndedAt == nil || *got.EndedAt != 2000 {
		t.Errorf("ended_at = %v, want 2000", got.EndedAt)
	}

	err = s.UpdateSessionStatus(ctx, "missing", types.SessionActive, nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("update of unknown session: expected ErrNotFound, got %v", err)
	}
}

func TestMessagesPreserveArrivalOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	for i, payload := range []string{`{"delta":"Hel"}`, `{"delta":"lo"}`, `{"marker":"run_end"}`} {
		kind := "text"
		if i == 2 {
			kind = "control"
		}
		err := s.AppendMessage(ctx, store.MessageRecord{
			SessionID: "s1",
			Kind:      kind,
			Payload:   []byte(payload),
			Timestamp: int64(1000 + i),
		})
		if err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
	}

	records, err := s.ListMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(records))
	}
	if string(records[0].Payload) != `{"delta":"Hel"}` {
		t.Errorf("first message payload = %s", records[0].Payload)
	}
	if records[2].Kind != "control" {
		t.Errorf("third message kind = %s, want control", records[2].Kind)
	}

	if other, err := s.ListMessages(ctx, "s2"); err != nil || len(other) != 0 {
		t.Errorf("unrelated session must have no messages, got %d (%v)", len(other), err)
	}
}

func TestAppendEventMeta(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	err := s.AppendEventMeta(ctx, store.EventMetaRecord{
		SessionID: "s1",
		EventID:   "evt-1",
		Type:      string(types.EventTextMessageStart),
		Timestamp: 1000,
	})
	if err != nil {
		t.Fatalf("append event meta: %v", err)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	seed := []store.SessionRecord{
		{SessionID: "old", ThreadID: "t1", Status: types.SessionCompleted, StartedAt: 1000},
		{SessionID: "mid", ThreadID: "t2", Status: types.SessionFailed, StartedAt: 2000},
		{SessionID: "new", ThreadID: "t3", Status: types.SessionActive, StartedAt: 3000},
	}
	for _, record := range seed {
		if err := s.AppendSession(ctx, record); err != nil {
			t.Fatalf("append %s: %v", record.SessionID, err)
		}
	}

	records, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(records))
	}
	if records[0].SessionID != "new" || records[2].SessionID != "old" {
		t.Errorf("sessions not newest-first: %s, %s, %s",
			records[0].SessionID, records[1].SessionID, records[2].SessionID)
	}

	limited, err := s.ListSessions(ctx, 2)
	if err != nil {
		t.Fatalf("list sessions with limit: %v", err)
	}
	if len(limited) != 2 || limited[0].SessionID != "new" {
		t.Errorf("limited list = %+v, want newest 2", limited)
	}
}

func TestIncompleteSessionsAndMarkFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	seed := []store.SessionRecord{
		{SessionID: "stale-started", ThreadID: "t1", Status: types.SessionStarted, StartedAt: 1},
		{SessionID: "stale-active", ThreadID: "t2", Status: types.SessionActive, StartedAt: 2},
		{SessionID: "done", ThreadID: "t3", Status: types.SessionCompleted, StartedAt: 3},
		{SessionID: "failed", ThreadID: "t4", Status: types.SessionFailed, StartedAt: 4},
	}
	for _, record := range seed {
		if err := s.AppendSession(ctx, record); err != nil {
			t.Fatalf("append %s: %v", record.SessionID, err)
		}
	}

	ids, err := s.ListIncompleteSessions(ctx)
	if err != nil {
		t.Fatalf("list incomplete: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 incomplete sessions, got %v", ids)
	}

	for _, id := range ids {
		if err := s.MarkFailed(ctx, id, 5000); err != nil {
			t.Fatalf("mark failed %s: %v", id, err)
		}
	}

	ids, err = s.ListIncompleteSessions(ctx)
	if err != nil {
		t.Fatalf("list incomplete after sweep: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no incomplete sessions after sweep, got %v", ids)
	}

	got, err := s.GetSession(ctx, "stale-active")
	if err != nil {
		t.Fatalf("get swept session: %v", err)
	}
	if got.Status != types.SessionFailed || got.EndedAt == nil || *got.EndedAt != 5000 {
		t.Errorf("swept session = %+v, want failed at 5000", got)
	}
}

func TestSchemaSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conduit.db")
	logger := log.NewLogger("sqlite-test").WithOutput(io.Discard)

	first, err := Open(PoolConfig{Path: path, Logger: logger})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := first.AppendSession(t.Context(), store.SessionRecord{
		SessionID: "s1",
		ThreadID:  "t1",
		Status:    types.SessionActive,
		StartedAt: 1,
	}); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := Open(PoolConfig{Path: path, Logger: logger})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Close()

	got, err := second.GetSession(t.Context(), "s1")
	if err != nil {
		t.Fatalf("get session after reopen: %v", err)
	}
	if got.Status != types.SessionActive {
		t.Errorf("status after reopen = %s, want active", got.Status)
	}
}
