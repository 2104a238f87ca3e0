// Package runtime orchestrates live sessions: one goroutine per session
// drains the fragment source, feeds the translator, publishes the
// resulting events to the bus, and taps the durability writer off the hot
// path.
//
// Session lifecycle: Started on creation, Active once RUN_STARTED is
// emitted, terminal Completed or Failed with RUN_FINISHED. Terminal states
// are monotonic. Cancellation still drains events already queued for
// subscribers: the bus closes queues without discarding buffered entries.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pithecene-io/conduit/adapter"
	"github.com/pithecene-io/conduit/bus"
	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/metrics"
	"github.com/pithecene-io/conduit/registry"
	"github.com/pithecene-io/conduit/store"
	"github.com/pithecene-io/conduit/toolcall"
	"github.com/pithecene-io/conduit/translate"
	"github.com/pithecene-io/conduit/types"
	"github.com/pithecene-io/conduit/wire"
)

// ErrSessionActive is returned when a producer attaches to a thread whose
// session is already draining a source. One producer per session.
var ErrSessionActive = errors.New("runtime: session already has an active producer")

// adapterNotifyTimeout bounds one downstream completion notification.
const adapterNotifyTimeout = 30 * time.Second

// Config wires the engine's collaborators. Bus and Registry are required;
// Writer and Adapter are optional.
type Config struct {
	Logger    *log.Logger
	Collector *metrics.Collector
	Bus       *bus.Bus
	Registry  *registry.Registry
	Writer    *store.Writer
	Adapter   adapter.Adapter
}

// Engine runs the session lifecycle.
type Engine struct {
	logger    *log.Logger
	collector *metrics.Collector
	bus       *bus.Bus
	registry  *registry.Registry
	writer    *store.Writer
	adapter   adapter.Adapter

	mu       sync.Mutex
	sessions map[string]*session

	wg sync.WaitGroup
}

// session is the engine's live-session record.
type session struct {
	id       string
	threadID string
	runID    string
	status   types.SessionStatus
	usage    *types.TokenUsage
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates the engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("runtime: Bus is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("runtime: Registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger("runtime")
	}
	return &Engine{
		logger:    logger,
		collector: cfg.Collector,
		bus:       cfg.Bus,
		registry:  cfg.Registry,
		writer:    cfg.Writer,
		adapter:   cfg.Adapter,
		sessions:  make(map[string]*session),
	}, nil
}

// RecoverSessions marks every session the store left in a non-terminal
// state as failed. Run once at startup, before accepting traffic: a
// session that was live when the previous process died can never complete.
// Returns the number of sessions swept.
func (e *Engine) RecoverSessions(ctx context.Context, st store.Store) (int, error) {
	ids, err := st.ListIncompleteSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("runtime: recovery sweep: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, id := range ids {
		if err := st.MarkFailed(ctx, id, now); err != nil {
			return 0, fmt.Errorf("runtime: recovery sweep: marking %s: %w", id, err)
		}
		e.collector.IncSessionRecovered()
		e.logger.Warn("stale session marked failed", map[string]any{
			"session_id": id,
		})
	}
	return len(ids), nil
}

// StartSession binds the thread to a session (creating or resuming via the
// registry), emits SESSION_STARTED, and starts the drain goroutine on
// source. Returns ErrSessionActive when the thread's session is already
// draining a producer.
func (e *Engine) StartSession(ctx context.Context, threadID, runID string, source FragmentSource) (string, error) {
	sessionID, resumed := e.registry.CreateOrResume(threadID, runID)

	e.mu.Lock()
	if _, live := e.sessions[sessionID]; live {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: session %s", ErrSessionActive, sessionID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &session{
		id:       sessionID,
		threadID: threadID,
		runID:    runID,
		status:   types.SessionStarted,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	e.sessions[sessionID] = s
	e.mu.Unlock()

	e.collector.IncSessionStarted()
	logger := e.logger.WithSession(sessionID)
	logger.Info("session started", map[string]any{
		"thread_id": threadID,
		"run_id":    runID,
		"resumed":   resumed,
	})

	if e.writer != nil {
		e.writer.RecordSession(store.SessionRecord{
			SessionID: sessionID,
			ThreadID:  threadID,
			RunID:     runID,
			Status:    types.SessionStarted,
			StartedAt: time.Now().UnixMilli(),
		})
	}

	started := &types.SessionStartedEvent{BaseEvent: types.NewBase(types.EventSessionStarted)}
	e.emit(s, []types.Event{started})

	translator := translate.NewTranslator(logger, e.collector)
	e.wg.Add(1)
	go e.run(runCtx, s, translator, source, logger)

	return sessionID, nil
}

// run is the per-session drain loop.
func (e *Engine) run(ctx context.Context, s *session, translator *translate.Translator, source FragmentSource, logger *log.Logger) {
	defer e.wg.Done()

	for {
		fragment, err := source.Next(ctx)
		if err != nil {
			var frameErr *wire.FrameError
			switch {
			case errors.Is(err, io.EOF):
				e.emit(s, translator.Finish(types.RunStatusCompleted))
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				logger.Info("producer canceled, draining", nil)
				e.emit(s, translator.Finish(types.RunStatusCanceled))
			case errors.As(err, &frameErr) && !frameErr.IsFatal():
				// Bad frame payload; skip it, the stream stays usable.
				e.collector.IncFrameDecodeError()
				logger.Warn("undecodable frame skipped", map[string]any{
					"error": err.Error(),
				})
				continue
			default:
				logger.Error("upstream failed", map[string]any{
					"error": err.Error(),
				})
				e.emit(s, translator.Fail(translate.ErrCodeUpstreamFailure, err.Error()))
			}
			break
		}

		if e.writer != nil {
			payload, marshalErr := json.Marshal(fragment)
			if marshalErr == nil {
				e.writer.RecordFragment(store.MessageRecord{
					SessionID: s.id,
					Kind:      string(fragment.Kind),
					Payload:   payload,
					Timestamp: time.Now().UnixMilli(),
				})
			}
		}

		e.emit(s, translator.Translate(fragment))
		if translator.Finished() {
			break
		}
	}

	e.warnLeakedCalls(translator.Tracker(), logger)
	e.finalize(s, logger)
}

// emit stamps, publishes, and records a batch of events, tracking the
// lifecycle transitions they imply.
func (e *Engine) emit(s *session, events []types.Event) {
	for _, event := range events {
		base := event.Base()
		base.SessionID = &s.id
		if s.threadID != "" && base.ThreadID == nil {
			base.ThreadID = &s.threadID
		}
		if s.runID != "" && base.RunID == nil {
			base.RunID = &s.runID
		}

		switch ev := event.(type) {
		case *types.RunStartedEvent:
			e.transition(s, types.SessionActive)
		case *types.RunFinishedEvent:
			s.usage = ev.Usage
			if ev.Status == types.RunStatusCompleted {
				e.transition(s, types.SessionCompleted)
			} else {
				e.transition(s, types.SessionFailed)
			}
		}

		e.bus.Publish(event)

		if e.writer != nil {
			e.writer.RecordEvent(store.EventMetaRecord{
				SessionID: s.id,
				EventID:   base.ID,
				Type:      string(base.Type),
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}
}

// transition applies a monotonic status change, persisting it when a
// writer is attached. Invalid transitions are logged and ignored.
func (e *Engine) transition(s *session, next types.SessionStatus) {
	e.mu.Lock()
	current := s.status
	if !current.CanTransitionTo(next) {
		e.mu.Unlock()
		e.logger.Warn("session status transition rejected", map[string]any{
			"session_id": s.id,
			"from":       string(current),
			"to":         string(next),
		})
		return
	}
	s.status = next
	e.mu.Unlock()

	var endedAt *int64
	if next.IsTerminal() {
		now := time.Now().UnixMilli()
		endedAt = &now
	}
	if e.writer != nil {
		e.writer.RecordStatus(s.id, next, endedAt)
	}
}

// warnLeakedCalls logs tool calls that never saw a result.
func (e *Engine) warnLeakedCalls(tracker *toolcall.Tracker, logger *log.Logger) {
	for _, callID := range tracker.OpenCalls() {
		logger.Warn("tool call never closed", map[string]any{
			"call_id": callID,
		})
	}
}

// finalize runs once per session after the drain loop exits.
func (e *Engine) finalize(s *session, logger *log.Logger) {
	// The drain loop can exit without a RUN_FINISHED only if the
	// translator had already finished when the source failed; the session
	// is terminal by then. Force failed as a backstop.
	e.mu.Lock()
	if !s.status.IsTerminal() {
		s.status = types.SessionFailed
	}
	status := s.status
	delete(e.sessions, s.id)
	e.mu.Unlock()
	defer close(s.done)

	switch status {
	case types.SessionCompleted:
		e.collector.IncSessionCompleted()
	default:
		e.collector.IncSessionFailed()
	}

	e.bus.CloseSession(s.id)
	e.registry.Remove(s.id)
	logger.Info("session finished", map[string]any{
		"status": string(status),
	})

	if e.adapter != nil {
		notification := adapter.SessionCompleted{
			SessionID: s.id,
			ThreadID:  s.threadID,
			RunID:     s.runID,
			Status:    status,
			EndedAt:   time.Now().UnixMilli(),
			Usage:     s.usage,
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), adapterNotifyTimeout)
			defer cancel()
			if err := e.adapter.NotifySessionCompleted(ctx, notification); err != nil {
				logger.Error("completion notification failed", map[string]any{
					"adapter": e.adapter.Name(),
					"error":   err.Error(),
				})
			}
		}()
	}
}

// WaitSession blocks until the session's drain loop has finished, or ctx
// expires. Returns immediately for unknown (already finished) sessions.
func (e *Engine) WaitSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelSession stops the session's producer. The drain loop emits the
// terminal events and completes the lifecycle. Returns false for unknown
// or already-finished sessions.
func (e *Engine) CancelSession(sessionID string) bool {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	return true
}

// SessionStatus returns the live status of a session.
func (e *Engine) SessionStatus(sessionID string) (types.SessionStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return "", false
	}
	return s.status, true
}

// ActiveSessions returns the number of live sessions.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Shutdown cancels every live session and waits for their drain loops and
// pending notifications, or until ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, s := range e.sessions {
		s.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runtime: shutdown: %w", ctx.Err())
	}
}
