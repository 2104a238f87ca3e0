// Package registry maintains the mapping between client-facing thread ids
// and the engine's session ids.
//
// A thread is the client's conversation handle; a run is one agent
// invocation within it. The registry lets a reconnecting client resume the
// session backing its thread instead of starting a new one.
package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/pithecene-io/conduit/log"
)

// Binding is the correlation record held per session.
type Binding struct {
	SessionID string
	ThreadID  string
	RunID     string
}

// Registry is a concurrency-safe bidirectional index of thread ids and
// session ids. A single mutex covers both maps so create-or-resume is an
// atomic check-and-set: two racing calls for the same thread agree on one
// session.
type Registry struct {
	logger *log.Logger

	mu        sync.Mutex
	byThread  map[string]string   // threadID -> sessionID
	bySession map[string]*Binding // sessionID -> binding
}

// New creates an empty registry.
func New(logger *log.Logger) *Registry {
	return &Registry{
		logger:    logger,
		byThread:  make(map[string]string),
		bySession: make(map[string]*Binding),
	}
}

// CreateOrResume returns the session bound to threadID, creating one with a
// fresh uuid if the thread has never been seen. resumed reports whether an
// existing session was reused. When resuming, a non-empty runID replaces the
// binding's run id (a new run on the same thread).
func (r *Registry) CreateOrResume(threadID, runID string) (sessionID string, resumed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byThread[threadID]; ok {
		binding := r.bySession[existing]
		if runID != "" {
			binding.RunID = runID
		}
		return existing, true
	}

	sessionID = uuid.NewString()
	r.byThread[threadID] = sessionID
	r.bySession[sessionID] = &Binding{
		SessionID: sessionID,
		ThreadID:  threadID,
		RunID:     runID,
	}
	r.logger.Debug("session created", map[string]any{
		"session_id": sessionID,
		"thread_id":  threadID,
		"run_id":     runID,
	})
	return sessionID, false
}

// Resolve returns the thread and run ids bound to sessionID.
func (r *Registry) Resolve(sessionID string) (threadID, runID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	binding, ok := r.bySession[sessionID]
	if !ok {
		return "", "", false
	}
	return binding.ThreadID, binding.RunID, true
}

// UpdateRun rebinds sessionID to a new run id. Returns false if the session
// is not registered.
func (r *Registry) UpdateRun(sessionID, runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	binding, ok := r.bySession[sessionID]
	if !ok {
		return false
	}
	binding.RunID = runID
	return true
}

// GetByThread returns the session id bound to threadID, if any.
func (r *Registry) GetByThread(threadID string) (sessionID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok = r.byThread[threadID]
	return sessionID, ok
}

// Remove drops the session and its thread binding. Returns false if the
// session was not registered. Safe to call more than once.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	binding, ok := r.bySession[sessionID]
	if !ok {
		return false
	}
	delete(r.bySession, sessionID)
	delete(r.byThread, binding.ThreadID)
	return true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySession)
}
