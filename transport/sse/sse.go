// Package sse implements the pull-stream transport adapter: one
// Server-Sent Events response per session subscription.
//
// Frames: `data: <json>` per event, `event: done` on normal completion,
// `event: error` with a JSON error body on abnormal termination, and
// comment frames as keep-alives.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pithecene-io/conduit/bus"
	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/transport"
)

// Handler streams bus events for one session as an SSE response.
type Handler struct {
	bus    *bus.Bus
	logger *log.Logger
	opts   transport.Options
}

var _ http.Handler = (*Handler)(nil)

// NewHandler creates the SSE adapter.
func NewHandler(b *bus.Bus, logger *log.Logger, opts transport.Options) *Handler {
	return &Handler{
		bus:    b,
		logger: logger,
		opts:   opts.WithDefaults(),
	}
}

// ServeHTTP subscribes to the request's session and streams until the
// session completes, the subscriber overruns, or the peer disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := transport.SessionIDFromRequest(r)
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := h.logger.WithSession(sessionID)
	sub := h.bus.Subscribe(sessionID)
	defer h.bus.Unsubscribe(sub)

	keepAlive := time.NewTicker(h.opts.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("sse client disconnected", nil)
			return

		case event, open := <-sub.Events():
			if !open {
				h.writeTerminal(w, flusher, sub)
				return
			}
			payload, err := transport.EncodeEvent(event)
			if err != nil {
				logger.Error("event encode failed", map[string]any{
					"type":  string(event.Base().Type),
					"error": err.Error(),
				})
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// writeTerminal emits the closing frame: `event: error` after an overrun
// disconnect, `event: done` after normal session completion.
func (h *Handler) writeTerminal(w http.ResponseWriter, flusher http.Flusher, sub *bus.Subscription) {
	if sub.Overrun() {
		body, _ := json.Marshal(map[string]string{
			"error": "subscriber overrun: event queue overflowed",
		})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", body)
	} else {
		fmt.Fprint(w, "event: done\ndata: {}\n\n")
	}
	flusher.Flush()
}
