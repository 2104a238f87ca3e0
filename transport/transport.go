// Package transport holds the surface shared by the streaming transport
// adapters.
//
// An adapter subscribes to the bus for one session, serializes each event
// to its JSON wire envelope, and unsubscribes promptly on peer disconnect.
// Adapters are pure consumers: they never mutate session or tool-call
// state.
package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pithecene-io/conduit/types"
)

// Default stream timings, overridable per adapter via Options.
const (
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
)

// Options carries the stream timings shared by the adapters.
type Options struct {
	// KeepAliveInterval is the gap between keep-alive frames (SSE
	// comments, WebSocket pings). Zero selects the default.
	KeepAliveInterval time.Duration

	// WriteTimeout bounds a single frame write to the peer. Zero selects
	// the default.
	WriteTimeout time.Duration
}

// WithDefaults fills zero fields with the package defaults.
func (o Options) WithDefaults() Options {
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	return o
}

// EncodeEvent serializes an event to its JSON wire envelope.
func EncodeEvent(event types.Event) ([]byte, error) {
	return json.Marshal(event)
}

// SessionIDFromRequest extracts the session id from the request: the
// "session" query parameter when present, else the last path segment.
func SessionIDFromRequest(r *http.Request) string {
	if id := r.URL.Query().Get("session"); id != "" {
		return id
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return ""
}
