// Package ws implements the push-stream transport adapter: one WebSocket
// connection per session subscription.
//
// Each event goes out as one JSON text frame. Pings run on the keep-alive
// interval; inbound client frames are read and discarded so the read side
// keeps draining for close and pong handling.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pithecene-io/conduit/bus"
	"github.com/pithecene-io/conduit/iox"
	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/transport"
)

// maxInboundFrameSize bounds discarded client frames.
const maxInboundFrameSize = 4096

// Handler streams bus events for one session over a WebSocket.
type Handler struct {
	bus      *bus.Bus
	logger   *log.Logger
	opts     transport.Options
	upgrader websocket.Upgrader
}

var _ http.Handler = (*Handler)(nil)

// NewHandler creates the WebSocket adapter.
func NewHandler(b *bus.Bus, logger *log.Logger, opts transport.Options) *Handler {
	return &Handler{
		bus:    b,
		logger: logger,
		opts:   opts.WithDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// ServeHTTP upgrades the connection, subscribes to the request's session,
// and pushes events until the session completes, the subscriber overruns,
// or the peer goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := transport.SessionIDFromRequest(r)
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", map[string]any{
			"error": err.Error(),
		})
		return
	}
	defer iox.DiscardClose(conn)

	logger := h.logger.WithSession(sessionID)
	sub := h.bus.Subscribe(sessionID)
	defer h.bus.Unsubscribe(sub)

	// Pong handling: every pong extends the read deadline; a missed
	// deadline fails the next read and tears the connection down.
	pongWait := 2 * h.opts.KeepAliveInterval
	conn.SetReadLimit(maxInboundFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Drain inbound frames. The protocol is push-only, so payloads are
	// discarded; the loop exists to surface close frames and pongs.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pinger := time.NewTicker(h.opts.KeepAliveInterval)
	defer pinger.Stop()

	for {
		select {
		case <-readClosed:
			logger.Debug("websocket client disconnected", nil)
			return

		case event, open := <-sub.Events():
			if !open {
				h.writeClose(conn, sub)
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
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug("websocket write failed", map[string]any{
					"error": err.Error(),
				})
				return
			}

		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeClose sends the close handshake: policy violation after an overrun
// disconnect, normal closure after session completion.
func (h *Handler) writeClose(conn *websocket.Conn, sub *bus.Subscription) {
	code := websocket.CloseNormalClosure
	reason := "session complete"
	if sub.Overrun() {
		code = websocket.ClosePolicyViolation
		reason = "subscriber overrun"
	}
	_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason))
}
