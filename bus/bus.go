// Package bus implements the event distribution point between the
// translator and the transport adapters.
//
// The bus is one shared ingress carrying events for every concurrently
// active session; each subscription owns an independent bounded queue
// receiving a filtered copy of the events matching its session id. Slow
// subscribers are decoupled from the publisher and from each other.
//
// Backpressure policy: drop-and-disconnect. A subscriber whose queue is
// full when an event arrives is marked overrun and detached; the publisher
// never blocks. Blocking the publisher would let one stalled connection
// head-of-line block every other session sharing the ingress.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/metrics"
	"github.com/pithecene-io/conduit/types"
)

// DefaultQueueCapacity is the per-subscriber queue capacity when the
// configured value is zero.
const DefaultQueueCapacity = 256

// Bus fans out protocol events to per-session subscribers.
type Bus struct {
	logger    *log.Logger
	collector *metrics.Collector
	capacity  int

	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription // sessionID -> subID -> sub
	nextID uint64
	closed bool
}

// Subscription is one transport adapter's read cursor over the bus,
// scoped to one session.
type Subscription struct {
	id        uint64
	sessionID string
	ch        chan types.Event
	overrun   atomic.Bool
	closed    atomic.Bool
}

// Events returns the subscription's event queue. The channel is closed
// when the subscription is detached, whether by Close, by session
// completion, or by overrun.
func (s *Subscription) Events() <-chan types.Event { return s.ch }

// SessionID returns the session this subscription is scoped to.
func (s *Subscription) SessionID() string { return s.sessionID }

// Overrun returns true if the subscription was detached because its queue
// overflowed.
func (s *Subscription) Overrun() bool { return s.overrun.Load() }

// New creates a bus. queueCapacity bounds each subscriber queue; zero
// selects DefaultQueueCapacity.
func New(logger *log.Logger, collector *metrics.Collector, queueCapacity int) *Bus {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	return &Bus{
		logger:    logger,
		collector: collector,
		capacity:  queueCapacity,
		subs:      make(map[string]map[uint64]*Subscription),
	}
}

// Subscribe establishes an independent bounded queue receiving every event
// published for sessionID, in publish order. The caller must drain the
// queue promptly or accept disconnection under the drop-and-disconnect
// policy. Close the subscription with Unsubscribe.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id:        b.nextID,
		sessionID: sessionID,
		ch:        make(chan types.Event, b.capacity),
	}
	b.nextID++

	if b.closed {
		// A bus shutting down hands back a pre-closed subscription so
		// callers need no special case.
		sub.closed.Store(true)
		close(sub.ch)
		return sub
	}

	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[uint64]*Subscription)
	}
	b.subs[sessionID][sub.id] = sub
	b.collector.IncSubscriberOpened()
	return sub
}

// Unsubscribe detaches a subscription and releases its resources. Other
// subscriptions, on this session or any other, are unaffected. Safe to
// call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detachLocked(sub)
}

// detachLocked removes the subscription from the map and closes its
// channel. Caller holds the write lock, so no Publish is sending.
func (b *Bus) detachLocked(sub *Subscription) {
	if sub.closed.Swap(true) {
		return
	}
	if byID, ok := b.subs[sub.sessionID]; ok {
		delete(byID, sub.id)
		if len(byID) == 0 {
			delete(b.subs, sub.sessionID)
		}
	}
	close(sub.ch)
	b.collector.IncSubscriberClosed()
}

// Publish delivers the event to every subscriber of the event's session.
// Never blocks: a subscriber without queue room is marked overrun and
// detached. Events without a session id are dropped with a warning.
//
// For a fixed session id, all subscribers observe events in the exact
// order Publish was called; cross-session ordering is not guaranteed.
func (b *Bus) Publish(event types.Event) {
	base := event.Base()
	if base.SessionID == nil || *base.SessionID == "" {
		b.logger.Warn("event without session id dropped", map[string]any{
			"type": string(base.Type),
			"id":   base.ID,
		})
		return
	}
	sessionID := *base.SessionID

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	var overrun []*Subscription
	for _, sub := range b.subs[sessionID] {
		select {
		case sub.ch <- event:
		default:
			sub.overrun.Store(true)
			overrun = append(overrun, sub)
		}
	}
	b.mu.RUnlock()

	b.collector.IncEventPublished()

	for _, sub := range overrun {
		b.collector.IncEventDropped()
		b.collector.IncSubscriberOverrun()
		b.logger.Warn("subscriber overrun, disconnecting", map[string]any{
			"session_id": sessionID,
			"subscriber": sub.id,
		})
		b.mu.Lock()
		b.detachLocked(sub)
		b.mu.Unlock()
	}
}

// CloseSession detaches every subscriber of one session. Used when the
// session reaches a terminal state and no further events will follow.
func (b *Bus) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[sessionID] {
		b.detachLocked(sub)
	}
}

// SubscriberCount returns the number of live subscribers for a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// Close shuts the bus down, detaching every subscriber. Publish becomes a
// no-op. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, byID := range b.subs {
		for _, sub := range byID {
			b.detachLocked(sub)
		}
	}
}
