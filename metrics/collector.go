// Package metrics provides process-wide metrics collection for the
// protocol engine.
//
// The Collector accumulates counters across all sessions. It is a leaf
// package with no internal dependencies. All increment methods are
// nil-receiver safe, so components may carry an optional collector.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Session lifecycle
	SessionsStarted   int64
	SessionsCompleted int64
	SessionsFailed    int64
	SessionsRecovered int64

	// Translation
	FragmentsIngested  int64
	EventsTranslated   int64
	ProtocolViolations int64
	CorrelationMisses  int64
	FrameDecodeErrors  int64

	// Event bus
	EventsPublished   int64
	EventsDropped     int64
	SubscribersOpened int64
	SubscribersClosed int64
	SubscriberOverrun int64

	// Durability
	StoreWriteSuccess int64
	StoreWriteFailure int64

	// Dimensions (informational, set at construction)
	Transport      string
	StorageBackend string
}

// Collector accumulates metrics for one engine process.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sessionsStarted   int64
	sessionsCompleted int64
	sessionsFailed    int64
	sessionsRecovered int64

	fragmentsIngested  int64
	eventsTranslated   int64
	protocolViolations int64
	correlationMisses  int64
	frameDecodeErrors  int64

	eventsPublished   int64
	eventsDropped     int64
	subscribersOpened int64
	subscribersClosed int64
	subscriberOverrun int64

	storeWriteSuccess int64
	storeWriteFailure int64

	transport      string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(transport, storageBackend string) *Collector {
	return &Collector{
		transport:      transport,
		storageBackend: storageBackend,
	}
}

// --- Session lifecycle ---

// IncSessionStarted records a session creation.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsStarted++
	c.mu.Unlock()
}

// IncSessionCompleted records a session reaching Completed.
func (c *Collector) IncSessionCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsCompleted++
	c.mu.Unlock()
}

// IncSessionFailed records a session reaching Failed.
func (c *Collector) IncSessionFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsFailed++
	c.mu.Unlock()
}

// IncSessionRecovered records a stale session marked Failed by the
// startup recovery sweep.
func (c *Collector) IncSessionRecovered() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsRecovered++
	c.mu.Unlock()
}

// --- Translation ---

// IncFragmentIngested records one fragment consumed from the upstream.
func (c *Collector) IncFragmentIngested() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fragmentsIngested++
	c.mu.Unlock()
}

// IncEventTranslated records one protocol event produced by the translator.
func (c *Collector) IncEventTranslated() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsTranslated++
	c.mu.Unlock()
}

// IncProtocolViolation records a malformed or out-of-order fragment.
func (c *Collector) IncProtocolViolation() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.protocolViolations++
	c.mu.Unlock()
}

// IncCorrelationMiss records a tool result with no open call.
func (c *Collector) IncCorrelationMiss() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.correlationMisses++
	c.mu.Unlock()
}

// IncFrameDecodeError records a fragment frame decode error.
func (c *Collector) IncFrameDecodeError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.frameDecodeErrors++
	c.mu.Unlock()
}

// --- Event bus ---

// IncEventPublished records one event accepted by the bus.
func (c *Collector) IncEventPublished() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsPublished++
	c.mu.Unlock()
}

// IncEventDropped records one event dropped for an overrun subscriber.
func (c *Collector) IncEventDropped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsDropped++
	c.mu.Unlock()
}

// IncSubscriberOpened records a new bus subscription.
func (c *Collector) IncSubscriberOpened() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.subscribersOpened++
	c.mu.Unlock()
}

// IncSubscriberClosed records a closed bus subscription.
func (c *Collector) IncSubscriberClosed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.subscribersClosed++
	c.mu.Unlock()
}

// IncSubscriberOverrun records a subscriber disconnected for falling behind.
func (c *Collector) IncSubscriberOverrun() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.subscriberOverrun++
	c.mu.Unlock()
}

// --- Durability ---

// IncStoreWriteSuccess records a successful store write (per-call).
func (c *Collector) IncStoreWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storeWriteSuccess++
	c.mu.Unlock()
}

// IncStoreWriteFailure records a failed store write (per-call).
func (c *Collector) IncStoreWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storeWriteFailure++
	c.mu.Unlock()
}

// Snapshot returns an atomic snapshot of all counters.
// Nil-receiver safe: returns a zero Snapshot.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionsStarted:    c.sessionsStarted,
		SessionsCompleted:  c.sessionsCompleted,
		SessionsFailed:     c.sessionsFailed,
		SessionsRecovered:  c.sessionsRecovered,
		FragmentsIngested:  c.fragmentsIngested,
		EventsTranslated:   c.eventsTranslated,
		ProtocolViolations: c.protocolViolations,
		CorrelationMisses:  c.correlationMisses,
		FrameDecodeErrors:  c.frameDecodeErrors,
		EventsPublished:    c.eventsPublished,
		EventsDropped:      c.eventsDropped,
		SubscribersOpened:  c.subscribersOpened,
		SubscribersClosed:  c.subscribersClosed,
		SubscriberOverrun:  c.subscriberOverrun,
		StoreWriteSuccess:  c.storeWriteSuccess,
		StoreWriteFailure:  c.storeWriteFailure,
		Transport:          c.transport,
		StorageBackend:     c.storageBackend,
	}
}
