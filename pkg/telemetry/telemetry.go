// Cache observability events (hits, misses, evictions, negative-cache bypasses, invalidations)
// are handed off to an Emitter. The hot path never waits on a sink: the Async emitter decouples
// it from slow or failing backends by buffering events on a channel and dropping on overflow.
// A dropped event costs a counter increment, never latency.

package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventKind enumerates everything the cache reports about itself.
type EventKind uint8

const (
	EventHit EventKind = iota
	EventMiss
	EventEviction
	EventBypass
	EventInvalidation
	EventWriteFailure
)

func (k EventKind) String() string {
	switch k {
	case EventHit:
		return "hit"
	case EventMiss:
		return "miss"
	case EventEviction:
		return "eviction"
	case EventBypass:
		return "bypass"
	case EventInvalidation:
		return "invalidation"
	case EventWriteFailure:
		return "write_failure"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Event is one observability record. Trigger is only set for invalidation events and Count only
// for events that cover more than one entry.
type Event struct {
	Kind     EventKind
	Tier     string
	Category string
	Trigger  string
	Count    int
	At       time.Time
}

// Emitter accepts events fire-and-forget. Implementations must never block the caller and never
// propagate failures back into cache logic.
type Emitter interface {
	Emit(event Event)
}

// NoOp is an Emitter that discards every event. It is the default when no sink is configured.
type NoOp struct{}

var _ Emitter = NoOp{}

func (NoOp) Emit(Event) {}

var droppedEventsMetric = promauto.NewCounter(prometheus.CounterOpts{
	Name: "strata_telemetry_dropped_events_total",
	Help: "The total number of telemetry events dropped because the queue was full",
})

// Async hands events to a sink through a buffered channel serviced by one background goroutine,
// so a slow sink can never add latency or failure modes to the cache's hot path.
type Async struct {
	events chan Event
	sink   Emitter
	done   chan struct{}
}

var _ Emitter = (*Async)(nil)

// NewAsync wraps sink with a queue of the given capacity and starts the drain goroutine.
func NewAsync(sink Emitter, capacity int) *Async {
	if capacity <= 0 {
		capacity = 1024
	}
	async := &Async{events: make(chan Event, capacity), sink: sink, done: make(chan struct{})}
	go async.drain()
	return async
}

func (a *Async) drain() {
	defer close(a.done)
	for event := range a.events {
		a.sink.Emit(event)
	}
}

// Emit enqueues the event, dropping it when the queue is full.
func (a *Async) Emit(event Event) {
	select {
	case a.events <- event:
	default:
		droppedEventsMetric.Inc()
	}
}

// Close stops accepting events and waits for the queue to fully drain. Emit must not be called
// after Close.
func (a *Async) Close() {
	close(a.events)
	<-a.done
}
