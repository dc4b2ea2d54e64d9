package telemetry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// collectingSink records events behind a mutex so the drain goroutine and the test can both
// touch it.
type collectingSink struct {
	mux    sync.Mutex
	events []Event
}

func (s *collectingSink) Emit(event Event) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.events = append(s.events, event)
}

func (s *collectingSink) collected() []Event {
	s.mux.Lock()
	defer s.mux.Unlock()
	return append([]Event(nil), s.events...)
}

func TestAsync_DeliversInOrder(t *testing.T) {
	sink := &collectingSink{}
	async := NewAsync(sink, 16)

	async.Emit(Event{Kind: EventHit, Tier: "fast", Category: "voice_analysis"})
	async.Emit(Event{Kind: EventMiss, Tier: "remote", Category: "voice_analysis"})
	async.Emit(Event{Kind: EventBypass, Tier: "fast", Category: "pattern_insights"})
	async.Close() // Close drains the queue before returning.

	got := sink.collected()
	assert.Len(t, got, 3)
	assert.Equal(t, EventHit, got[0].Kind)
	assert.Equal(t, EventMiss, got[1].Kind)
	assert.Equal(t, EventBypass, got[2].Kind)
}

// blockingSink holds the drain goroutine until released, forcing the queue to fill.
type blockingSink struct {
	gate     chan struct{}
	received int
	mux      sync.Mutex
}

func (s *blockingSink) Emit(Event) {
	<-s.gate
	s.mux.Lock()
	s.received++
	s.mux.Unlock()
}

func TestAsync_DropsInsteadOfBlocking(t *testing.T) {
	sink := &blockingSink{gate: make(chan struct{})}
	async := NewAsync(sink, 2)

	// With the sink blocked, at most capacity+1 events can be in flight (one held by the drain
	// goroutine, two queued); the rest must be dropped without blocking this goroutine.
	for i := 0; i < 10; i++ {
		async.Emit(Event{Kind: EventHit})
	}
	close(sink.gate)
	async.Close()

	sink.mux.Lock()
	defer sink.mux.Unlock()
	assert.LessOrEqual(t, sink.received, 3)
	assert.Positive(t, sink.received)
}

func TestNoOp(t *testing.T) {
	// Must simply not panic.
	NoOp{}.Emit(Event{Kind: EventEviction, Tier: "local", Category: "daily_summary"})
}

func TestEventKindStrings(t *testing.T) {
	for kind, want := range map[EventKind]string{
		EventHit:          "hit",
		EventMiss:         "miss",
		EventEviction:     "eviction",
		EventBypass:       "bypass",
		EventInvalidation: "invalidation",
		EventWriteFailure: "write_failure",
	} {
		assert.Equal(t, want, kind.String())
	}
	assert.Contains(t, EventKind(99).String(), "unknown")
}

func TestPrometheusEmitDoesNotPanic(t *testing.T) {
	recorder := Prometheus{}
	recorder.Emit(Event{Kind: EventHit, Tier: "fast", Category: "voice_analysis"})
	recorder.Emit(Event{Kind: EventEviction, Tier: "fast", Category: "voice_analysis", Count: 3})
	recorder.Emit(Event{Kind: EventInvalidation, Trigger: "day_rollover", Category: "daily_summary", Count: 2})
}
