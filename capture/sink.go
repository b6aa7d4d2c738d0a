package capture

import "sync/atomic"

// Sink is the one-way conduit between capture procedures and the
// consumer. Any number of goroutines may publish concurrently; a single
// consumer drains Events. Publishing never blocks: when the buffer is
// full the event is dropped and counted, so the instrumented operation
// never waits on consumer drain speed. Delivery is at-most-once.
type Sink struct {
	events  chan Event
	dropped atomic.Uint64
}

// NewSink creates a sink with the given buffer depth.
func NewSink(depth int) *Sink {
	return &Sink{
		events: make(chan Event, depth),
	}
}

// TryPublish hands an event to the consumer. Returns false if the
// buffer was full and the event was dropped.
func (s *Sink) TryPublish(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Events returns the consumer side of the sink.
func (s *Sink) Events() <-chan Event {
	return s.events
}

// Dropped returns how many events were discarded because the buffer
// was full.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close ends the stream. Only the owner may call this, and only after
// all producers have stopped.
func (s *Sink) Close() {
	close(s.events)
}
