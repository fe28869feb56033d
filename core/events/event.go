package events

import (
	"sync"

	"escrowmarket/core/types"
)

// Event represents a structured state change emitted by the runtime.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Envelope wraps a committed event with the invocation that produced it.
// Sequence orders events within one invocation starting at zero.
type Envelope struct {
	InvocationID string
	Sequence     int
	Payload      *types.Event
}

func (e Envelope) EventType() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Type
}

// Event returns the wrapped payload.
func (e Envelope) Event() *types.Event { return e.Payload }

// Fanout forwards every event to each of its emitters in order.
type Fanout []Emitter

func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Recorder keeps every emitted event in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the payloads of recorded events whose type matches.
func (r *Recorder) OfType(eventType string) []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Event
	for _, evt := range r.events {
		if evt.EventType() != eventType {
			continue
		}
		if env, ok := evt.(Envelope); ok {
			out = append(out, env.Payload)
		}
	}
	return out
}
