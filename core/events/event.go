package events

import (
	"sync"

	"microescrow/core/types"
)

// Event represents a structured state change emitted by a contract.
type Event interface {
	EventType() string
}

// Structured is implemented by events that can render themselves into the
// attribute form published to subscribers.
type Structured interface {
	Event
	Event() *types.Event
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

// Envelope ties a published event to the committed invocation that produced
// it. Sinks receive envelopes only after the invocation's state is durable.
type Envelope struct {
	Contract     [20]byte
	Height       uint64
	InvocationID string
	Index        int
	Payload      *types.Event
}

// EventType satisfies the Event interface.
func (e Envelope) EventType() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Type
}

// MultiEmitter fans each event out to a dynamic set of emitters.
type MultiEmitter struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// NewMultiEmitter returns a fanout over the provided emitters. Nil entries are
// skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		m.Add(e)
	}
	return m
}

// Add registers another downstream emitter.
func (m *MultiEmitter) Add(e Emitter) {
	if e == nil {
		return
	}
	m.mu.Lock()
	m.emitters = append(m.emitters, e)
	m.mu.Unlock()
}

// Emit implements the Emitter interface.
func (m *MultiEmitter) Emit(evt Event) {
	m.mu.RLock()
	targets := make([]Emitter, len(m.emitters))
	copy(targets, m.emitters)
	m.mu.RUnlock()
	for _, target := range targets {
		target.Emit(evt)
	}
}
