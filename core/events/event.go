package events

// Event represents a structured state change emitted by the ledger or by a
// long-running service.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (operational tooling,
// indexers, embedding services).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
// Components use it as the default so event wiring stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
