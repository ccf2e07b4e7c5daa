package events

// Event represents a structured state change emitted by the engine or one of
// its collaborators.
type Event interface {
	EventType() string
}

// Renderable is implemented by events that can be flattened into the generic
// attribute form consumed by indexers and streaming clients.
type Renderable interface {
	Event
	Event() *Record
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

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(evt Event) {
	if f != nil {
		f(evt)
	}
}

// Render converts evt into its attribute form. Events that do not implement
// Renderable are reported with their type only.
func Render(evt Event) *Record {
	if evt == nil {
		return nil
	}
	if r, ok := evt.(Renderable); ok {
		if out := r.Event(); out != nil {
			return out
		}
	}
	return &Record{Type: evt.EventType(), Attributes: map[string]string{}}
}
