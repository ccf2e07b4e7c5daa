package events

import "sync"

// Buffer queues events while held so that an operation can publish its
// notifications only after it has fully succeeded.
type Buffer struct {
	mu      sync.Mutex
	next    Emitter
	holding bool
	pending []Event
}

// NewBuffer wraps next. A nil downstream discards released events.
func NewBuffer(next Emitter) *Buffer {
	if next == nil {
		next = NoopEmitter{}
	}
	return &Buffer{next: next}
}

// SetDownstream replaces the emitter that receives released events.
func (b *Buffer) SetDownstream(next Emitter) {
	if next == nil {
		next = NoopEmitter{}
	}
	b.mu.Lock()
	b.next = next
	b.mu.Unlock()
}

// Emit queues evt while the buffer is held and forwards it otherwise.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.mu.Lock()
	if b.holding {
		b.pending = append(b.pending, evt)
		b.mu.Unlock()
		return
	}
	next := b.next
	b.mu.Unlock()
	next.Emit(evt)
}

// Hold starts queueing events.
func (b *Buffer) Hold() {
	b.mu.Lock()
	b.holding = true
	b.mu.Unlock()
}

// Release forwards queued events in emission order and stops holding.
func (b *Buffer) Release() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.holding = false
	next := b.next
	b.mu.Unlock()
	for _, evt := range pending {
		next.Emit(evt)
	}
}

// Drop discards queued events and stops holding.
func (b *Buffer) Drop() {
	b.mu.Lock()
	b.pending = nil
	b.holding = false
	b.mu.Unlock()
}

// Pending reports the number of queued events.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
