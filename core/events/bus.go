package events

import (
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 64

// Bus fans events out to any number of subscribers. Delivery never blocks the
// emitter: a subscriber whose queue is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	dropped atomic.Uint64
	sinks   []Emitter
}

// Subscription is a registered listener on a Bus.
type Subscription struct {
	id     uint64
	bus    *Bus
	ch     chan Event
	closed sync.Once
}

// NewBus constructs an empty bus. Sinks receive every event synchronously
// before subscribers are notified.
func NewBus(sinks ...Emitter) *Bus {
	return &Bus{subs: make(map[uint64]*Subscription), sinks: sinks}
}

// Subscribe registers a listener with the provided queue size.
func (b *Bus) Subscribe(size int) *Subscription {
	if size <= 0 {
		size = defaultSubscriberBuffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{id: b.nextID, bus: b, ch: make(chan Event, size)}
	b.subs[sub.id] = sub
	return sub
}

// Emit implements Emitter.
func (b *Bus) Emit(evt Event) {
	if evt == nil {
		return
	}
	for _, sink := range b.sinks {
		sink.Emit(evt)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was
// full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closed.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}
