package state

// Dirty tracks keys mutated since the state was last persisted. The zero
// value is ready to use.
type Dirty[K comparable] struct {
	keys map[K]struct{}
}

// Mark records key as needing persistence.
func (d *Dirty[K]) Mark(key K) {
	if d.keys == nil {
		d.keys = make(map[K]struct{})
	}
	d.keys[key] = struct{}{}
}

// Keys returns the marked keys in no particular order.
func (d *Dirty[K]) Keys() []K {
	out := make([]K, 0, len(d.keys))
	for key := range d.keys {
		out = append(out, key)
	}
	return out
}

// Len reports how many keys are marked.
func (d *Dirty[K]) Len() int { return len(d.keys) }

// Reset forgets every marked key.
func (d *Dirty[K]) Reset() { d.keys = nil }
