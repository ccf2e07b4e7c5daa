package state

import "testing"

func TestJournalRevertRestoresInReverseOrder(t *testing.T) {
	j := NewJournal()
	values := map[string]int{"a": 1}

	snap := j.Snapshot()
	set := func(key string, v int) {
		prev, ok := values[key]
		j.Append(func() {
			if ok {
				values[key] = prev
			} else {
				delete(values, key)
			}
		})
		values[key] = v
	}
	set("a", 2)
	set("a", 3)
	set("b", 9)

	j.RevertToSnapshot(snap)
	if values["a"] != 1 {
		t.Fatalf("expected a=1, got %d", values["a"])
	}
	if _, ok := values["b"]; ok {
		t.Fatalf("expected b to be removed")
	}
	if j.Length() != 0 {
		t.Fatalf("expected empty journal, got %d entries", j.Length())
	}
}

func TestJournalNestedSnapshots(t *testing.T) {
	j := NewJournal()
	counter := 0
	inc := func() {
		j.Append(func() { counter-- })
		counter++
	}

	outer := j.Snapshot()
	inc()
	inner := j.Snapshot()
	inc()
	inc()
	j.RevertToSnapshot(inner)
	if counter != 1 {
		t.Fatalf("expected counter 1 after inner revert, got %d", counter)
	}
	inc()
	j.DiscardSnapshot(outer)
	if counter != 2 {
		t.Fatalf("expected counter 2 after discard, got %d", counter)
	}
	if j.Length() != 0 {
		t.Fatalf("expected journal released after final discard")
	}
}

func TestJournalIgnoresMutationsWithoutSnapshot(t *testing.T) {
	j := NewJournal()
	j.Append(func() {})
	if j.Length() != 0 {
		t.Fatalf("expected no entries without an open snapshot")
	}
}

func TestJournalRevertUnknownSnapshotPanics(t *testing.T) {
	j := NewJournal()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	j.RevertToSnapshot(42)
}
