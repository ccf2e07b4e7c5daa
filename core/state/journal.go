package state

import (
	"fmt"
	"sort"
)

// Journal records undo operations so that a sequence of mutations can be
// rolled back to a previously taken snapshot.
type Journal struct {
	undo      []func()
	snapshots []journalSnapshot
	nextID    int
}

type journalSnapshot struct {
	id     int
	length int
}

// NewJournal constructs an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Append registers an undo closure that restores the state touched by the most
// recent mutation. Mutations made while no snapshot is open are not recorded.
func (j *Journal) Append(undo func()) {
	if j == nil || undo == nil || len(j.snapshots) == 0 {
		return
	}
	j.undo = append(j.undo, undo)
}

// Snapshot returns an identifier for the current journal position.
func (j *Journal) Snapshot() int {
	id := j.nextID
	j.nextID++
	j.snapshots = append(j.snapshots, journalSnapshot{id: id, length: len(j.undo)})
	return id
}

// RevertToSnapshot undoes every mutation recorded after the snapshot was taken
// and invalidates the snapshot along with any taken after it.
func (j *Journal) RevertToSnapshot(id int) {
	idx := j.find(id)
	if idx < 0 {
		panic(fmt.Errorf("journal: snapshot %d cannot be reverted", id))
	}
	length := j.snapshots[idx].length
	for i := len(j.undo) - 1; i >= length; i-- {
		j.undo[i]()
		j.undo[i] = nil
	}
	j.undo = j.undo[:length]
	j.snapshots = j.snapshots[:idx]
}

// DiscardSnapshot drops the snapshot, keeping the mutations it covers. The
// undo log is released once no snapshots remain.
func (j *Journal) DiscardSnapshot(id int) {
	idx := j.find(id)
	if idx < 0 {
		return
	}
	j.snapshots = j.snapshots[:idx]
	if len(j.snapshots) == 0 {
		for i := range j.undo {
			j.undo[i] = nil
		}
		j.undo = j.undo[:0]
	}
}

// Length reports the number of pending undo entries.
func (j *Journal) Length() int {
	return len(j.undo)
}

func (j *Journal) find(id int) int {
	idx := sort.Search(len(j.snapshots), func(i int) bool {
		return j.snapshots[i].id >= id
	})
	if idx == len(j.snapshots) || j.snapshots[idx].id != id {
		return -1
	}
	return idx
}
