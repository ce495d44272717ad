package dhtrunner

import (
	"time"

	"github.com/anacrolix/multiless"
	"github.com/tidwall/btree"
)

// Periodic maintenance work, driven by Runner.Loop.
type task struct {
	deadline time.Time
	// Breaks deadline ties in insertion order.
	seq      uint64
	interval time.Duration
	// Must not block: work that takes time is started on its own goroutine.
	fire func()
}

func taskLess(l, r *task) bool {
	return multiless.New().Cmp(
		l.deadline.Compare(r.deadline),
	).Int64(
		int64(l.seq), int64(r.seq),
	).Less()
}

// Tasks ordered by deadline. All deadlines are on the runner's monotonic clock. Not safe for
// concurrent use: the Runner guards it.
type schedule struct {
	tree    *btree.BTreeG[*task]
	nextSeq uint64
}

func newSchedule() schedule {
	return schedule{
		tree: btree.NewBTreeGOptions(taskLess, btree.Options{NoLocks: true}),
	}
}

func (me *schedule) add(t *task, deadline time.Time) {
	me.nextSeq++
	t.seq = me.nextSeq
	t.deadline = deadline
	me.tree.Set(t)
}

func (me *schedule) remove(t *task) {
	me.tree.Delete(t)
}

// Removes and returns the earliest task if it's due at now.
func (me *schedule) popDue(now time.Time) (*task, bool) {
	t, ok := me.tree.Min()
	if !ok || t.deadline.After(now) {
		return nil, false
	}
	me.tree.Delete(t)
	return t, true
}

func (me *schedule) next() (deadline time.Time, ok bool) {
	t, ok := me.tree.Min()
	if !ok {
		return
	}
	return t.deadline, true
}

func (me *schedule) len() int {
	return me.tree.Len()
}

func (me *schedule) clear() {
	me.tree.Clear()
}
