package server

import (
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"

	"github.com/reddwarf/sgs/scheduler/domain"
)

// delayKey orders delayed tasks by start time, then by submission sequence.
type delayKey struct {
	start time.Time
	seq   uint64
}

func delayKeyComparator(a, b interface{}) int {
	ka, kb := a.(delayKey), b.(delayKey)
	switch {
	case ka.start.Before(kb.start):
		return -1
	case ka.start.After(kb.start):
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	}
	return 0
}

// delayQueue holds tasks whose start time is in the future. Not safe for concurrent use.
type delayQueue struct {
	tree *redblacktree.Tree
	seq  uint64
}

func newDelayQueue() *delayQueue {
	return &delayQueue{tree: redblacktree.NewWith(delayKeyComparator)}
}

func (q *delayQueue) push(t *domain.Task) {
	q.seq++
	q.tree.Put(delayKey{start: t.StartTime, seq: q.seq}, t)
}

// popDue removes and returns the earliest task if it is due at now.
func (q *delayQueue) popDue(now time.Time) (*domain.Task, bool) {
	node := q.tree.Left()
	if node == nil {
		return nil, false
	}
	key := node.Key.(delayKey)
	if key.start.After(now) {
		return nil, false
	}
	q.tree.Remove(key)
	return node.Value.(*domain.Task), true
}

// nextStart is the earliest start time, false when empty.
func (q *delayQueue) nextStart() (time.Time, bool) {
	node := q.tree.Left()
	if node == nil {
		return time.Time{}, false
	}
	return node.Key.(delayKey).start, true
}

func (q *delayQueue) len() int { return q.tree.Size() }
