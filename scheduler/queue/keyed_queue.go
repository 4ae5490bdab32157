// Package queue holds the per-owner FIFO used for each priority level.
package queue

import (
	"github.com/emirpasic/gods/lists/doublylinkedlist"

	"github.com/reddwarf/sgs/scheduler/domain"
)

// KeyedQueue keeps one FIFO per owner plus a line of owners, one owner entry
// per pushed task. Pop serves owners in the order their entries stand in line
// and always returns that owner's oldest task, so tasks of one owner come out
// in submission order.
//
// Owner queues are kept after they drain; an owner that submits once keeps a
// small empty queue for the life of the KeyedQueue.
//
// Not safe for concurrent use.
type KeyedQueue struct {
	byOwner map[domain.Identity]*doublylinkedlist.List
	owners  *doublylinkedlist.List
	size    int
}

func NewKeyedQueue() *KeyedQueue {
	return &KeyedQueue{
		byOwner: make(map[domain.Identity]*doublylinkedlist.List),
		owners:  doublylinkedlist.New(),
	}
}

func (q *KeyedQueue) tasksOf(owner domain.Identity) *doublylinkedlist.List {
	tasks, ok := q.byOwner[owner]
	if !ok {
		tasks = doublylinkedlist.New()
		q.byOwner[owner] = tasks
	}
	return tasks
}

func (q *KeyedQueue) Push(t *domain.Task) {
	q.tasksOf(t.Owner).Append(t)
	q.owners.Append(t.Owner)
	q.size++
}

// PushFront puts t ahead of everything else in the queue, its owner's
// older tasks included. Used for retries.
func (q *KeyedQueue) PushFront(t *domain.Task) {
	q.tasksOf(t.Owner).Prepend(t)
	q.owners.Prepend(t.Owner)
	q.size++
}

// Pop returns the next task, or false if the queue is empty.
func (q *KeyedQueue) Pop() (*domain.Task, bool) {
	return q.PopSkipping(nil)
}

// PopSkipping is Pop for owners for which skip returns false. Skipped owners
// keep their place in line.
func (q *KeyedQueue) PopSkipping(skip func(domain.Identity) bool) (*domain.Task, bool) {
	i, owner, ok := q.first(skip)
	if !ok {
		return nil, false
	}
	q.owners.Remove(i)
	tasks := q.byOwner[owner]
	v, _ := tasks.Get(0)
	tasks.Remove(0)
	q.size--
	return v.(*domain.Task), true
}

// HasTask reports whether PopSkipping would return a task.
func (q *KeyedQueue) HasTask(skip func(domain.Identity) bool) bool {
	_, _, ok := q.first(skip)
	return ok
}

func (q *KeyedQueue) first(skip func(domain.Identity) bool) (int, domain.Identity, bool) {
	it := q.owners.Iterator()
	for it.Next() {
		owner := it.Value().(domain.Identity)
		if skip == nil || !skip(owner) {
			return it.Index(), owner, true
		}
	}
	return -1, "", false
}

func (q *KeyedQueue) Len() int { return q.size }

func (q *KeyedQueue) Empty() bool { return q.size == 0 }

// Owners is the number of owners ever seen.
func (q *KeyedQueue) Owners() int { return len(q.byOwner) }
