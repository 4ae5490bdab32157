package domain

import (
	"fmt"
	"sort"
)

// Level is one enabled priority of a QueueingModel and its dequeue ratio weight.
type Level struct {
	Priority Priority
	Weight   int
}

// QueueingModel is the immutable set of priorities a scheduler runs, most
// urgent first, with their relative dequeue weights.
type QueueingModel struct {
	levels []Level
	total  int
}

// DefaultQueueingModel runs HIGH:NORMAL:LOW at 4:2:1.
func DefaultQueueingModel() *QueueingModel {
	m, _ := NewQueueingModel(
		Level{High, 4},
		Level{Normal, 2},
		Level{Low, 1},
	)
	return m
}

func NewQueueingModel(levels ...Level) (*QueueingModel, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("queueing model needs at least one priority")
	}
	seen := map[Priority]bool{}
	m := &QueueingModel{}
	for _, l := range levels {
		if !l.Priority.Valid() {
			return nil, fmt.Errorf("invalid priority in queueing model: %v", l.Priority)
		}
		if l.Weight <= 0 {
			return nil, fmt.Errorf("priority %v has non-positive weight %d", l.Priority, l.Weight)
		}
		if seen[l.Priority] {
			return nil, fmt.Errorf("priority %v listed twice", l.Priority)
		}
		seen[l.Priority] = true
		m.levels = append(m.levels, l)
		m.total += l.Weight
	}
	sort.SliceStable(m.levels, func(i, j int) bool {
		return m.levels[i].Priority.Compare(m.levels[j].Priority) > 0
	})
	return m, nil
}

func (m *QueueingModel) Levels() []Level {
	return append([]Level(nil), m.levels...)
}

func (m *QueueingModel) NumLevels() int { return len(m.levels) }

func (m *QueueingModel) TotalWeight() int { return m.total }

// Index returns the position of p in the model, most urgent = 0.
func (m *QueueingModel) Index(p Priority) (int, bool) {
	for i, l := range m.levels {
		if l.Priority == p {
			return i, true
		}
	}
	return -1, false
}

// ClosestPriority returns the enabled priority with the smallest weighted
// distance to p. Ties go to the more urgent priority. The bool is false when
// no enabled priority is comparable with p.
func (m *QueueingModel) ClosestPriority(p Priority) (Priority, bool) {
	var closest Priority
	var closestDist int64
	found := false
	for _, l := range m.levels {
		d, err := l.Priority.WeightedComparison(p)
		if err != nil {
			continue
		}
		if d < 0 {
			d = -d
		}
		if !found || d < closestDist || (d == closestDist && l.Priority.Compare(closest) > 0) {
			closest, closestDist, found = l.Priority, d, true
		}
	}
	return closest, found
}
