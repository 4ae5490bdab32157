package domain

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genPriority() gopter.Gen {
	return gen.IntRange(0, len(AllPriorities)-1).Map(func(i int) Priority {
		return AllPriorities[i]
	})
}

// genModel picks a non-empty subset of the predefined priorities with random weights.
func genModel() gopter.Gen {
	return gen.SliceOfN(len(AllPriorities), gen.IntRange(0, 5)).
		SuchThat(func(ws []int) bool {
			for _, w := range ws {
				if w > 0 {
					return true
				}
			}
			return false
		}).
		Map(func(ws []int) *QueueingModel {
			var levels []Level
			for i, w := range ws {
				if w > 0 {
					levels = append(levels, Level{AllPriorities[i], w})
				}
			}
			m, err := NewQueueingModel(levels...)
			if err != nil {
				panic(err)
			}
			return m
		})
}

func TestPriorityOrder(t *testing.T) {
	for i := 0; i < len(AllPriorities)-1; i++ {
		assert.Equal(t, 1, AllPriorities[i].Compare(AllPriorities[i+1]), "%v > %v", AllPriorities[i], AllPriorities[i+1])
		assert.Equal(t, -1, AllPriorities[i+1].Compare(AllPriorities[i]))
	}
	assert.Equal(t, 0, Normal.Compare(Normal))
}

func TestWeightedComparisonInvalid(t *testing.T) {
	_, err := Normal.WeightedComparison(Priority{})
	assert.Error(t, err)
	_, err = Priority{"BOGUS", 99}.WeightedComparison(Normal)
	assert.Error(t, err)
}

func TestWeightedComparisonProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("sign agrees with Compare", prop.ForAll(
		func(a, b Priority) bool {
			d, err := a.WeightedComparison(b)
			if err != nil {
				return false
			}
			switch a.Compare(b) {
			case 1:
				return d > 0
			case -1:
				return d < 0
			}
			return d == 0
		},
		genPriority(), genPriority(),
	))
	properties.Property("antisymmetric", prop.ForAll(
		func(a, b Priority) bool {
			ab, _ := a.WeightedComparison(b)
			ba, _ := b.WeightedComparison(a)
			return ab == -ba
		},
		genPriority(), genPriority(),
	))
	properties.TestingRun(t)
}

func TestClosestPriorityIsMinimal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("closest priority is enabled and no farther than any other", prop.ForAll(
		func(m *QueueingModel, p Priority) bool {
			closest, ok := m.ClosestPriority(p)
			if !ok {
				return false
			}
			if _, enabled := m.Index(closest); !enabled {
				return false
			}
			best, _ := closest.WeightedComparison(p)
			if best < 0 {
				best = -best
			}
			for _, l := range m.Levels() {
				d, _ := l.Priority.WeightedComparison(p)
				if d < 0 {
					d = -d
				}
				if d < best {
					return false
				}
			}
			return true
		},
		genModel(), genPriority(),
	))
	properties.TestingRun(t)
}

func TestClosestPriorityExactMatch(t *testing.T) {
	m := DefaultQueueingModel()
	for _, l := range m.Levels() {
		p, ok := m.ClosestPriority(l.Priority)
		require.True(t, ok)
		assert.Equal(t, l.Priority, p)
	}
}

func TestClosestPriorityClamps(t *testing.T) {
	m := DefaultQueueingModel()
	p, ok := m.ClosestPriority(RealTime)
	assert.True(t, ok)
	assert.Equal(t, High, p)

	p, ok = m.ClosestPriority(Optional)
	assert.True(t, ok)
	assert.Equal(t, Low, p)
}

func TestClosestPriorityNoMatch(t *testing.T) {
	_, ok := DefaultQueueingModel().ClosestPriority(Priority{})
	assert.False(t, ok)
}

func TestNewQueueingModelRejects(t *testing.T) {
	_, err := NewQueueingModel()
	assert.Error(t, err)
	_, err = NewQueueingModel(Level{High, 0})
	assert.Error(t, err)
	_, err = NewQueueingModel(Level{High, 1}, Level{High, 2})
	assert.Error(t, err)
	_, err = NewQueueingModel(Level{Priority{}, 1})
	assert.Error(t, err)
}

func TestQueueingModelOrdersMostUrgentFirst(t *testing.T) {
	m, err := NewQueueingModel(Level{Low, 1}, Level{RealTime, 3}, Level{Normal, 2})
	require.NoError(t, err)
	levels := m.Levels()
	assert.Equal(t, []Priority{RealTime, Normal, Low}, []Priority{levels[0].Priority, levels[1].Priority, levels[2].Priority})
	assert.Equal(t, 6, m.TotalWeight())
	idx, ok := m.Index(Low)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("LOWEST")
	require.NoError(t, err)
	assert.Equal(t, Lowest, p)
	_, err = ParsePriority("urgent")
	assert.Error(t, err)
}
