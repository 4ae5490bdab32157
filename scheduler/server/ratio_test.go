package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reddwarf/sgs/scheduler/domain"
)

func levelsWithTasks(levels ...int) func(int) bool {
	set := map[int]bool{}
	for _, l := range levels {
		set[l] = true
	}
	return func(l int) bool { return set[l] }
}

func TestRatioSequenceInterleaves(t *testing.T) {
	r := newRatioSelector(domain.DefaultQueueingModel())
	assert.Equal(t, []int{0, 1, 0, 2, 0, 1, 0}, r.sequence)
}

func TestRatioSelectorWraps(t *testing.T) {
	r := newRatioSelector(domain.DefaultQueueingModel())
	all := levelsWithTasks(0, 1, 2)
	var got []int
	for i := 0; i < 14; i++ {
		got = append(got, r.selectLevel(all))
		r.advance()
	}
	assert.Equal(t, []int{0, 1, 0, 2, 0, 1, 0, 0, 1, 0, 2, 0, 1, 0}, got)
}

func TestRatioSelectorPrefersMoreUrgentOnFallThrough(t *testing.T) {
	r := newRatioSelector(domain.DefaultQueueingModel())
	r.taskModCounter = 3 // LOW's turn
	assert.Equal(t, 2, r.selectLevel(levelsWithTasks(0, 1, 2)))
	assert.Equal(t, 1, r.selectLevel(levelsWithTasks(0, 1)))
	assert.Equal(t, 0, r.selectLevel(levelsWithTasks(0)))

	r.taskModCounter = 1 // NORMAL's turn
	assert.Equal(t, 0, r.selectLevel(levelsWithTasks(0, 2)))
	assert.Equal(t, 2, r.selectLevel(levelsWithTasks(2)))
	assert.Equal(t, -1, r.selectLevel(levelsWithTasks()))
}
