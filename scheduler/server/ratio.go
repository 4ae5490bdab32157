package server

import (
	"github.com/reddwarf/sgs/scheduler/domain"
)

/*
ratioSelector decides which priority level should supply the next task.

The model's weights define a repeating window of TotalWeight turns. Within a
window, level i gets Weight(i) turns, spread out by smooth weighted round
robin, e.g. 4:2:1 over HIGH:NORMAL:LOW gives

	HIGH NORMAL HIGH LOW HIGH NORMAL HIGH

A rolling counter walks this sequence. When the level whose turn it is has no
task, we look at the next more urgent level, repeatedly, up to the most urgent
one; if none of those has a task we look successively down from the original
level. The counter only advances when a task is actually taken, so the
achieved ratio matches the weights when every level stays busy and drifts
toward the busy levels when some are frequently empty.

Not safe for concurrent use; the scheduler holds its lock while selecting.
*/
type ratioSelector struct {
	sequence       []int // level index per turn
	taskModCounter int
	numLevels      int
}

func newRatioSelector(model *domain.QueueingModel) *ratioSelector {
	levels := model.Levels()
	total := model.TotalWeight()
	current := make([]int, len(levels))
	sequence := make([]int, 0, total)
	for turn := 0; turn < total; turn++ {
		best := 0
		for i, l := range levels {
			current[i] += l.Weight
			if current[i] > current[best] {
				best = i
			}
		}
		current[best] -= total
		sequence = append(sequence, best)
	}
	return &ratioSelector{sequence: sequence, numLevels: len(levels)}
}

// turn is the level whose turn it is.
func (r *ratioSelector) turn() int {
	return r.sequence[r.taskModCounter]
}

func (r *ratioSelector) advance() {
	r.taskModCounter++
	if r.taskModCounter == len(r.sequence) {
		r.taskModCounter = 0
	}
}

// selectLevel returns the level to take the next task from, or -1 when
// hasTask is false for every level.
func (r *ratioSelector) selectLevel(hasTask func(level int) bool) int {
	orig := r.turn()
	for level := orig; level >= 0; level = r.nextLevel(level, orig) {
		if hasTask(level) {
			return level
		}
	}
	return -1
}

// nextLevel walks from orig up to level 0, then from orig+1 down to the last level.
func (r *ratioSelector) nextLevel(current, orig int) int {
	var next int
	if current <= orig {
		next = current - 1
	} else {
		next = current + 1
	}
	if next < 0 {
		next = orig + 1
	}
	if next < r.numLevels {
		return next
	}
	return -1
}
