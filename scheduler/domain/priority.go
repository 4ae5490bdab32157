package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Priority is an immutable scheduling priority. Priorities are totally
// ordered by level; each level also carries a weight so that the distance
// between two priorities has a magnitude, not only a sign.
type Priority struct {
	name  string
	level int
}

// Predefined priorities, most urgent first.
var (
	RealTime = Priority{"REAL_TIME", 6}
	Highest  = Priority{"HIGHEST", 5}
	High     = Priority{"HIGH", 4}
	Normal   = Priority{"NORMAL", 3}
	Low      = Priority{"LOW", 2}
	Lowest   = Priority{"LOWEST", 1}
	Optional = Priority{"OPTIONAL", 0}
)

// AllPriorities lists the predefined priorities, most urgent first.
var AllPriorities = []Priority{RealTime, Highest, High, Normal, Low, Lowest, Optional}

var ErrIncomparablePriority = errors.New("priorities are not comparable")

func (p Priority) Name() string { return p.name }
func (p Priority) Level() int   { return p.level }

// Valid is false for the zero Priority and anything not built by this package.
func (p Priority) Valid() bool {
	return p.name != "" && p.level >= Optional.level && p.level <= RealTime.level
}

func (p Priority) String() string {
	if p.name == "" {
		return "UNSET"
	}
	return p.name
}

// Compare returns 1 when p is more urgent than o, -1 when less, 0 when equal.
func (p Priority) Compare(o Priority) int {
	switch {
	case p.level > o.level:
		return 1
	case p.level < o.level:
		return -1
	}
	return 0
}

// weight doubles with every level so distances grow with urgency.
func (p Priority) weight() int64 {
	return int64(1) << uint(p.level)
}

// WeightedComparison returns weight(p) - weight(o). The sign agrees with
// Compare and the result is antisymmetric. Invalid priorities are not
// comparable with anything.
func (p Priority) WeightedComparison(o Priority) (int64, error) {
	if !p.Valid() || !o.Valid() {
		return 0, errors.Wrap(ErrIncomparablePriority, fmt.Sprintf("%v vs %v", p, o))
	}
	return p.weight() - o.weight(), nil
}

// ParsePriority maps a name such as "HIGH" to its Priority.
func ParsePriority(name string) (Priority, error) {
	for _, p := range AllPriorities {
		if p.name == name {
			return p, nil
		}
	}
	return Priority{}, fmt.Errorf("unknown priority %q", name)
}
