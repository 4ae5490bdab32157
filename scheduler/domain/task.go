package domain

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
)

// Identity is the principal a task runs for and whose data accesses are tracked.
type Identity string

// SystemIdentity owns internal work. It is pinned and never rebalanced.
const SystemIdentity Identity = "sgs.system"

func (i Identity) IsSystem() bool { return i == SystemIdentity }

type AccessType int

const (
	Read AccessType = iota
	Write
)

func (a AccessType) String() string {
	if a == Write {
		return "WRITE"
	}
	return "READ"
}

// AccessedObject is one object a task touched.
type AccessedObject struct {
	ObjectID string
	Access   AccessType
}

// NonRecurring is the period of a task that runs once.
const NonRecurring time.Duration = 0

// RunFunc is the body of a task.
type RunFunc func(ctx context.Context) Result

var (
	ErrNilTask  = errors.New("task has no body")
	ErrNoOwner  = errors.New("task has no owner")
	ErrTimedOut = errors.New("task exceeded its timeout")
)

// Task is one unit of application work. Scheduling fields are owned by the
// scheduler once the task is submitted.
type Task struct {
	ID       string
	Run      RunFunc
	Owner    Identity
	Priority Priority

	// StartTime is when the task becomes eligible to run; zero means now.
	StartTime time.Time
	Period    time.Duration
	Timeout   time.Duration

	TryCount    int
	LastFailure error

	cancelled atomic.Bool
}

func NewTask(run RunFunc, owner Identity, priority Priority) *Task {
	return &Task{
		ID:       generateTaskId(),
		Run:      run,
		Owner:    owner,
		Priority: priority,
		Period:   NonRecurring,
	}
}

func generateTaskId() string {
	for {
		if id, err := uuid.NewV4(); err == nil {
			return id.String()
		}
	}
}

// Validate checks the admission invariants of a task.
func (t *Task) Validate() error {
	if t == nil || t.Run == nil {
		return ErrNilTask
	}
	if t.Owner == "" {
		return ErrNoOwner
	}
	if t.Period < 0 {
		return fmt.Errorf("task %s has negative period %v", t.ID, t.Period)
	}
	return nil
}

func (t *Task) IsRecurring() bool { return t.Period > NonRecurring }

// Cancel marks the task so it is never executed again.
func (t *Task) Cancel() { t.cancelled.Store(true) }

func (t *Task) IsCancelled() bool { return t.cancelled.Load() }

func (t *Task) String() string {
	return fmt.Sprintf("task{id:%s owner:%s priority:%v tries:%d}", t.ID, t.Owner, t.Priority, t.TryCount)
}
