package server

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/reddwarf/sgs/common/stats"
	"github.com/reddwarf/sgs/scheduler/domain"
)

type reservationState int

const (
	reservationHeld reservationState = iota
	reservationUsed
	reservationCancelled
)

// taskReservation holds capacity for its tasks until Use or Cancel.
type taskReservation struct {
	s     *Scheduler
	tasks []*domain.Task

	mu    sync.Mutex
	state reservationState
}

func (s *Scheduler) ReserveTask(task *domain.Task) (Reservation, error) {
	return s.ReserveTasks([]*domain.Task{task})
}

// ReserveTasks validates every task and reserves capacity for all of them.
// When any task is rejected nothing stays reserved and no task is modified.
func (s *Scheduler) ReserveTasks(tasks []*domain.Task) (Reservation, error) {
	priorities := make([]domain.Priority, len(tasks))
	for i, task := range tasks {
		if task != nil && task.IsRecurring() {
			s.stat.Counter(stats.SchedTasksRejectedCounter).Inc(1)
			return nil, ErrRecurringReservation
		}
		p, err := s.resolve(task, false)
		if err != nil {
			return nil, errors.Wrapf(err, "reserving task %d of %d", i+1, len(tasks))
		}
		priorities[i] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCapacityLocked(len(tasks)); err != nil {
		return nil, err
	}
	now := s.now()
	for i, task := range tasks {
		task.Priority = priorities[i]
		if task.StartTime.IsZero() {
			task.StartTime = now
		}
	}
	s.reserved += len(tasks)
	s.stat.Gauge(stats.SchedReservationsGauge).Update(int64(s.reserved))
	return &taskReservation{s: s, tasks: tasks}, nil
}

// Use commits the reserved tasks into their queues.
func (r *taskReservation) Use() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkHeld(); err != nil {
		return err
	}
	r.state = reservationUsed

	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved -= len(r.tasks)
	s.stat.Gauge(stats.SchedReservationsGauge).Update(int64(s.reserved))
	if s.stopped {
		return ErrShutdown
	}
	for _, task := range r.tasks {
		s.enqueueLocked(task)
	}
	s.stat.Counter(stats.SchedTasksSubmittedCounter).Inc(int64(len(r.tasks)))
	return nil
}

// Cancel releases the reservation without running anything.
func (r *taskReservation) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkHeld(); err != nil {
		return err
	}
	r.state = reservationCancelled

	s := r.s
	s.mu.Lock()
	s.reserved -= len(r.tasks)
	s.stat.Gauge(stats.SchedReservationsGauge).Update(int64(s.reserved))
	s.mu.Unlock()
	return nil
}

func (r *taskReservation) checkHeld() error {
	switch r.state {
	case reservationUsed:
		return ErrReservationUsed
	case reservationCancelled:
		return ErrReservationCancelled
	}
	return nil
}
