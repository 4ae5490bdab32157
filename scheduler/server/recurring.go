package server

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/common/stats"
	"github.com/reddwarf/sgs/scheduler/domain"
)

type handleState int

const (
	handleCreated handleState = iota
	handleStarted
	handleCancelled
)

type recurringHandle struct {
	s    *Scheduler
	task *domain.Task

	mu    sync.Mutex
	state handleState
}

func (s *Scheduler) CreateRecurringTaskHandle(task *domain.Task, period time.Duration) (RecurringHandle, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if task != nil {
		task.Period = period
	}
	if err := s.admit(task, true); err != nil {
		return nil, err
	}
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, ErrShutdown
	}
	return &recurringHandle{s: s, task: task}, nil
}

func (s *Scheduler) ScheduleRecurringTask(task *domain.Task, period time.Duration) (RecurringHandle, error) {
	h, err := s.CreateRecurringTaskHandle(task, period)
	if err != nil {
		return nil, err
	}
	if err := h.Start(); err != nil {
		return nil, err
	}
	return h, nil
}

// Start queues the first firing: at the task's StartTime when set, otherwise one period from now.
func (h *recurringHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case handleStarted:
		return ErrHandleStarted
	case handleCancelled:
		return ErrHandleCancelled
	}

	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCapacityLocked(1); err != nil {
		return err
	}
	if h.task.StartTime.IsZero() {
		h.task.StartTime = s.now().Add(h.task.Period)
	}
	s.enqueueLocked(h.task)
	h.state = handleStarted

	s.stat.Counter(stats.SchedRecurringStartedCounter).Inc(1)
	log.WithFields(log.Fields{
		"taskID": h.task.ID,
		"owner":  h.task.Owner,
		"period": h.task.Period,
	}).Info("recurring task started")
	return nil
}

// Cancel stops all future firings. A firing already running completes; one
// already queued is skipped when dequeued.
func (h *recurringHandle) Cancel() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == handleCancelled {
		return ErrHandleCancelled
	}
	h.state = handleCancelled
	h.task.Cancel()

	h.s.stat.Counter(stats.SchedRecurringCancelledCounter).Inc(1)
	log.WithFields(log.Fields{
		"taskID": h.task.ID,
		"owner":  h.task.Owner,
	}).Info("recurring task cancelled")
	return nil
}
