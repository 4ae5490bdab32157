// Package server is the task scheduler: per-priority keyed queues drained by
// a weighted ratio, a worker pool, retries, recurring tasks and reservations.
package server

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/reddwarf/sgs/scheduler/domain"
)

// TaskScheduler is the submission API used by the application layer.
type TaskScheduler interface {
	// Submit enqueues a task to run once. It never blocks.
	Submit(task *domain.Task) error

	// SubmitDelayed enqueues a task to run once, no earlier than now+delay.
	SubmitDelayed(task *domain.Task, delay time.Duration) error

	// CreateRecurringTaskHandle registers a task that fires every period once
	// the returned handle is started.
	CreateRecurringTaskHandle(task *domain.Task, period time.Duration) (RecurringHandle, error)

	// ScheduleRecurringTask creates and starts a recurring handle.
	ScheduleRecurringTask(task *domain.Task, period time.Duration) (RecurringHandle, error)

	// ReserveTask holds admission for a non-recurring task until the
	// reservation is used or cancelled.
	ReserveTask(task *domain.Task) (Reservation, error)

	// ReserveTasks reserves all tasks or none.
	ReserveTasks(tasks []*domain.Task) (Reservation, error)

	// DequeueTasks removes up to max ready tasks without blocking.
	DequeueTasks(max int) []*domain.Task

	// NextTask blocks until a task is ready, ctx is done, or the scheduler stops.
	NextTask(ctx context.Context) (*domain.Task, error)

	QueueDepth() int

	Stop()
}

// RecurringHandle controls a recurring task.
// Created -> Started -> Cancelled, or Created -> Cancelled.
type RecurringHandle interface {
	Start() error
	Cancel() error
}

// Reservation is a two-phase submission. Exactly one of Use or Cancel succeeds.
type Reservation interface {
	Use() error
	Cancel() error
}

// AccessReporter receives the objects accessed by each successful task run.
type AccessReporter interface {
	UpdateGraph(owner domain.Identity, objects []domain.AccessedObject) error
}

// FailureHandler is told about tasks dropped by the retry policy.
type FailureHandler func(task *domain.Task, err error)

// Admission and state errors.
var (
	ErrShutdown             = errors.New("scheduler is shut down")
	ErrUnsupportedPriority  = errors.New("priority not supported by the queueing model")
	ErrQueueFull            = errors.New("scheduler queue is full")
	ErrRecurringTask        = errors.New("recurring tasks must be scheduled through a recurring handle")
	ErrRecurringReservation = errors.New("recurring tasks cannot be reserved")
	ErrReservationUsed      = errors.New("reservation already used")
	ErrReservationCancelled = errors.New("reservation already cancelled")
	ErrHandleStarted        = errors.New("recurring handle already started")
	ErrHandleCancelled      = errors.New("recurring handle already cancelled")
	ErrInvalidPeriod        = errors.New("recurring period must be positive")
)
