package server

import (
	"time"
)

const (
	DefaultNumWorkers  = 4
	DefaultTaskTimeout = 100 * time.Millisecond
)

// SchedulerConfig holds the scheduler's tunables. Zero values take defaults in NewScheduler.
type SchedulerConfig struct {
	// NumWorkers is the size of the worker pool.
	NumWorkers int

	// TaskTimeout bounds tasks that don't set their own Timeout. Negative disables.
	// A task still running at its deadline fails retryably with ErrTimedOut even
	// if it then returns Ok, and its accessed objects are not reported. A task
	// that always overruns is only dropped once the retry policy's MaxTries is
	// reached; with MaxTries 0 it is retried for as long as the scheduler runs.
	TaskTimeout time.Duration

	// MaxQueueDepth caps ready + delayed + reserved tasks. 0 is unbounded.
	MaxQueueDepth int

	// DebugMode starts no workers; tests drive the scheduler with Step.
	DebugMode bool
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.NumWorkers <= 0 {
		c.NumWorkers = DefaultNumWorkers
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	return c
}
