package server

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/common/stats"
	"github.com/reddwarf/sgs/scheduler/domain"
	"github.com/reddwarf/sgs/scheduler/retry"
)

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.workers.Done()
	for {
		task, err := s.NextTask(ctx)
		if err != nil {
			log.WithFields(log.Fields{"worker": id, "err": err}).Debug("worker exiting")
			return
		}
		s.runTask(ctx, task)
	}
}

// runTask executes one try of a task and applies the outcome. Nothing a task
// does escapes this function.
func (s *Scheduler) runTask(ctx context.Context, task *domain.Task) {
	task.TryCount++
	result := s.execute(ctx, task)

	if result.Failure == nil {
		s.stat.Counter(stats.SchedTasksSucceededCounter).Inc(1)
		if s.reporter != nil && len(result.Accessed) > 0 {
			if err := s.reporter.UpdateGraph(task.Owner, result.Accessed); err != nil {
				log.WithFields(log.Fields{
					"taskID": task.ID,
					"owner":  task.Owner,
					"err":    err,
				}).Debug("access report dropped")
			}
		}
		s.finish(task)
		return
	}

	task.LastFailure = result.Failure
	outcome := s.policy.Classify(task, result.Failure)
	logFields := log.Fields{
		"taskID":   task.ID,
		"owner":    task.Owner,
		"priority": task.Priority,
		"tryCount": task.TryCount,
		"err":      result.Failure,
		"decision": outcome.Decision,
	}
	switch outcome.Decision {
	case retry.RetryNow:
		log.WithFields(logFields).Debug("retrying task")
		s.stat.Counter(stats.SchedTasksRetriedNowCounter).Inc(1)
		s.requeue(task, 0)
	case retry.RetryLater:
		logFields["delay"] = outcome.Delay
		log.WithFields(logFields).Info("backing off task")
		s.stat.Counter(stats.SchedTasksRetriedLaterCounter).Inc(1)
		s.requeue(task, outcome.Delay)
	default:
		log.WithFields(logFields).Error("task failed")
		s.stat.Counter(stats.SchedTasksFailedCounter).Inc(1)
		if s.onFatal != nil {
			s.onFatal(task, result.Failure)
		}
		// a failed firing does not end a recurring task
		s.finish(task)
	}
}

// execute runs the task body under its timeout and turns a panic into a
// non-retryable failure. A result returned after the deadline is replaced by
// a retryable ErrTimedOut, dropping whatever the task reported.
func (s *Scheduler) execute(ctx context.Context, task *domain.Task) (result domain.Result) {
	timeout := task.Timeout
	if timeout == 0 {
		timeout = s.config.TaskTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := stats.Time.Now()
	defer func() {
		s.stat.Latency(stats.SchedTaskRunLatency_ms).Update(stats.Time.Since(start).Nanoseconds())
	}()
	defer func() {
		if r := recover(); r != nil {
			s.stat.Counter(stats.SchedTaskPanicsCounter).Inc(1)
			log.WithFields(log.Fields{
				"taskID": task.ID,
				"owner":  task.Owner,
				"panic":  r,
			}).Error("task panicked")
			result = domain.Fail(fmt.Errorf("task %s panicked: %v", task.ID, r))
		}
	}()

	result = task.Run(ctx)
	if result.Failure == nil && ctx.Err() == context.DeadlineExceeded {
		result = domain.Retry(domain.ErrTimedOut)
	}
	return result
}

// requeue puts a retried task back at the front of its owner's line, after
// delay. The owner stays held until then. The try count is kept.
func (s *Scheduler) requeue(task *domain.Task, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || task.IsCancelled() {
		s.releaseLocked(task)
		return
	}
	task.StartTime = s.now().Add(delay)
	if delay > 0 {
		s.delayed.push(task)
		s.wakeLocked()
		return
	}
	s.releaseLocked(task)
	s.pushReadyLocked(task, true)
	s.wakeLocked()
}

// finish releases the task's owner and, for a recurring task whose handle was
// not cancelled, queues the next firing at now+period.
func (s *Scheduler) finish(task *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(task)
	if s.stopped || !task.IsRecurring() || task.IsCancelled() {
		return
	}
	task.TryCount = 0
	task.LastFailure = nil
	task.StartTime = s.now().Add(task.Period)
	s.enqueueLocked(task)
}
