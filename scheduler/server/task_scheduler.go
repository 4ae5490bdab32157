package server

import (
	"context"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/common/log/hooks"
	"github.com/reddwarf/sgs/common/stats"
	"github.com/reddwarf/sgs/scheduler/domain"
	"github.com/reddwarf/sgs/scheduler/queue"
	"github.com/reddwarf/sgs/scheduler/retry"
)

func init() {
	if loglevel := os.Getenv("SGS_LOGLEVEL"); loglevel != "" {
		level, err := log.ParseLevel(loglevel)
		if err != nil {
			log.Error(err)
			return
		}
		log.SetLevel(level)
	} else {
		// quiet by default; tests produce a lot of task churn
		log.SetLevel(log.ErrorLevel)
	}
	log.AddHook(hooks.NewContextHook())
}

// Scheduler implements TaskScheduler.
//
// All queue state is guarded by mu. Workers waiting for work hold a copy of
// the notify channel, which is closed and replaced on every enqueue and every
// owner release; they never wait while holding mu.
//
// An owner is held from the moment a worker takes one of its tasks until that
// try is settled. A retry keeps holding the owner through its backoff and then
// goes back to the front of the owner's line, so one owner's tasks never run
// concurrently and always run in submission order.
type Scheduler struct {
	config   SchedulerConfig
	model    *domain.QueueingModel
	policy   retry.Policy
	reporter AccessReporter
	onFatal  FailureHandler
	stat     stats.StatsReceiver

	mu       sync.Mutex
	queues   []*queue.KeyedQueue // one per model level, most urgent first
	pins     map[domain.Identity]*ownerPin
	held     map[domain.Identity]*domain.Task
	ready    int
	delayed  *delayQueue
	reserved int
	ratio    *ratioSelector
	notify   chan struct{}
	stopped  bool

	cancelWorkers context.CancelFunc
	workers       sync.WaitGroup

	// for testing
	now func() time.Time
}

var _ TaskScheduler = (*Scheduler)(nil)

// NewScheduler builds a scheduler and, unless config.DebugMode is set, starts
// its worker pool. reporter and onFatal may be nil.
func NewScheduler(
	config SchedulerConfig,
	model *domain.QueueingModel,
	policy retry.Policy,
	reporter AccessReporter,
	onFatal FailureHandler,
	stat stats.StatsReceiver,
) *Scheduler {
	config = config.withDefaults()
	if model == nil {
		model = domain.DefaultQueueingModel()
	}
	if policy == nil {
		policy = retry.NewStagedPolicy(retry.Config{})
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	s := &Scheduler{
		config:   config,
		model:    model,
		policy:   policy,
		reporter: reporter,
		onFatal:  onFatal,
		stat:     stat,
		delayed:  newDelayQueue(),
		ratio:    newRatioSelector(model),
		pins:     make(map[domain.Identity]*ownerPin),
		held:     make(map[domain.Identity]*domain.Task),
		notify:   make(chan struct{}),
		now:      time.Now,
	}
	for i := 0; i < model.NumLevels(); i++ {
		s.queues = append(s.queues, queue.NewKeyedQueue())
	}

	log.WithFields(log.Fields{
		"numWorkers":    config.NumWorkers,
		"taskTimeout":   config.TaskTimeout,
		"maxQueueDepth": config.MaxQueueDepth,
		"levels":        model.Levels(),
		"debugMode":     config.DebugMode,
	}).Info("creating task scheduler")

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelWorkers = cancel
	if !config.DebugMode {
		for i := 0; i < config.NumWorkers; i++ {
			s.workers.Add(1)
			go s.worker(ctx, i)
		}
	}
	return s
}

func (s *Scheduler) Submit(task *domain.Task) error {
	return s.SubmitDelayed(task, 0)
}

func (s *Scheduler) SubmitDelayed(task *domain.Task, delay time.Duration) error {
	if err := s.admit(task, false); err != nil {
		return err
	}
	task.StartTime = s.now().Add(delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCapacityLocked(1); err != nil {
		return err
	}
	s.enqueueLocked(task)
	s.stat.Counter(stats.SchedTasksSubmittedCounter).Inc(1)
	return nil
}

// admit validates a task and resolves its priority against the model.
// Recurring tasks are only admitted through a recurring handle.
func (s *Scheduler) admit(task *domain.Task, recurring bool) error {
	p, err := s.resolve(task, recurring)
	if err != nil {
		return err
	}
	task.Priority = p
	return nil
}

// resolve is admit without touching the task.
func (s *Scheduler) resolve(task *domain.Task, recurring bool) (domain.Priority, error) {
	if err := task.Validate(); err != nil {
		s.stat.Counter(stats.SchedTasksRejectedCounter).Inc(1)
		return domain.Priority{}, err
	}
	if !recurring && task.IsRecurring() {
		s.stat.Counter(stats.SchedTasksRejectedCounter).Inc(1)
		return domain.Priority{}, ErrRecurringTask
	}
	p, ok := s.model.ClosestPriority(task.Priority)
	if !ok {
		s.stat.Counter(stats.SchedTasksRejectedCounter).Inc(1)
		return domain.Priority{}, ErrUnsupportedPriority
	}
	return p, nil
}

func (s *Scheduler) checkCapacityLocked(n int) error {
	if s.stopped {
		s.stat.Counter(stats.SchedTasksRejectedCounter).Inc(1)
		return ErrShutdown
	}
	if s.config.MaxQueueDepth > 0 && s.depthLocked()+s.reserved+n > s.config.MaxQueueDepth {
		s.stat.Counter(stats.SchedTasksRejectedCounter).Inc(1)
		return ErrQueueFull
	}
	return nil
}

// enqueueLocked puts a task in its keyed queue, or in the delay queue when its
// start time is in the future, and wakes waiting workers.
func (s *Scheduler) enqueueLocked(task *domain.Task) {
	if task.StartTime.After(s.now()) {
		s.delayed.push(task)
	} else {
		s.pushReadyLocked(task, false)
	}
	s.wakeLocked()
	s.stat.Gauge(stats.SchedQueueDepthGauge).Update(int64(s.depthLocked()))
}

// ownerPin records the level an owner's ready tasks are queued at.
type ownerPin struct {
	level   int
	pending int
}

func (s *Scheduler) wakeLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// pushReadyLocked queues a ready task at its priority level, unless the owner
// already has ready tasks queued: then it joins them at their level, so an
// owner's tasks always leave in the order they became ready. front puts the
// task ahead of the owner's other tasks.
func (s *Scheduler) pushReadyLocked(task *domain.Task, front bool) {
	pin, ok := s.pins[task.Owner]
	if !ok {
		level, _ := s.model.Index(task.Priority)
		pin = &ownerPin{level: level}
		s.pins[task.Owner] = pin
	}
	pin.pending++
	if front {
		s.queues[pin.level].PushFront(task)
	} else {
		s.queues[pin.level].Push(task)
	}
	s.ready++
}

func (s *Scheduler) isHeldLocked(owner domain.Identity) bool {
	_, ok := s.held[owner]
	return ok
}

// releaseLocked lets other workers take the owner's tasks again, if task is
// the one holding it.
func (s *Scheduler) releaseLocked(task *domain.Task) {
	if s.held[task.Owner] == task {
		delete(s.held, task.Owner)
		s.wakeLocked()
	}
}

func (s *Scheduler) unpinLocked(owner domain.Identity) {
	if pin, ok := s.pins[owner]; ok {
		pin.pending--
		if pin.pending <= 0 {
			delete(s.pins, owner)
		}
	}
}

func (s *Scheduler) depthLocked() int {
	return s.ready + s.delayed.len()
}

func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depthLocked()
}

// promoteDueLocked moves delayed tasks whose start time has come into the
// ready queues. A retry that was holding its owner through the backoff goes
// first in the owner's line.
func (s *Scheduler) promoteDueLocked(now time.Time) {
	for {
		task, ok := s.delayed.popDue(now)
		if !ok {
			return
		}
		retry := s.held[task.Owner] == task
		if retry {
			delete(s.held, task.Owner)
		}
		s.pushReadyLocked(task, retry)
	}
}

// popLocked returns the next ready task per the ratio, skipping cancelled
// tasks and held owners. With hold set the task's owner is held until the
// try is settled.
func (s *Scheduler) popLocked(hold bool) (*domain.Task, bool) {
	now := s.now()
	s.promoteDueLocked(now)
	for s.ready > 0 {
		level := s.ratio.selectLevel(func(l int) bool { return s.queues[l].HasTask(s.isHeldLocked) })
		if level < 0 {
			return nil, false
		}
		task, _ := s.queues[level].PopSkipping(s.isHeldLocked)
		s.ready--
		s.unpinLocked(task.Owner)
		if task.IsCancelled() {
			s.stat.Counter(stats.SchedTasksSkippedCounter).Inc(1)
			continue
		}
		if hold {
			s.held[task.Owner] = task
		}
		s.ratio.advance()
		s.stat.Counter(stats.SchedTasksDequeuedCounter).Inc(1)
		s.stat.Latency(stats.SchedQueueLatency_ms).Update(now.Sub(task.StartTime).Nanoseconds())
		s.stat.Gauge(stats.SchedQueueDepthGauge).Update(int64(s.depthLocked()))
		return task, true
	}
	return nil, false
}

// DequeueTasks hands up to max ready tasks to the caller, who then runs them.
// Their owners are not held.
func (s *Scheduler) DequeueTasks(max int) []*domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tasks []*domain.Task
	for len(tasks) < max {
		task, ok := s.popLocked(false)
		if !ok {
			break
		}
		tasks = append(tasks, task)
	}
	return tasks
}

func (s *Scheduler) NextTask(ctx context.Context) (*domain.Task, error) {
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return nil, ErrShutdown
		}
		if task, ok := s.popLocked(true); ok {
			s.mu.Unlock()
			return task, nil
		}
		notify := s.notify
		var timer *time.Timer
		var timerCh <-chan time.Time
		if start, ok := s.delayed.nextStart(); ok {
			timer = time.NewTimer(start.Sub(s.now()))
			timerCh = timer.C
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil, ctx.Err()
		case <-notify:
		case <-timerCh:
		}
		stopTimer(timer)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Step runs the next ready task on the calling goroutine. It returns false
// when nothing is ready. Meant for DebugMode.
func (s *Scheduler) Step(ctx context.Context) bool {
	s.mu.Lock()
	task, ok := s.popLocked(true)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.runTask(ctx, task)
	return true
}

// Stop is terminal: workers exit after their current task and further
// submissions fail with ErrShutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.wakeLocked()
	s.mu.Unlock()

	s.cancelWorkers()
	s.workers.Wait()
	log.Info("task scheduler stopped")
}
