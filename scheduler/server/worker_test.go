package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reddwarf/sgs/common/stats"
	"github.com/reddwarf/sgs/scheduler/domain"
	"github.com/reddwarf/sgs/scheduler/retry"
)

type recordingReporter struct {
	mu      sync.Mutex
	reports map[domain.Identity][]domain.AccessedObject
}

func (r *recordingReporter) UpdateGraph(owner domain.Identity, objects []domain.AccessedObject) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reports == nil {
		r.reports = map[domain.Identity][]domain.AccessedObject{}
	}
	r.reports[owner] = append(r.reports[owner], objects...)
	return nil
}

func Test_Worker_RetryNowThenSucceed(t *testing.T) {
	deps := getDefaultSchedDeps()
	deps.policy, _ = retry.Lookup(retry.ImmediatePolicyName, retry.Config{})
	reporter := &recordingReporter{}
	deps.reporter = reporter
	s := makeScheduler(deps)
	defer s.Stop()

	runs := 0
	task := domain.NewTask(func(context.Context) domain.Result {
		runs++
		if runs < 3 {
			return domain.Retry(errors.New("conflict"))
		}
		return domain.Ok(domain.AccessedObject{ObjectID: "sword", Access: domain.Write})
	}, "alice", domain.Normal)
	require.NoError(t, s.Submit(task))

	for s.Step(context.Background()) {
	}
	assert.Equal(t, 3, runs)
	assert.Equal(t, 3, task.TryCount)
	assert.Equal(t, []domain.AccessedObject{{ObjectID: "sword", Access: domain.Write}}, reporter.reports["alice"])

	stats.VerifyStats("retry", deps.registry, t, map[string]stats.Rule{
		stats.SchedTasksRetriedNowCounter: {Checker: stats.Int64EqTest, Value: 2},
		stats.SchedTasksSucceededCounter:  {Checker: stats.Int64EqTest, Value: 1},
	})
}

func Test_Worker_RetryLaterWaitsForBackoff(t *testing.T) {
	deps := getDefaultSchedDeps()
	deps.policy = retry.NewStagedPolicy(retry.Config{BackoffThreshold: 1, InitialBackoff: time.Second, MaxBackoff: time.Minute})
	s := makeScheduler(deps)
	defer s.Stop()
	ctx := context.Background()

	runs := 0
	task := domain.NewTask(func(context.Context) domain.Result {
		runs++
		return domain.Retry(errors.New("conflict"))
	}, "alice", domain.Normal)
	require.NoError(t, s.Submit(task))

	assert.True(t, s.Step(ctx))  // try 1 fails, retried now
	assert.True(t, s.Step(ctx))  // try 2 fails, backed off 1s
	assert.False(t, s.Step(ctx)) // not yet due
	assert.Equal(t, 1, s.QueueDepth())

	deps.clock.Advance(time.Second)
	assert.True(t, s.Step(ctx))
	assert.Equal(t, 3, runs)
	assert.Error(t, task.LastFailure)
}

func Test_Worker_FatalAndPanicAreContained(t *testing.T) {
	deps := getDefaultSchedDeps()
	var failed []string
	deps.onFatal = func(task *domain.Task, err error) {
		failed = append(failed, task.ID)
	}
	s := makeScheduler(deps)
	defer s.Stop()

	fatal := domain.NewTask(func(context.Context) domain.Result {
		return domain.Fail(errors.New("bad move"))
	}, "alice", domain.Normal)
	panicky := domain.NewTask(func(context.Context) domain.Result {
		panic("oops")
	}, "bob", domain.Normal)
	fine := okTask("carol", domain.Normal)
	require.NoError(t, s.Submit(fatal))
	require.NoError(t, s.Submit(panicky))
	require.NoError(t, s.Submit(fine))

	steps := 0
	for s.Step(context.Background()) {
		steps++
	}
	assert.Equal(t, 3, steps)
	assert.ElementsMatch(t, []string{fatal.ID, panicky.ID}, failed)
	stats.VerifyStats("fatal", deps.registry, t, map[string]stats.Rule{
		stats.SchedTasksFailedCounter:    {Checker: stats.Int64EqTest, Value: 2},
		stats.SchedTaskPanicsCounter:     {Checker: stats.Int64EqTest, Value: 1},
		stats.SchedTasksSucceededCounter: {Checker: stats.Int64EqTest, Value: 1},
	})
}

func Test_Worker_TimeoutIsRetryable(t *testing.T) {
	deps := getDefaultSchedDeps()
	deps.policy, _ = retry.Lookup(retry.NeverPolicyName, retry.Config{})
	var lastErr error
	deps.onFatal = func(task *domain.Task, err error) { lastErr = err }
	s := makeScheduler(deps)
	defer s.Stop()

	task := domain.NewTask(func(ctx context.Context) domain.Result {
		<-ctx.Done()
		return domain.Ok()
	}, "alice", domain.Normal)
	task.Timeout = 5 * time.Millisecond
	require.NoError(t, s.Submit(task))

	assert.True(t, s.Step(context.Background()))
	require.Error(t, lastErr)
	assert.True(t, errors.Is(lastErr, domain.ErrTimedOut))
}

// An overrunning task is retried until MaxTries and its accesses are never reported.
func Test_Worker_TimeoutsStopAtMaxTries(t *testing.T) {
	deps := getDefaultSchedDeps()
	deps.policy = retry.NewStagedPolicy(retry.Config{MaxTries: 2, BackoffThreshold: 10})
	reporter := &recordingReporter{}
	deps.reporter = reporter
	var lastErr error
	deps.onFatal = func(task *domain.Task, err error) { lastErr = err }
	s := makeScheduler(deps)
	defer s.Stop()

	runs := 0
	task := domain.NewTask(func(ctx context.Context) domain.Result {
		runs++
		<-ctx.Done()
		return domain.Ok(domain.AccessedObject{ObjectID: "sword", Access: domain.Write})
	}, "alice", domain.Normal)
	task.Timeout = 5 * time.Millisecond
	require.NoError(t, s.Submit(task))

	for s.Step(context.Background()) {
	}
	assert.Equal(t, 2, runs)
	assert.Equal(t, 2, task.TryCount)
	require.Error(t, lastErr)
	assert.True(t, errors.Is(lastErr, domain.ErrTimedOut))
	assert.Empty(t, reporter.reports)
	assert.Equal(t, 0, s.QueueDepth())
}

func Test_Worker_PoolRunsEverything(t *testing.T) {
	deps := getDefaultSchedDeps()
	deps.config = SchedulerConfig{NumWorkers: 4}
	deps.clock = nil
	s := makeScheduler(deps)

	var ran int32
	for i := 0; i < 200; i++ {
		owner := domain.Identity(fmt.Sprintf("p%d", i%10))
		require.NoError(t, s.Submit(countingTask(owner, &ran, domain.Ok())))
	}
	require.NoError(t, s.SubmitDelayed(countingTask("late", &ran, domain.Ok()), 20*time.Millisecond))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 201 }, 5*time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Equal(t, ErrShutdown, s.Submit(okTask("alice", domain.Normal)))
}

func Test_Worker_OwnerTasksNeverOverlap(t *testing.T) {
	deps := getDefaultSchedDeps()
	deps.config = SchedulerConfig{NumWorkers: 4, TaskTimeout: -1}
	deps.clock = nil
	s := makeScheduler(deps)
	defer s.Stop()

	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	seen := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), events...)
	}

	release := make(chan struct{})
	require.NoError(t, s.Submit(domain.NewTask(func(context.Context) domain.Result {
		record("A-start")
		<-release
		record("A-end")
		return domain.Ok()
	}, "alice", domain.Normal)))
	require.NoError(t, s.Submit(domain.NewTask(func(context.Context) domain.Result {
		record("B-run")
		return domain.Ok()
	}, "alice", domain.Normal)))
	require.NoError(t, s.Submit(domain.NewTask(func(context.Context) domain.Result {
		record("C-run")
		return domain.Ok()
	}, "bob", domain.Normal)))

	// bob is served by another worker while alice's second task waits
	assert.Eventually(t, func() bool { return len(seen()) == 2 }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.ElementsMatch(t, []string{"A-start", "C-run"}, seen())

	close(release)
	assert.Eventually(t, func() bool { return len(seen()) == 4 }, 5*time.Second, time.Millisecond)
	var alice []string
	for _, e := range seen() {
		if e != "C-run" {
			alice = append(alice, e)
		}
	}
	assert.Equal(t, []string{"A-start", "A-end", "B-run"}, alice)
}

func Test_Worker_NextTaskUnblocksOnStop(t *testing.T) {
	s, _ := makeDefaultScheduler()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.NextTask(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	s.Stop()

	select {
	case err := <-errCh:
		assert.Equal(t, ErrShutdown, err)
	case <-time.After(2 * time.Second):
		t.Fatal("NextTask did not return after Stop")
	}
}

func Test_Worker_NextTaskHonorsContext(t *testing.T) {
	s, _ := makeDefaultScheduler()
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.NextTask(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
}
