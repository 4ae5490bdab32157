package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reddwarf/sgs/scheduler/domain"
)

var errConflict = errors.New("conflict")

func taskWithTries(n int) *domain.Task {
	t := domain.NewTask(func(context.Context) domain.Result { return domain.Ok() }, "alice", domain.Normal)
	t.TryCount = n
	return t
}

func TestStagedPolicyStages(t *testing.T) {
	p := NewStagedPolicy(Config{BackoffThreshold: 2, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 35 * time.Millisecond})
	retryable := domain.Retry(errConflict).Failure

	expected := []Outcome{
		{RetryNow, 0},
		{RetryNow, 0},
		{RetryLater, 10 * time.Millisecond}, // tries 3-4
		{RetryLater, 10 * time.Millisecond},
		{RetryLater, 20 * time.Millisecond}, // tries 5-6
		{RetryLater, 20 * time.Millisecond},
		{RetryLater, 35 * time.Millisecond}, // capped
		{RetryLater, 35 * time.Millisecond},
	}
	for i, want := range expected {
		assert.Equal(t, want, p.Classify(taskWithTries(i+1), retryable), "try %d", i+1)
	}
}

func TestStagedPolicyDropsFatal(t *testing.T) {
	p := NewStagedPolicy(Config{})
	assert.Equal(t, Drop, p.Classify(taskWithTries(1), domain.Fail(errConflict).Failure).Decision)
	assert.Equal(t, Drop, p.Classify(taskWithTries(1), nil).Decision)
}

func TestStagedPolicyMaxTries(t *testing.T) {
	p := NewStagedPolicy(Config{MaxTries: 3})
	retryable := domain.Retry(errConflict).Failure
	assert.Equal(t, RetryNow, p.Classify(taskWithTries(2), retryable).Decision)
	assert.Equal(t, Drop, p.Classify(taskWithTries(3), retryable).Decision)
}

func TestStagedPolicyHonorsHint(t *testing.T) {
	p := NewStagedPolicy(Config{})
	out := p.Classify(taskWithTries(1), domain.RetryAfter(errConflict, time.Second).Failure)
	assert.Equal(t, Outcome{RetryLater, time.Second}, out)
}

func TestLookup(t *testing.T) {
	p, err := Lookup("", Config{})
	require.NoError(t, err)
	assert.IsType(t, &stagedPolicy{}, p)

	p, err = Lookup(NeverPolicyName, Config{})
	require.NoError(t, err)
	assert.Equal(t, Drop, p.Classify(taskWithTries(1), domain.Retry(errConflict).Failure).Decision)

	p, err = Lookup(ImmediatePolicyName, Config{})
	require.NoError(t, err)
	assert.Equal(t, RetryNow, p.Classify(taskWithTries(100), domain.Retry(errConflict).Failure).Decision)

	_, err = Lookup("reflective", Config{})
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	Register("always-later", func(Config) Policy { return &immediatePolicy{} })
	assert.Contains(t, Names(), "always-later")
}
