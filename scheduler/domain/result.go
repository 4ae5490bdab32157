package domain

import (
	"time"
)

// Failure describes why a task run failed and whether it may be retried.
type Failure struct {
	Err         error
	ShouldRetry bool
	// Backoff, when positive, asks for the retry to wait at least this long.
	Backoff time.Duration
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "task failed"
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Result is what a task body returns: the objects it accessed, and a Failure
// when it did not complete.
type Result struct {
	Accessed []AccessedObject
	Failure  *Failure
}

func (r Result) Succeeded() bool { return r.Failure == nil }

// Ok reports success along with the accessed objects.
func Ok(accessed ...AccessedObject) Result {
	return Result{Accessed: accessed}
}

// Fail reports a failure that must not be retried.
func Fail(err error) Result {
	return Result{Failure: &Failure{Err: err}}
}

// Retry reports a failure that may be retried at the policy's discretion.
func Retry(err error) Result {
	return Result{Failure: &Failure{Err: err, ShouldRetry: true}}
}

// RetryAfter reports a retryable failure with a backoff hint.
func RetryAfter(err error, backoff time.Duration) Result {
	return Result{Failure: &Failure{Err: err, ShouldRetry: true, Backoff: backoff}}
}
