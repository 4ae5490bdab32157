// Package async runs functions on their own goroutines and delivers their
// results back to a single owner goroutine as callbacks.
package async

import (
	"context"
	"fmt"
)

// Runner spawns goroutines for functions and queues their callbacks in a
// Mailbox. Like the Mailbox, it is not safe for concurrent use.
//
//	runner := async.NewRunner()
//	runner.RunAsync(func() error { return mover.Move(ids, target) }, func(err error) {
//	  if err != nil {
//	    // undo optimistic bookkeeping
//	  }
//	})
//	...
//	runner.ProcessMessages()
type Runner struct {
	bx *Mailbox
}

func NewRunner() *Runner {
	return &Runner{bx: NewMailbox()}
}

func (r *Runner) NumRunning() int {
	return r.bx.Count()
}

// RunAsync runs f on a new goroutine. cb is invoked with f's result by a
// later ProcessMessages call. A panic in f is delivered to cb as an error.
func (r *Runner) RunAsync(f func() error, cb AsyncErrorResponseHandler) {
	asyncErr := r.bx.NewAsyncError(cb)
	go func(rsp *AsyncError) {
		var err error
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("async function panicked: %v", p)
			}
			rsp.SetValue(err)
		}()
		err = f()
	}(asyncErr)
}

// ProcessMessages invokes the callbacks of completed functions on the calling
// goroutine and returns how many ran.
func (r *Runner) ProcessMessages() int {
	return r.bx.ProcessMessages()
}

// Wakeup fires after some function completed. Safe to read without the
// caller's lock.
func (r *Runner) Wakeup() <-chan struct{} {
	return r.bx.Wakeup()
}

// Drain processes messages until nothing is running or ctx is done.
func (r *Runner) Drain(ctx context.Context) error {
	for {
		r.ProcessMessages()
		if r.NumRunning() == 0 {
			return nil
		}
		select {
		case <-r.Wakeup():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
