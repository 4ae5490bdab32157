package async

// AsyncError is an error delivered once by some goroutine and read by the
// owner of the Mailbox it was created from.
type AsyncError struct {
	errCh     chan error
	wake      chan<- struct{}
	val       error
	completed bool
}

func newAsyncError(wake chan<- struct{}) *AsyncError {
	return &AsyncError{
		errCh: make(chan error, 1),
		wake:  wake,
	}
}

// SetValue completes the AsyncError. It must be called exactly once; a second
// call panics.
func (e *AsyncError) SetValue(err error) {
	e.errCh <- err
	close(e.errCh)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// TryGetValue reports whether the AsyncError has completed and, if so, its value.
// Only the mailbox owner calls this.
func (e *AsyncError) TryGetValue() (bool, error) {
	if e.completed {
		return true, e.val
	}
	select {
	case err := <-e.errCh:
		e.val = err
		e.completed = true
		return true, err
	default:
		return false, nil
	}
}
