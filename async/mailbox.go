package async

// Mailbox tracks in-flight AsyncErrors and runs each one's callback, on the
// goroutine calling ProcessMessages, once it completes.
//
// A Mailbox is not safe for concurrent use. Callers that share one between
// goroutines guard it with their own lock; Wakeup may be read without it.
type Mailbox struct {
	msgs []message
	wake chan struct{}
}

// AsyncErrorResponseHandler is invoked with the value of a completed AsyncError.
type AsyncErrorResponseHandler func(error)

type message struct {
	err      *AsyncError
	callback AsyncErrorResponseHandler
}

func NewMailbox() *Mailbox {
	return &Mailbox{wake: make(chan struct{}, 1)}
}

func (bx *Mailbox) Count() int {
	return len(bx.msgs)
}

// NewAsyncError registers cb to run once the returned AsyncError is set.
func (bx *Mailbox) NewAsyncError(cb AsyncErrorResponseHandler) *AsyncError {
	msg := message{err: newAsyncError(bx.wake), callback: cb}
	bx.msgs = append(bx.msgs, msg)
	return msg.err
}

// ProcessMessages runs the callbacks of all completed messages, in the order
// they were registered, and returns how many ran.
func (bx *Mailbox) ProcessMessages() int {
	ran := 0
	msgs := bx.msgs
	bx.msgs = nil
	var pending []message
	for _, msg := range msgs {
		if ok, err := msg.err.TryGetValue(); ok {
			if msg.callback != nil {
				msg.callback(err)
			}
			ran++
		} else {
			pending = append(pending, msg)
		}
	}
	// callbacks may have registered new messages
	bx.msgs = append(pending, bx.msgs...)
	return ran
}

// Wakeup receives a value after at least one AsyncError completed since the
// last receive.
func (bx *Mailbox) Wakeup() <-chan struct{} {
	return bx.wake
}
