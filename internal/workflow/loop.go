// Package workflow holds the state machine that decides which actions are
// available, the control loop it runs on and the event history pushed to the UI.
package workflow

import (
	"errors"
	"sync"
)

// ErrLoopClosed is returned when work is submitted after Close.
var ErrLoopClosed = errors.New("control loop closed")

// Loop runs submitted functions one at a time on a single goroutine. State
// that is not thread-safe is only touched from inside the loop.
type Loop struct {
	mu     sync.Mutex
	queue  chan func()
	closed bool
	done   chan struct{}
}

// NewLoop starts a control loop.
func NewLoop() *Loop {
	l := &Loop{
		queue: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for fn := range l.queue {
		fn()
	}
}

// Do runs fn on the loop and waits for it to finish. Calling Do from inside
// the loop deadlocks.
func (l *Loop) Do(fn func()) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	<-finished
	return nil
}

// Post enqueues fn without waiting. Background work uses it to hand results
// back to the loop.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLoopClosed
	}
	l.queue <- fn
	return nil
}

// Close stops accepting work and waits for queued work to drain.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()
	<-l.done
}
