// Package event provides the single-threaded cooperative scheduler the
// engine runs on. All engine state is touched only by closures executed
// by one Run or Poll caller; the only cross-goroutine surface is Post.
package event

import (
	"sync"

	"github.com/nmxmxh/kadstore/kaderror"
)

// Loop is a FIFO queue of closures with a blocking runner. Sockets,
// timers and user calls post work; Run executes it until an abort is
// requested or a fatal failure is recorded.
type Loop struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []func()

	// Written only from closures running on the loop, read by the
	// runner between closures.
	abortRequested bool
	failure        error
}

// NewLoop creates an empty loop.
func NewLoop() *Loop {
	l := &Loop{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Post enqueues a closure. Safe to call from any goroutine; closures
// run in FIFO order relative to each other.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.cond.Signal()
}

// RequestAbort posts a closure that stops the runner. Pending work
// queued before the abort still executes first.
func (l *Loop) RequestAbort() {
	l.Post(func() { l.abortRequested = true })
}

// Fail records a fatal error. The runner stops and returns it. Must be
// called from a closure running on the loop.
func (l *Loop) Fail(err error) {
	l.failure = err
}

// Run executes queued closures until an abort or failure, blocking when
// the queue is empty. It returns RunAborted after RequestAbort, or the
// recorded failure.
func (l *Loop) Run() error {
	// A fresh run serves a fresh abort request.
	l.abortRequested = false

	for {
		fn := l.next()
		fn()

		if l.failure != nil {
			err := l.failure
			l.failure = nil
			return err
		}
		if l.abortRequested {
			return kaderror.RunAborted
		}
	}
}

// Poll executes every closure that is already queued without blocking
// and reports how many ran. Tests drive engines with it.
func (l *Loop) Poll() int {
	executed := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return executed
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
		executed++

		if l.failure != nil || l.abortRequested {
			return executed
		}
	}
}

// Err returns the failure recorded by Fail, if any. Tests use it after
// Poll; Run consumes it itself.
func (l *Loop) Err() error {
	return l.failure
}

// Aborted reports whether an abort request has been executed.
func (l *Loop) Aborted() bool {
	return l.abortRequested
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) == 0 {
		l.cond.Wait()
	}
	fn := l.queue[0]
	l.queue = l.queue[1:]
	return fn
}
