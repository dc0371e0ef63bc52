// Package worker implements the Worker Thread primitive from spec §4.11: a
// start/stop/join lifecycle around a single background goroutine, signalled
// with an explicit mutex and condition variable rather than a context, to
// match the handshake the specification describes (threadStarted /
// keepRunning flags flipped under lock and observed by the opposite side).
package worker

import (
	"fmt"
	"sync"
	"time"
)

// Timeout is returned by Start or Stop when the worker did not reach the
// expected state within the given deadline.
type Timeout struct{ Op string }

func (e *Timeout) Error() string { return fmt.Sprintf("worker: %s timed out", e.Op) }

// CannotStop is returned by Stop when the deadline passes and the worker's
// run function still has not returned (a run body that ignores IsRunning's
// cue to exit).
type CannotStop struct{}

func (e *CannotStop) Error() string { return "worker: goroutine did not honor stop request" }

// Thread is a single managed background goroutine.
type Thread struct {
	run func(t *Thread)

	mu            sync.Mutex
	cond          *sync.Cond
	threadStarted bool
	keepRunning   bool
	joined        chan struct{}
}

// New constructs a Thread that will invoke run on Start. run must poll
// t.IsRunning() periodically and return once it becomes false.
func New(run func(t *Thread)) *Thread {
	t := &Thread{run: run}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// IsRunning reports whether the worker has been asked to keep running. The
// goroutine body calls this in its loop condition.
func (t *Thread) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keepRunning
}

// MarkStarted is called once by the worker goroutine after it has finished
// its own setup, unblocking a concurrent Start call.
func (t *Thread) MarkStarted() {
	t.mu.Lock()
	t.threadStarted = true
	t.cond.Broadcast()
	t.mu.Unlock()
}

// Start launches the goroutine and blocks until it calls MarkStarted, or
// timeout elapses.
func (t *Thread) Start(timeout time.Duration) error {
	t.mu.Lock()
	if t.keepRunning {
		t.mu.Unlock()
		return fmt.Errorf("worker: already started")
	}
	t.keepRunning = true
	t.threadStarted = false
	t.joined = make(chan struct{})
	t.mu.Unlock()

	joined := t.joined
	go func() {
		defer func() {
			t.mu.Lock()
			t.threadStarted = false
			t.cond.Broadcast()
			t.mu.Unlock()
			close(joined)
		}()
		t.run(t)
	}()

	return t.waitFor(&t.threadStarted, true, timeout, "start")
}

// Stop clears keepRunning, wakes the worker, and waits for threadStarted to
// flip back to false within timeout. Safe to call concurrently; every
// caller waits on the same flag, so each one returns nil if the worker
// terminates within its own timeout. If the deadline passes and the
// goroutine still hasn't returned at all, Stop reports CannotStop rather
// than the generic Timeout, since that specific condition means run ignored
// the IsRunning cue rather than merely being slow to observe it.
func (t *Thread) Stop(timeout time.Duration) error {
	t.mu.Lock()
	t.keepRunning = false
	t.cond.Broadcast()
	joined := t.joined
	t.mu.Unlock()

	err := t.waitFor(&t.threadStarted, false, timeout, "stop")
	if err != nil {
		select {
		case <-joined:
		default:
			return &CannotStop{}
		}
	}
	return err
}

// waitFor blocks until *flag == want or timeout elapses, using the
// condition variable; a timer wakes up blocked waiters so the deadline
// check in the loop can fire even with no further state changes.
func (t *Thread) waitFor(flag *bool, want bool, timeout time.Duration, op string) error {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer timer.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	for *flag != want {
		if time.Now().After(deadline) {
			return &Timeout{Op: op}
		}
		t.cond.Wait()
	}
	return nil
}

// Joinable reports whether Start has been called and the goroutine has not
// yet been joined.
func (t *Thread) Joinable() bool {
	t.mu.Lock()
	j := t.joined
	t.mu.Unlock()
	if j == nil {
		return false
	}
	select {
	case <-j:
		return false
	default:
		return true
	}
}

// Join blocks until the worker goroutine returns.
func (t *Thread) Join() {
	t.mu.Lock()
	j := t.joined
	t.mu.Unlock()
	if j != nil {
		<-j
	}
}
