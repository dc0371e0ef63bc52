// Package controller implements the Controller Thread from spec §4.9: a
// single background thread that serializes Task execution, driven by a
// task.Queue and hosted on a worker.Thread, with the NotStarted -> Running
// -> Stopping -> Stopped state machine the spec mandates.
package controller

import (
	"fmt"
	"time"

	"github.com/lsst-ts/crio-ilcbus/task"
	"github.com/lsst-ts/crio-ilcbus/worker"
)

// State is the Controller Thread's lifecycle state.
type State int

const (
	NotStarted State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// AlreadyStarted is returned by Start when called twice without an
// intervening Stop.
type AlreadyStarted struct{}

func (e *AlreadyStarted) Error() string { return "controller: already started" }

// EnqueueDelay is the fixed delay applied by Enqueue (spec §4.9: "insert at
// now + 1 ms").
const EnqueueDelay = 1 * time.Millisecond

// pollInterval bounds how long the worker goroutine sleeps when the queue
// is empty or the next task isn't due yet, so it notices Stop promptly.
const pollInterval = 5 * time.Millisecond

// Thread is the Controller Thread singleton. Callers typically construct
// one at process startup and share it.
type Thread struct {
	queue *task.Queue
	w     *worker.Thread
	state State
}

// New constructs a Controller Thread in the NotStarted state.
func New() *Thread {
	c := &Thread{
		queue: task.NewQueue(),
		state: NotStarted,
	}
	c.w = worker.New(c.loop)
	return c
}

// Start launches the background goroutine. It is illegal to call Start
// twice without an intervening Stop.
func (c *Thread) Start(timeout time.Duration) error {
	if c.state == Running {
		return &AlreadyStarted{}
	}
	if err := c.w.Start(timeout); err != nil {
		return err
	}
	c.state = Running
	return nil
}

// Stop signals the background goroutine, wakes it, and joins it.
func (c *Thread) Stop(timeout time.Duration) error {
	c.state = Stopping
	err := c.w.Stop(timeout)
	c.state = Stopped
	return err
}

// State returns the current lifecycle state.
func (c *Thread) State() State { return c.state }

// Enqueue schedules task to run at now + EnqueueDelay. If t.Validate()
// returns false, the task is dropped and t.ReportException is called with
// a ValidationFailed error instead (§3, §7).
func (c *Thread) Enqueue(t task.Task) {
	c.enqueueAt(t, time.Now().Add(EnqueueDelay))
}

// EnqueueAt schedules task to run at an absolute time, subject to the same
// Validate gate as Enqueue.
func (c *Thread) EnqueueAt(t task.Task, when time.Time) {
	c.enqueueAt(t, when)
}

func (c *Thread) enqueueAt(t task.Task, when time.Time) {
	if !t.Validate() {
		t.ReportException(&task.ValidationFailed{})
		return
	}
	c.queue.Push(t, when)
}

func (c *Thread) loop(w *worker.Thread) {
	w.MarkStarted()
	for w.IsRunning() {
		now := time.Now()
		if due, ok := c.queue.NextDue(); ok && !due.After(now) {
			for _, t := range c.queue.PopReady(now) {
				c.runOne(t)
			}
			continue
		}
		time.Sleep(pollInterval)
	}
}

// runOne runs a task already popped from the queue. Validate has already
// gated this task at enqueue time, so runOne only needs to guard Run itself.
func (c *Thread) runOne(t task.Task) {
	defer func() {
		if r := recover(); r != nil {
			t.ReportException(fmt.Errorf("controller: task panicked: %v", r))
		}
	}()
	resched := t.Run()
	if resched.ShouldReschedule() {
		c.queue.Push(t, time.Now().Add(resched.Delay()))
	}
}
