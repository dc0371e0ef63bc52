// Package task implements the Task Queue described in spec §4.9: a
// min-heap of pending Tasks keyed on absolute due time, grounded on the
// container/heap poll-item pattern used for scheduled polling.
package task

import (
	"container/heap"
	"sync"
	"time"
)

// Reschedule is the result of a Task's Run: either drop the task, or
// reinsert it at now+After.
type Reschedule struct {
	reschedule bool
	after      time.Duration
}

// DontReschedule drops the task after this run.
var DontReschedule = Reschedule{}

// After reinsterts the task at now+d.
func After(d time.Duration) Reschedule { return Reschedule{reschedule: true, after: d} }

// ShouldReschedule and Delay expose Reschedule's fields to the Controller
// Thread.
func (r Reschedule) ShouldReschedule() bool { return r.reschedule }
func (r Reschedule) Delay() time.Duration   { return r.after }

// Task is a unit of scheduled work.
type Task interface {
	// Validate reports whether the task is still eligible to run. Most
	// tasks never override the default (true).
	Validate() bool
	// Run executes the task and reports whether/when it should run again.
	Run() Reschedule
	// ReportException is called by the Controller Thread when Run panics
	// (with the recovered value wrapped in an error) and when Validate
	// returns false at enqueue time (with a *ValidationFailed).
	ReportException(err error)
}

// Base provides the default Validate/ReportException so concrete tasks
// only need to implement Run.
type Base struct{}

func (Base) Validate() bool            { return true }
func (Base) ReportException(err error) {}

// ValidationFailed is reported to Task.ReportException when Validate
// returns false before the task is enqueued (§7).
type ValidationFailed struct{}

func (e *ValidationFailed) Error() string { return "task: validation failed" }

type item struct {
	task  Task
	due   int64 // UnixNano
	seq   int64 // insertion order, breaks ties between equal due times
	index int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a thread-safe min-heap of pending Tasks keyed on absolute due
// time, with ties broken by insertion order (§5).
type Queue struct {
	mu      sync.Mutex
	h       itemHeap
	nextSeq int64
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push inserts task so it becomes due at when.
func (q *Queue) Push(t Task, when time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, &item{task: t, due: when.UnixNano(), seq: q.nextSeq})
	q.nextSeq++
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// NextDue returns the due time of the earliest-scheduled task, and false if
// the queue is empty.
func (q *Queue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, q.h[0].due), true
}

// PopReady pops and returns every task whose due time is <= now, in due
// order.
func (q *Queue) PopReady(now time.Time) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	nowNs := now.UnixNano()
	var ready []Task
	for q.h.Len() > 0 && q.h[0].due <= nowNs {
		it := heap.Pop(&q.h).(*item)
		ready = append(ready, it.task)
	}
	return ready
}
