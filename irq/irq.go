// Package irq implements the Interrupt Watcher from spec §4.10: a
// goroutine that blocks on FPGA IRQ bits with a short timeout and
// dispatches triggered bits onto the Controller Thread, grounded on the
// ISR-to-worker handoff pattern used for GPIO interrupt watching (a
// non-blocking producer feeding a polling consumer goroutine).
package irq

import (
	"time"

	"github.com/lsst-ts/crio-ilcbus/controller"
	"github.com/lsst-ts/crio-ilcbus/task"
	"github.com/lsst-ts/crio-ilcbus/worker"
)

// PollTimeout is how long WaitIRQ is allowed to block before returning with
// no bits set, per spec §4.10.
const PollTimeout = 20 * time.Millisecond

// Source abstracts the FPGA IRQ register: WaitIRQ blocks for up to timeout
// waiting for any configured IRQ bit to fire, returning the triggered
// bitmask (0 on timeout).
type Source interface {
	WaitIRQ(timeout time.Duration) (bits uint32, err error)
}

// Handler processes the bits set for one triggered interrupt bit index.
type Handler func(bit int)

// Watcher owns a worker.Thread that polls Source and, on any triggered
// bits, enqueues a WatcherTask onto the Controller Thread.
type Watcher struct {
	source     Source
	controller *controller.Thread
	handlers   map[int]Handler
	w          *worker.Thread
}

// New constructs a Watcher. ctrl is the Controller Thread that dispatched
// WatcherTasks run on.
func New(source Source, ctrl *controller.Thread) *Watcher {
	w := &Watcher{
		source:     source,
		controller: ctrl,
		handlers:   map[int]Handler{},
	}
	w.w = worker.New(w.loop)
	return w
}

// OnBit registers the handler invoked when IRQ bit fires.
func (w *Watcher) OnBit(bit int, h Handler) {
	w.handlers[bit] = h
}

// Start launches the polling goroutine.
func (w *Watcher) Start(timeout time.Duration) error { return w.w.Start(timeout) }

// Stop signals and joins the polling goroutine.
func (w *Watcher) Stop(timeout time.Duration) error { return w.w.Stop(timeout) }

func (w *Watcher) loop(wt *worker.Thread) {
	wt.MarkStarted()
	for wt.IsRunning() {
		bits, err := w.source.WaitIRQ(PollTimeout)
		if err != nil || bits == 0 {
			continue
		}
		w.controller.Enqueue(&WatcherTask{watcher: w, bits: bits})
	}
}

// WatcherTask carries one triggered-bit snapshot onto the Controller
// Thread, dispatching to each registered Handler in bit-index order.
type WatcherTask struct {
	task.Base
	watcher *Watcher
	bits    uint32
}

// Run dispatches the triggered bits to their registered handlers.
func (t *WatcherTask) Run() task.Reschedule {
	for bit := 0; bit < 32; bit++ {
		if t.bits&(1<<uint(bit)) == 0 {
			continue
		}
		if h, ok := t.watcher.handlers[bit]; ok {
			h(bit)
		}
	}
	return task.DontReschedule
}
