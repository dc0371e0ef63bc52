// Package transport implements the byte-channel abstraction from spec
// §4.7: the commands() loop that drives a Bus List end to end, plus the
// write/read byte-counter telemetry every concrete Transport shares.
package transport

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lsst-ts/crio-ilcbus/buslist"
)

// EmptyAnswer is raised by Commands when a request's deadline expires
// before any reply bytes were read at all.
type EmptyAnswer struct{ Addr, Func byte }

func (e *EmptyAnswer) Error() string {
	return fmt.Sprintf("transport: no reply from address %d function %d before deadline", e.Addr, e.Func)
}

// RequestTimeout is raised by Commands when the deadline for the whole
// Commands call has already elapsed before a request could even be
// written.
type RequestTimeout struct{ Addr, Func byte }

func (e *RequestTimeout) Error() string {
	return fmt.Sprintf("transport: deadline exceeded before request to address %d function %d could be sent", e.Addr, e.Func)
}

// Channel is the abstract byte-channel every concrete Transport
// implements.
type Channel interface {
	Open() error
	Close() error
	Flush() error
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context, maxLen int, timeout time.Duration) ([]byte, error)
}

// Transport wraps a Channel with the commands() driver algorithm and
// cumulative byte-counter telemetry (§4.7).
type Transport struct {
	ch Channel

	bytesWritten uint64
	bytesRead    uint64
}

// New wraps ch.
func New(ch Channel) *Transport {
	return &Transport{ch: ch}
}

func (t *Transport) Open() error  { return t.ch.Open() }
func (t *Transport) Close() error { return t.ch.Close() }
func (t *Transport) Flush() error { return t.ch.Flush() }

func (t *Transport) write(ctx context.Context, data []byte) error {
	if err := t.ch.Write(ctx, data); err != nil {
		return err
	}
	atomic.AddUint64(&t.bytesWritten, uint64(len(data)))
	return nil
}

func (t *Transport) read(ctx context.Context, maxLen int, timeout time.Duration) ([]byte, error) {
	b, err := t.ch.Read(ctx, maxLen, timeout)
	atomic.AddUint64(&t.bytesRead, uint64(len(b)))
	return b, err
}

// Telemetry returns the cumulative write/read byte counters.
func (t *Transport) Telemetry() (written, read uint64) {
	return atomic.LoadUint64(&t.bytesWritten), atomic.LoadUint64(&t.bytesRead)
}

// Commands drives every outstanding request in l, in order, stopping as
// soon as the overall deadline expires. It is the direct translation of the
// §4.7 pseudocode: write the request, read until the Bus List's
// ResponseLength estimator is satisfied or the deadline passes, parse,
// honor any per-request quiet time, then clear the list.
func (t *Transport) Commands(ctx context.Context, l *buslist.List, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	defer l.Clear()

	for {
		req, ok := l.Pending()
		if !ok {
			break
		}

		now := time.Now()
		if !now.Before(deadline) {
			return &RequestTimeout{Addr: req.Addr, Func: req.Function}
		}
		if err := t.write(ctx, req.Frame); err != nil {
			return err
		}
		if req.Broadcast {
			l.SkipBroadcast()
			if req.QuietTime > 0 {
				time.Sleep(req.QuietTime)
			}
			continue
		}

		var accumulated []byte
		for {
			now = time.Now()
			remaining := deadline.Sub(now)
			if remaining <= 0 {
				break
			}
			expectedTotal := l.ResponseLength(accumulated, req)
			chunkWant := 256
			if expectedTotal >= 0 {
				if want := expectedTotal - len(accumulated); want > 0 {
					chunkWant = want
				} else {
					break
				}
			}
			chunk, err := t.read(ctx, chunkWant, remaining)
			if err != nil {
				return err
			}
			accumulated = append(accumulated, chunk...)
			expectedTotal = l.ResponseLength(accumulated, req)
			if expectedTotal >= 0 && len(accumulated) >= expectedTotal {
				break
			}
			now = time.Now()
			if !now.Before(deadline) {
				break
			}
		}

		if len(accumulated) == 0 {
			return &EmptyAnswer{Addr: req.Addr, Func: req.Function}
		}
		if err := l.Parse(accumulated); err != nil {
			return err
		}
		if req.QuietTime > 0 {
			time.Sleep(req.QuietTime)
		}
	}
	return nil
}
