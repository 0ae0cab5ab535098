// Package ringchan provides a bounded queue with drop-oldest overflow.
//
// Producers never block: when the buffer is full the oldest queued element
// is discarded to make room. Consumers read from C() as from any channel.
package ringchan

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("ringchan: closed")

// RingChannel is safe for concurrent producers and consumers.
type RingChannel[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool

	metrics Metrics
}

// New creates a RingChannel holding at most capacity elements.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close once drained.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Push enqueues v, evicting the oldest element when full.
// The evicted element, if any, is returned with dropped set.
func (rc *RingChannel[T]) Push(v T) (evicted T, dropped bool, err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		rc.metrics.Errors.Add(1)
		return evicted, false, ErrClosed
	}

	for {
		select {
		case rc.ch <- v:
			rc.metrics.Written.Add(1)
			return evicted, dropped, nil
		default:
		}
		// Full: a consumer may race us for the head, hence the loop.
		select {
		case evicted = <-rc.ch:
			dropped = true
			rc.metrics.Overwritten.Add(1)
		default:
		}
	}
}

// Receive blocks until a value is available or the channel is closed and
// drained. Values read through Receive are counted as processed.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.metrics.Processed.Add(1)
	}
	return
}

func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close stops accepting pushes. Queued elements remain readable.
// Calling Close more than once is a no-op.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// Metrics returns a snapshot of the counters.
func (rc *RingChannel[T]) Metrics() Snapshot {
	return Snapshot{
		Processed:   rc.metrics.Processed.Load(),
		Written:     rc.metrics.Written.Load(),
		Overwritten: rc.metrics.Overwritten.Load(),
		Errors:      rc.metrics.Errors.Load(),
	}
}

// Metrics are updated atomically.
type Metrics struct {
	Processed   atomic.Int64
	Written     atomic.Int64
	Overwritten atomic.Int64
	Errors      atomic.Int64
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Processed   int64
	Written     int64
	Overwritten int64
	Errors      int64
}
