package testutils

import (
	"context"
	"sync"
)

// FakeResetter records reset calls. A non-nil Hold channel blocks each
// reset until it is closed or receives a value.
type FakeResetter struct {
	mu    sync.Mutex
	calls int
	err   func(call int) error

	Hold    chan struct{}
	Entered chan struct{}
}

func NewFakeResetter() *FakeResetter {
	return &FakeResetter{Entered: make(chan struct{}, 16)}
}

// OnReset scripts the result of each call; call is 1-based.
func (f *FakeResetter) OnReset(fn func(call int) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = fn
}

func (f *FakeResetter) Reset(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	call, hook := f.calls, f.err
	f.mu.Unlock()

	select {
	case f.Entered <- struct{}{}:
	default:
	}

	if f.Hold != nil {
		select {
		case <-f.Hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if hook != nil {
		return hook(call)
	}
	return nil
}

func (f *FakeResetter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
