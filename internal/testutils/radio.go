package testutils

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/srg/blemon/internal/radio"
)

type fakeDevice struct {
	address string
	props   map[string]any
}

// FakeRadio is the radio.Radio handed out by FakePlatform.
type FakeRadio struct {
	platform *FakePlatform
	name     string
	found    chan radio.DeviceID
	feedMu   sync.Mutex

	mu          sync.Mutex
	devices     map[radio.DeviceID]fakeDevice
	watches     []*FakeWatch
	filter      radio.DiscoveryFilter
	discovering bool
	closed      bool
	closes      int
}

func (r *FakeRadio) Name() string { return r.name }

func (r *FakeRadio) SetDiscoveryFilter(_ context.Context, filter radio.DiscoveryFilter) error {
	r.platform.mu.Lock()
	r.platform.filterCalls++
	r.platform.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return radio.ErrClosed
	}
	r.filter = filter
	return nil
}

func (r *FakeRadio) StartDiscovery(context.Context) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()

	p := r.platform
	p.mu.Lock()
	p.startCalls++
	call, hook := p.startCalls, p.startErr
	if closed {
		p.startAfterClosed++
	}
	p.mu.Unlock()

	if closed {
		return radio.ErrClosed
	}
	if hook != nil {
		if err := hook(call); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovering = true
	return nil
}

func (r *FakeRadio) StopDiscovery(context.Context) error {
	p := r.platform
	p.mu.Lock()
	p.stopCalls++
	call, hook := p.stopCalls, p.stopErr
	p.mu.Unlock()

	r.mu.Lock()
	r.discovering = false
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return radio.ErrClosed
	}
	if hook != nil {
		return hook(call)
	}
	return nil
}

func (r *FakeRadio) DeviceFound() <-chan radio.DeviceID { return r.found }

func (r *FakeRadio) Address(_ context.Context, id radio.DeviceID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return "", fmt.Errorf("unknown device %s", id)
	}
	return d.address, nil
}

func (r *FakeRadio) Properties(_ context.Context, id radio.DeviceID) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("unknown device %s", id)
	}
	return maps.Clone(d.props), nil
}

func (r *FakeRadio) WatchProperties(_ context.Context, id radio.DeviceID, fn func(map[string]any)) (radio.Watch, error) {
	r.platform.mu.Lock()
	watchErr, closeErr := r.platform.watchErr, r.platform.watchCloseErr
	r.platform.mu.Unlock()

	if watchErr != nil {
		if err := watchErr(id); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, radio.ErrClosed
	}
	w := &FakeWatch{ID: id, fn: fn}
	if closeErr != nil {
		w.closeErr = closeErr(id)
	}
	r.watches = append(r.watches, w)
	return w, nil
}

func (r *FakeRadio) Close() error {
	r.feedMu.Lock()
	defer r.feedMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	if !r.closed {
		r.closed = true
		r.discovering = false
		close(r.found)
	}
	return nil
}

// Emit registers a device with its properties and announces it on
// DeviceFound. It is a no-op on a closed radio.
func (r *FakeRadio) Emit(id radio.DeviceID, address string, props map[string]any) {
	r.feedMu.Lock()
	defer r.feedMu.Unlock()

	if !r.Seed(id, address, props) {
		return
	}
	r.found <- id
}

// Seed registers a device the radio already knows without announcing it.
// It reports false on a closed radio.
func (r *FakeRadio) Seed(id radio.DeviceID, address string, props map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	cp := maps.Clone(props)
	if cp == nil {
		cp = map[string]any{}
	}
	r.devices[id] = fakeDevice{address: address, props: cp}
	return true
}

// Change delivers changed properties to the open watches of id.
func (r *FakeRadio) Change(id radio.DeviceID, changed map[string]any) {
	r.mu.Lock()
	var targets []*FakeWatch
	for _, w := range r.watches {
		if w.ID == id && w.Closes() == 0 {
			targets = append(targets, w)
		}
	}
	if d, ok := r.devices[id]; ok {
		maps.Copy(d.props, changed)
	}
	r.mu.Unlock()

	for _, w := range targets {
		w.fn(changed)
	}
}

// Closes counts Close calls on this radio.
func (r *FakeRadio) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

func (r *FakeRadio) Watches() []*FakeWatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*FakeWatch(nil), r.watches...)
}

func (r *FakeRadio) Filter() radio.DiscoveryFilter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter
}

func (r *FakeRadio) Discovering() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discovering
}

func (r *FakeRadio) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// FakeWatch counts how often it was closed.
type FakeWatch struct {
	ID       radio.DeviceID
	fn       func(map[string]any)
	closeErr error
	closes   atomic.Int32
}

func (w *FakeWatch) Close() error {
	w.closes.Add(1)
	return w.closeErr
}

func (w *FakeWatch) Closes() int { return int(w.closes.Load()) }
