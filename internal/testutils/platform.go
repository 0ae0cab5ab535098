package testutils

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/srg/blemon/internal/radio"
)

// FakePlatform is an in-memory radio.Platform. Every Open returns a fresh
// FakeRadio; call counters and failure hooks are shared by all radios so a
// test can script behaviour across adapter resets.
type FakePlatform struct {
	mu       sync.Mutex
	adapters []string
	openErr  error
	radios   []*FakeRadio

	startErr      func(call int) error
	stopErr       func(call int) error
	watchErr      func(id radio.DeviceID) error
	watchCloseErr func(id radio.DeviceID) error
	onOpen        func(n int, r *FakeRadio)

	filterCalls      int
	startCalls       int
	stopCalls        int
	startAfterClosed int
}

func NewFakePlatform(adapters ...string) *FakePlatform {
	return &FakePlatform{adapters: adapters}
}

func (p *FakePlatform) Adapters(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.adapters...), nil
}

func (p *FakePlatform) Open(ctx context.Context, name string) (radio.Radio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.openErr != nil {
		p.mu.Unlock()
		return nil, p.openErr
	}
	if !slices.Contains(p.adapters, name) {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", radio.ErrAdapterNotFound, name)
	}

	r := &FakeRadio{
		platform: p,
		name:     name,
		found:    make(chan radio.DeviceID, 16),
		devices:  make(map[radio.DeviceID]fakeDevice),
	}
	p.radios = append(p.radios, r)
	n, hook := len(p.radios), p.onOpen
	p.mu.Unlock()

	if hook != nil {
		hook(n, r)
	}
	return r, nil
}

// SetAdapters replaces the adapter list seen by later calls.
func (p *FakePlatform) SetAdapters(adapters ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adapters = adapters
}

func (p *FakePlatform) SetOpenError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErr = err
}

// OnStartDiscovery scripts StartDiscovery; call is 1-based across all radios.
func (p *FakePlatform) OnStartDiscovery(fn func(call int) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startErr = fn
}

// OnStopDiscovery scripts StopDiscovery; call is 1-based across all radios.
func (p *FakePlatform) OnStopDiscovery(fn func(call int) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopErr = fn
}

// OnOpen runs fn with every radio before Open returns it; n is 1-based.
// Devices emitted from fn are queued like ones a platform reports on open.
func (p *FakePlatform) OnOpen(fn func(n int, r *FakeRadio)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onOpen = fn
}

func (p *FakePlatform) OnWatch(fn func(id radio.DeviceID) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchErr = fn
}

func (p *FakePlatform) OnWatchClose(fn func(id radio.DeviceID) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchCloseErr = fn
}

// Radios returns every radio opened so far, oldest first.
func (p *FakePlatform) Radios() []*FakeRadio {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*FakeRadio(nil), p.radios...)
}

// Current returns the most recently opened radio, or nil.
func (p *FakePlatform) Current() *FakeRadio {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.radios) == 0 {
		return nil
	}
	return p.radios[len(p.radios)-1]
}

func (p *FakePlatform) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.radios)
}

func (p *FakePlatform) FilterCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filterCalls
}

func (p *FakePlatform) StartCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startCalls
}

func (p *FakePlatform) StopCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCalls
}

// StartsAfterClose counts StartDiscovery calls made on a closed radio.
func (p *FakePlatform) StartsAfterClose() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startAfterClosed
}

// Watches returns every watch created on any radio.
func (p *FakePlatform) Watches() []*FakeWatch {
	var all []*FakeWatch
	for _, r := range p.Radios() {
		all = append(all, r.Watches()...)
	}
	return all
}

// Discovering reports whether any open radio has discovery running.
func (p *FakePlatform) Discovering() bool {
	for _, r := range p.Radios() {
		if r.Discovering() {
			return true
		}
	}
	return false
}

// ErrFake is a generic scripted failure.
var ErrFake = errors.New("fake failure")
