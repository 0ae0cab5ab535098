package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blemon/internal/radio"
)

// HandleState is the lifecycle state of the adapter handle.
type HandleState int

const (
	Unacquired HandleState = iota
	Active
	Resetting
	Failed
)

func (s HandleState) String() string {
	switch s {
	case Unacquired:
		return "unacquired"
	case Active:
		return "active"
	case Resetting:
		return "resetting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("HandleState(%d)", int(s))
	}
}

// Resetter runs the hardware reset of the adapter.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Controller exclusively owns the adapter handle. Every adapter mutation
// runs under its gate, so a reset never interleaves with discovery calls.
type Controller struct {
	platform radio.Platform
	resetter Resetter
	adapter  string
	logger   *logrus.Logger

	// onAcquire is called under the gate with every newly opened handle.
	onAcquire func(radio.Radio)
	// onRelease is called under the gate right before a handle is closed,
	// so it always runs before a replacement is opened.
	onRelease func(radio.Radio)

	gate chan struct{}

	mu           sync.Mutex
	handle       radio.Radio
	state        HandleState
	resetGen     uint64
	lastResetErr error
}

// NewController creates a controller for the named adapter; an empty name
// selects the first adapter the platform reports.
func NewController(platform radio.Platform, resetter Resetter, adapter string, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		platform: platform,
		resetter: resetter,
		adapter:  adapter,
		logger:   logger,
		gate:     make(chan struct{}, 1),
	}
}

// lock takes the gate or gives up when ctx is done.
func (c *Controller) lock(ctx context.Context) error {
	select {
	case c.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) unlock() { <-c.gate }

// Acquire returns the active handle, opening one if needed.
func (c *Controller) Acquire(ctx context.Context) (radio.Radio, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()
	return c.acquireLocked(ctx)
}

func (c *Controller) acquireLocked(ctx context.Context) (radio.Radio, error) {
	c.mu.Lock()
	if c.handle != nil && c.state == Active {
		h := c.handle
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	name, err := c.selectAdapter(ctx)
	if err != nil {
		return nil, err
	}
	h, err := c.platform.Open(ctx, name)
	if err != nil {
		return nil, radio.NormalizeError(err)
	}

	c.mu.Lock()
	c.handle = h
	c.state = Active
	c.mu.Unlock()

	c.logger.WithField("adapter", name).Info("Bluetooth adapter acquired")
	if c.onAcquire != nil {
		c.onAcquire(h)
	}
	return h, nil
}

func (c *Controller) selectAdapter(ctx context.Context) (string, error) {
	names, err := c.platform.Adapters(ctx)
	if err != nil {
		return "", radio.NormalizeError(err)
	}
	if len(names) == 0 {
		return "", radio.ErrAdapterNotFound
	}
	if c.adapter == "" {
		return names[0], nil
	}
	for _, n := range names {
		if n == c.adapter {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %s", radio.ErrAdapterNotFound, c.adapter)
}

// Reset releases the handle, runs the hardware reset and re-acquires.
// Concurrent callers wait for the reset in flight and share its result.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	gen := c.resetGen
	c.mu.Unlock()

	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	c.mu.Lock()
	if c.resetGen != gen {
		err := c.lastResetErr
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	err := c.resetLocked(ctx)

	c.mu.Lock()
	c.resetGen++
	c.lastResetErr = err
	c.mu.Unlock()
	return err
}

func (c *Controller) resetLocked(ctx context.Context) error {
	c.mu.Lock()
	old := c.handle
	c.handle = nil
	c.state = Resetting
	c.mu.Unlock()

	name := c.adapter
	if old != nil {
		name = old.Name()
		if err := c.closeHandle(old); err != nil {
			c.logger.WithError(err).WithField("adapter", name).Warn("Failed to release adapter before reset")
		}
	}

	log := c.logger.WithField("adapter", name)
	log.Warn("Resetting Bluetooth adapter")

	fail := func(err error) error {
		c.mu.Lock()
		c.state = Failed
		c.mu.Unlock()
		log.WithError(err).Error("Bluetooth adapter reset failed")
		return &ResetError{Adapter: name, Cause: err}
	}

	if err := c.resetter.Reset(ctx); err != nil {
		return fail(err)
	}
	if _, err := c.acquireLocked(ctx); err != nil {
		return fail(err)
	}
	return nil
}

// Release closes the handle. The controller can acquire again afterwards.
func (c *Controller) Release(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.state = Unacquired
	c.mu.Unlock()

	if h == nil {
		return nil
	}
	return c.closeHandle(h)
}

func (c *Controller) closeHandle(h radio.Radio) error {
	if c.onRelease != nil {
		c.onRelease(h)
	}
	return h.Close()
}

// withRadio runs fn with the active handle under the gate.
func (c *Controller) withRadio(ctx context.Context, fn func(radio.Radio) error) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	h, err := c.acquireLocked(ctx)
	if err != nil {
		return err
	}
	return fn(h)
}

// State reports the handle lifecycle state.
func (c *Controller) State() HandleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AdapterName is the name of the active handle, or "" when there is none.
func (c *Controller) AdapterName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return ""
	}
	return c.handle.Name()
}
