package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemon/internal/groutine"
	"github.com/srg/blemon/internal/radio"
)

// StaleWatchPolicy decides what happens to device watches after a reset.
type StaleWatchPolicy string

// Watches always end with the handle that created them; the policy only
// decides which devices the replacement handle watches.
const (
	// KeepWatches watches every previously watched device again as soon as
	// the replacement handle is acquired.
	KeepWatches StaleWatchPolicy = "keep"
	// InvalidateWatches forgets previously watched devices; they are watched
	// again only when the new handle reports them.
	InvalidateWatches StaleWatchPolicy = "invalidate"
)

// Options configure an Engine. Use DefaultOptions as the starting point.
type Options struct {
	// Adapter names the adapter to use; empty selects the first one.
	Adapter string

	DiscoveryWindow time.Duration `default:"30s"`
	Cooldown        time.Duration `default:"500ms"`
	// StopTimeout bounds the final StopDiscovery issued on shutdown.
	StopTimeout time.Duration `default:"5s"`

	RetryBudget    int  `default:"3"`
	ResetOnSuccess bool `default:"false"`
	ResetOnStart   bool `default:"true"`

	StaleWatches StaleWatchPolicy `default:"keep"`

	// AllowList restricts ingestion to these addresses; empty allows all.
	AllowList []string
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

// Engine ingests advertisements from one adapter.
type Engine struct {
	opts     Options
	logger   *logrus.Logger
	ctrl     *Controller
	registry *Registry
	dispatch *Dispatcher
	allow    map[string]struct{}

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	pumps   groutine.Group
	// rewatch holds the devices to watch again on the next handle.
	rewatch []radio.DeviceID

	readyOnce sync.Once
	ready     chan struct{}
}

// New creates an engine. Durations that are not positive fall back to
// their defaults.
func New(platform radio.Platform, resetter Resetter, opts Options, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	def := DefaultOptions()
	if opts.DiscoveryWindow <= 0 {
		opts.DiscoveryWindow = def.DiscoveryWindow
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = def.Cooldown
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = def.StopTimeout
	}
	if opts.RetryBudget < 0 {
		opts.RetryBudget = 0
	}
	if opts.StaleWatches == "" {
		opts.StaleWatches = KeepWatches
	}

	e := &Engine{
		opts:     opts,
		logger:   logger,
		registry: NewRegistry(logger),
		dispatch: NewDispatcher(logger),
		ready:    make(chan struct{}),
	}
	if len(opts.AllowList) > 0 {
		e.allow = make(map[string]struct{}, len(opts.AllowList))
		for _, a := range opts.AllowList {
			e.allow[strings.ToUpper(a)] = struct{}{}
		}
	}
	e.ctrl = NewController(platform, resetter, opts.Adapter, logger)
	e.ctrl.onAcquire = e.attach
	e.ctrl.onRelease = e.detach
	return e
}

// Run acquires the adapter and ingests until ctx is done or the retry
// budget is exhausted. Cancellation is a clean stop and returns nil.
// Before returning, discovery is stopped, every device watch released and
// the adapter handle closed, in that order.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.runCtx = ctx
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.runCtx = nil
		e.rewatch = nil
		e.mu.Unlock()
	}()

	if _, err := e.ctrl.Acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer e.shutdown(cancel)

	if e.opts.ResetOnStart {
		// A failure is logged by the controller and left to the retry policy.
		_ = e.ctrl.Reset(ctx)
	}

	s := &session{
		ctrl:    e.ctrl,
		opts:    e.opts,
		logger:  e.logger,
		onReady: e.markReady,
	}
	return s.run(ctx)
}

func (e *Engine) shutdown(cancel context.CancelFunc) {
	cancel()
	e.pumps.Wait()

	if err := e.registry.ReleaseAll(); err != nil {
		e.logger.WithError(err).Warn("Some device watches failed to release")
	}
	if err := e.ctrl.Release(context.Background()); err != nil {
		e.logger.WithError(err).Warn("Failed to release Bluetooth adapter")
	}
	e.logger.Info("Ingestion stopped")
}

// Ready is closed once discovery first starts.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// WaitReady blocks until the engine is ready or ctx is done.
func (e *Engine) WaitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers cb for advertisements of the given addresses; none
// means every allowed device.
func (e *Engine) Subscribe(cb Callback, addresses ...string) *Subscription {
	return e.dispatch.Subscribe(cb, addresses...)
}

// State reports the adapter handle state.
func (e *Engine) State() HandleState { return e.ctrl.State() }

// Watching is the number of devices with an active property watch.
func (e *Engine) Watching() int { return e.registry.Len() }

func (e *Engine) markReady() {
	e.readyOnce.Do(func() {
		e.logger.Info("Advertisement ingestion is ready")
		close(e.ready)
	})
}

// detach releases the watches of a handle that is about to be closed. It
// runs under the controller gate.
func (e *Engine) detach(r radio.Radio) {
	ids, err := e.registry.Detach()
	if err != nil {
		e.logger.WithError(err).WithField("adapter", r.Name()).Debug("Some device watches failed to release with their adapter")
	}
	if e.opts.StaleWatches != KeepWatches || len(ids) == 0 {
		return
	}
	e.mu.Lock()
	e.rewatch = append(e.rewatch, ids...)
	e.mu.Unlock()
}

// attach starts the device pump of a newly acquired handle. It runs under
// the controller gate.
func (e *Engine) attach(r radio.Radio) {
	e.mu.Lock()
	ctx := e.runCtx
	known := e.rewatch
	e.rewatch = nil
	e.mu.Unlock()
	if ctx == nil {
		return
	}
	e.pumps.Go(ctx, "ingest-pump-"+r.Name(), func(ctx context.Context) {
		e.pump(ctx, r, known)
	})
}

// pump watches the known devices again, then handles device-found events
// until the handle is closed or ctx is done.
func (e *Engine) pump(ctx context.Context, r radio.Radio, known []radio.DeviceID) {
	if len(known) > 0 {
		e.logger.WithFields(logrus.Fields{
			"goroutine": groutine.Name(ctx),
			"total":     len(known),
		}).Info("Watching known devices on new adapter handle")
	}
	for _, id := range known {
		if ctx.Err() != nil {
			return
		}
		e.deviceFound(ctx, r, id)
	}

	found := r.DeviceFound()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-found:
			if !ok {
				return
			}
			e.deviceFound(ctx, r, id)
		}
	}
}

func (e *Engine) deviceFound(ctx context.Context, r radio.Radio, id radio.DeviceID) {
	log := e.logger.WithField("device", id)

	addr, err := r.Address(ctx, id)
	if err != nil {
		log.WithError(err).Debug("Device address unavailable")
		return
	}
	if !e.allowed(addr) {
		return
	}

	e.registry.EnsureWatching(ctx, r, id, func(ctx context.Context) (radio.Watch, error) {
		return r.WatchProperties(ctx, id, func(changed map[string]any) {
			e.ingest(ctx, addr, changed)
		})
	})

	props, err := r.Properties(ctx, id)
	if err != nil {
		log.WithError(err).Debug("Device properties unavailable")
		return
	}
	e.ingest(ctx, addr, props)
}

func (e *Engine) allowed(addr string) bool {
	if len(e.allow) == 0 {
		return true
	}
	_, ok := e.allow[strings.ToUpper(addr)]
	return ok
}

func (e *Engine) ingest(ctx context.Context, addr string, props map[string]any) {
	advs := Decode(props, addr)
	if len(advs) == 0 {
		e.logger.WithField("address", addr).Debug("No service data in properties")
		return
	}
	for _, adv := range advs {
		e.logger.WithFields(logrus.Fields{
			"address": addr,
			"service": adv.ServiceID(),
			"payload": adv.Hex(),
		}).Debug("Advertisement received")
		e.dispatch.Publish(ctx, adv)
	}
}
