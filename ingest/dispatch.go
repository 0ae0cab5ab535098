package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Callback consumes one advertisement.
type Callback func(ctx context.Context, adv Advertisement) error

type registration struct {
	cb     Callback
	filter map[string]struct{}
}

func (r *registration) accepts(address string) bool {
	if len(r.filter) == 0 {
		return true
	}
	_, ok := r.filter[strings.ToUpper(address)]
	return ok
}

// Dispatcher fans advertisements out to registered consumers.
type Dispatcher struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	regs   map[uint64]*registration
	nextID atomic.Uint64
}

func NewDispatcher(logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		logger: logger,
		regs:   make(map[uint64]*registration),
	}
}

// Subscription is the handle of one registration.
type Subscription struct {
	once  sync.Once
	token uint64
	d     *Dispatcher
}

// Unsubscribe removes the registration. Repeated calls do nothing.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.d.mu.Lock()
		delete(s.d.regs, s.token)
		s.d.mu.Unlock()
	})
}

// Subscribe registers cb for advertisements from the given addresses,
// compared case-insensitively. No address means every device.
func (d *Dispatcher) Subscribe(cb Callback, addresses ...string) *Subscription {
	reg := &registration{cb: cb}
	if len(addresses) > 0 {
		reg.filter = make(map[string]struct{}, len(addresses))
		for _, a := range addresses {
			reg.filter[strings.ToUpper(a)] = struct{}{}
		}
	}

	token := d.nextID.Add(1)
	d.mu.Lock()
	d.regs[token] = reg
	d.mu.Unlock()

	return &Subscription{token: token, d: d}
}

// Len is the number of live registrations.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regs)
}

// Publish delivers adv to every matching registration. A failing callback
// is logged and does not affect the others. Delivery stops once ctx is done.
func (d *Dispatcher) Publish(ctx context.Context, adv Advertisement) {
	d.mu.RLock()
	targets := make([]*registration, 0, len(d.regs))
	for _, r := range d.regs {
		if r.accepts(adv.DeviceAddress()) {
			targets = append(targets, r)
		}
	}
	d.mu.RUnlock()

	for _, r := range targets {
		if ctx.Err() != nil {
			return
		}
		if err := d.deliver(ctx, r, adv); err != nil {
			d.logger.WithFields(logrus.Fields{
				"address": adv.DeviceAddress(),
				"service": adv.ServiceID(),
				"error":   fmt.Errorf("%w: %w", ErrConsumerCallbackFailed, err),
			}).Error("Advertisement consumer failed")
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, r *registration, adv Advertisement) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.cb(ctx, adv)
}
