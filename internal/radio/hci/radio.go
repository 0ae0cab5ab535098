package hci

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemon/internal/radio"
)

// Radio is a radio.Radio over a go-ble device. HCI has no separate device
// namespace, so the device identity is the upper-case MAC address.
type Radio struct {
	name   string
	dev    ble.Device
	logger *logrus.Logger

	mu       sync.Mutex // guards the scan state
	filter   radio.DiscoveryFilter
	cancel   context.CancelFunc
	scanDone chan error

	feedMu sync.RWMutex // guards found against close
	found  chan radio.DeviceID
	closed bool

	props *hashmap.Map[string, map[string]any]
	seen  *hashmap.Map[string, struct{}]

	watchMu   sync.Mutex
	watchers  map[string]map[uint64]func(map[string]any)
	nextToken uint64

	closeOnce sync.Once
	closeErr  error
}

var _ radio.Radio = (*Radio)(nil)

func newRadio(name string, dev ble.Device, logger *logrus.Logger) *Radio {
	return &Radio{
		name:     name,
		dev:      dev,
		logger:   logger,
		filter:   radio.PassiveFilter,
		found:    make(chan radio.DeviceID, 64),
		props:    hashmap.New[string, map[string]any](),
		seen:     hashmap.New[string, struct{}](),
		watchers: make(map[string]map[uint64]func(map[string]any)),
	}
}

func (r *Radio) Name() string { return r.name }

// SetDiscoveryFilter records the filter for the next StartDiscovery. HCI
// scanning is LE only; only DuplicateData has an effect.
func (r *Radio) SetDiscoveryFilter(_ context.Context, filter radio.DiscoveryFilter) error {
	if filter.Transport == radio.TransportBREDR {
		return fmt.Errorf("hci: transport %q: %w", filter.Transport, radio.ErrUnsupported)
	}
	r.mu.Lock()
	r.filter = filter
	r.mu.Unlock()
	return nil
}

// StartDiscovery runs the go-ble scan in the background until StopDiscovery.
func (r *Radio) StartDiscovery(_ context.Context) error {
	if r.isClosed() {
		return radio.ErrClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return errors.New("hci: discovery already in progress")
	}

	scanCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	allowDup := r.filter.DuplicateData
	go func() {
		done <- r.dev.Scan(scanCtx, allowDup, r.handleAdvertisement)
	}()

	r.cancel = cancel
	r.scanDone = done
	return nil
}

// StopDiscovery cancels the running scan and reports how it ended.
func (r *Radio) StopDiscovery(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}
	r.cancel()
	done := r.scanDone
	r.cancel, r.scanDone = nil, nil

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return radio.NormalizeError(fmt.Errorf("hci scan: %w", err))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Radio) DeviceFound() <-chan radio.DeviceID {
	return r.found
}

func (r *Radio) Address(_ context.Context, id radio.DeviceID) (string, error) {
	return string(id), nil
}

func (r *Radio) Properties(_ context.Context, id radio.DeviceID) (map[string]any, error) {
	props, ok := r.props.Get(string(id))
	if !ok {
		return nil, fmt.Errorf("hci: unknown device %s", id)
	}
	return props, nil
}

// WatchProperties calls fn with the properties of every later advertisement
// from the device.
func (r *Radio) WatchProperties(_ context.Context, id radio.DeviceID, fn func(map[string]any)) (radio.Watch, error) {
	if r.isClosed() {
		return nil, radio.ErrClosed
	}
	addr := string(id)

	r.watchMu.Lock()
	if r.watchers[addr] == nil {
		r.watchers[addr] = make(map[uint64]func(map[string]any))
	}
	r.nextToken++
	token := r.nextToken
	r.watchers[addr][token] = fn
	r.watchMu.Unlock()

	return radio.WatchFunc(func() error {
		r.watchMu.Lock()
		defer r.watchMu.Unlock()
		if set, ok := r.watchers[addr]; ok {
			delete(set, token)
			if len(set) == 0 {
				delete(r.watchers, addr)
			}
		}
		return nil
	}), nil
}

// Close stops any scan and releases the HCI device.
func (r *Radio) Close() error {
	r.closeOnce.Do(func() {
		stopErr := r.StopDiscovery(context.Background())

		r.feedMu.Lock()
		r.closed = true
		close(r.found)
		r.feedMu.Unlock()

		r.closeErr = errors.Join(stopErr, r.dev.Stop())
	})
	return r.closeErr
}

func (r *Radio) isClosed() bool {
	r.feedMu.RLock()
	defer r.feedMu.RUnlock()
	return r.closed
}

func (r *Radio) handleAdvertisement(adv ble.Advertisement) {
	addr := strings.ToUpper(adv.Addr().String())

	serviceData := make(map[string]any, len(adv.ServiceData()))
	for _, sd := range adv.ServiceData() {
		serviceData[sd.UUID.String()] = append([]byte(nil), sd.Data...)
	}
	props := map[string]any{
		radio.PropAddress:     addr,
		radio.PropRSSI:        adv.RSSI(),
		radio.PropServiceData: serviceData,
	}
	r.props.Set(addr, props)

	if _, loaded := r.seen.GetOrInsert(addr, struct{}{}); !loaded {
		if !r.announce(radio.DeviceID(addr)) {
			// Feed is full; retry on the next advertisement.
			r.seen.Del(addr)
		}
		return
	}

	r.watchMu.Lock()
	fns := make([]func(map[string]any), 0, len(r.watchers[addr]))
	for _, fn := range r.watchers[addr] {
		fns = append(fns, fn)
	}
	r.watchMu.Unlock()

	for _, fn := range fns {
		fn(props)
	}
}

func (r *Radio) announce(id radio.DeviceID) bool {
	r.feedMu.RLock()
	defer r.feedMu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.found <- id:
		return true
	default:
		r.logger.WithField("device", id).Warn("Device feed full, dropping discovery event")
		return false
	}
}
