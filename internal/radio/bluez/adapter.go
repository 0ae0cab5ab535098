package bluez

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemon/internal/radio"
)

// Adapter is a radio.Radio backed by a BlueZ adapter object (e.g. /org/bluez/hci0).
type Adapter struct {
	conn   *dbus.Conn
	name   string
	path   dbus.ObjectPath
	logger *logrus.Logger

	signals chan *dbus.Signal
	found   chan radio.DeviceID
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	watchers  map[dbus.ObjectPath]map[uint64]func(map[string]any)
	nextToken uint64
	closeOnce sync.Once
	closeErr  error
}

var _ radio.Radio = (*Adapter)(nil)

func newAdapter(conn *dbus.Conn, name string, logger *logrus.Logger) (*Adapter, error) {
	a := &Adapter{
		conn:     conn,
		name:     name,
		path:     AdapterPath(name),
		logger:   logger,
		signals:  make(chan *dbus.Signal, 64),
		found:    make(chan radio.DeviceID, 64),
		done:     make(chan struct{}),
		watchers: make(map[dbus.ObjectPath]map[uint64]func(map[string]any)),
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchSender(bluezDest),
		dbus.WithMatchInterface(objectManager),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		return nil, fmt.Errorf("AddMatch InterfacesAdded: %w", err)
	}
	conn.Signal(a.signals)

	a.wg.Add(1)
	go a.route()

	return a, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) object() dbus.BusObject {
	return a.conn.Object(bluezDest, a.path)
}

// SetDiscoveryFilter sets the BlueZ discovery filter.
func (a *Adapter) SetDiscoveryFilter(ctx context.Context, filter radio.DiscoveryFilter) error {
	if a.closed() {
		return radio.ErrClosed
	}
	args := map[string]dbus.Variant{
		"DuplicateData": dbus.MakeVariant(filter.DuplicateData),
	}
	if filter.Transport != "" {
		args["Transport"] = dbus.MakeVariant(string(filter.Transport))
	}
	err := a.object().CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, args).Err
	if err != nil {
		return radio.NormalizeError(fmt.Errorf("SetDiscoveryFilter: %w", err))
	}
	return nil
}

// StartDiscovery starts discovery on the adapter.
func (a *Adapter) StartDiscovery(ctx context.Context) error {
	if a.closed() {
		return radio.ErrClosed
	}
	if err := a.object().CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
		return radio.NormalizeError(fmt.Errorf("StartDiscovery: %w", err))
	}
	return nil
}

// StopDiscovery stops discovery on the adapter.
func (a *Adapter) StopDiscovery(ctx context.Context) error {
	if a.closed() {
		return radio.ErrClosed
	}
	if err := a.object().CallWithContext(ctx, adapterIface+".StopDiscovery", 0).Err; err != nil {
		return radio.NormalizeError(fmt.Errorf("StopDiscovery: %w", err))
	}
	return nil
}

func (a *Adapter) DeviceFound() <-chan radio.DeviceID {
	return a.found
}

// Address reads the Device1.Address property.
func (a *Adapter) Address(ctx context.Context, id radio.DeviceID) (string, error) {
	var v dbus.Variant
	err := a.conn.Object(bluezDest, dbus.ObjectPath(id)).
		CallWithContext(ctx, propertiesIface+".Get", 0, deviceIface, radio.PropAddress).
		Store(&v)
	if err != nil {
		return "", fmt.Errorf("get address of %s: %w", id, err)
	}
	addr, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("get address of %s: unexpected type %T", id, v.Value())
	}
	return addr, nil
}

// Properties reads all Device1 properties.
func (a *Adapter) Properties(ctx context.Context, id radio.DeviceID) (map[string]any, error) {
	var props map[string]dbus.Variant
	err := a.conn.Object(bluezDest, dbus.ObjectPath(id)).
		CallWithContext(ctx, propertiesIface+".GetAll", 0, deviceIface).
		Store(&props)
	if err != nil {
		return nil, fmt.Errorf("get properties of %s: %w", id, err)
	}
	return plainMap(props), nil
}

// WatchProperties subscribes to PropertiesChanged on the device path.
func (a *Adapter) WatchProperties(_ context.Context, id radio.DeviceID, fn func(map[string]any)) (radio.Watch, error) {
	if a.closed() {
		return nil, radio.ErrClosed
	}
	path := dbus.ObjectPath(id)

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.watchers[path]) == 0 {
		if err := a.conn.AddMatchSignal(watchMatch(path)...); err != nil {
			return nil, fmt.Errorf("AddMatch PropertiesChanged %s: %w", path, err)
		}
		a.watchers[path] = make(map[uint64]func(map[string]any))
	}
	a.nextToken++
	token := a.nextToken
	a.watchers[path][token] = fn

	var once sync.Once
	return radio.WatchFunc(func() error {
		var err error
		once.Do(func() { err = a.unwatch(path, token) })
		return err
	}), nil
}

func (a *Adapter) unwatch(path dbus.ObjectPath, token uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	set, ok := a.watchers[path]
	if !ok {
		return nil
	}
	delete(set, token)
	if len(set) > 0 {
		return nil
	}
	delete(a.watchers, path)
	if a.closed() {
		return nil
	}
	if err := a.conn.RemoveMatchSignal(watchMatch(path)...); err != nil {
		return fmt.Errorf("RemoveMatch PropertiesChanged %s: %w", path, err)
	}
	return nil
}

func watchMatch(path dbus.ObjectPath) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	}
}

// Close stops signal routing, closes the device-found feed and the bus connection.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.conn.RemoveSignal(a.signals)
		close(a.signals)
		a.wg.Wait()
		close(a.found)

		a.mu.Lock()
		a.watchers = make(map[dbus.ObjectPath]map[uint64]func(map[string]any))
		a.mu.Unlock()

		a.closeErr = a.conn.Close()
	})
	return a.closeErr
}

func (a *Adapter) closed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

func (a *Adapter) announce(ids []radio.DeviceID) {
	if len(ids) == 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for _, id := range ids {
			if !a.emit(id) {
				return
			}
		}
	}()
}

func (a *Adapter) emit(id radio.DeviceID) bool {
	select {
	case a.found <- id:
		return true
	case <-a.done:
		return false
	}
}

func (a *Adapter) route() {
	defer a.wg.Done()

	for sig := range a.signals {
		switch sig.Name {
		case signalInterfacesAdded:
			a.onInterfacesAdded(sig)
		case signalPropertiesChanged:
			a.onPropertiesChanged(sig)
		}
	}
}

func (a *Adapter) onInterfacesAdded(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok || !isChildOf(path, a.path) {
		return
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}
	if _, ok := ifaces[deviceIface]; !ok {
		return
	}
	a.emit(radio.DeviceID(path))
}

func (a *Adapter) onPropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != deviceIface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	a.mu.Lock()
	fns := make([]func(map[string]any), 0, len(a.watchers[sig.Path]))
	for _, fn := range a.watchers[sig.Path] {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	if len(fns) == 0 {
		return
	}
	props := plainMap(changed)
	a.logger.WithFields(logrus.Fields{
		"device": sig.Path,
		"props":  len(props),
	}).Trace("Device properties changed")
	for _, fn := range fns {
		fn(props)
	}
}
