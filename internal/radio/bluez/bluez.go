// Package bluez implements radio.Platform over the BlueZ D-Bus API (Linux).
package bluez

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemon/internal/radio"
)

const (
	bluezDest     = "org.bluez"
	bluezRoot     = dbus.ObjectPath("/")
	adapterPrefix = "/org/bluez/"

	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	propertiesIface = "org.freedesktop.DBus.Properties"
	objectManager   = "org.freedesktop.DBus.ObjectManager"

	signalInterfacesAdded   = objectManager + ".InterfacesAdded"
	signalPropertiesChanged = propertiesIface + ".PropertiesChanged"
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Platform opens BlueZ adapters on the system bus. Every opened Radio owns a
// private bus connection that is closed with it.
type Platform struct {
	logger *logrus.Logger
}

// NewPlatform creates a BlueZ platform.
func NewPlatform(logger *logrus.Logger) *Platform {
	if logger == nil {
		logger = logrus.New()
	}
	return &Platform{logger: logger}
}

// Connect opens a private system bus connection. Overridable in tests.
var Connect = func() (*dbus.Conn, error) {
	return dbus.ConnectSystemBus()
}

// Adapters lists BlueZ adapter names, sorted.
func (p *Platform) Adapters(ctx context.Context) ([]string, error) {
	conn, err := Connect()
	if err != nil {
		return nil, fmt.Errorf("dbus: %w", err)
	}
	defer conn.Close()

	objects, err := getManagedObjects(ctx, conn)
	if err != nil {
		return nil, err
	}
	return adapterNames(objects), nil
}

// Open acquires the named adapter.
func (p *Platform) Open(ctx context.Context, name string) (radio.Radio, error) {
	conn, err := Connect()
	if err != nil {
		return nil, fmt.Errorf("dbus: %w", err)
	}

	objects, err := getManagedObjects(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	path := AdapterPath(name)
	ifaces, ok := objects[path]
	if _, isAdapter := ifaces[adapterIface]; !ok || !isAdapter {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", radio.ErrAdapterNotFound, name)
	}

	a, err := newAdapter(conn, name, p.logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	a.announce(knownDevices(objects, path))

	return a, nil
}

func getManagedObjects(ctx context.Context, conn *dbus.Conn) (managedObjects, error) {
	var out managedObjects
	err := conn.Object(bluezDest, bluezRoot).
		CallWithContext(ctx, objectManager+".GetManagedObjects", 0).
		Store(&out)
	if err != nil {
		return nil, radio.NormalizeError(fmt.Errorf("GetManagedObjects: %w", err))
	}
	return out, nil
}

func adapterNames(objects managedObjects) []string {
	var names []string
	for path, ifaces := range objects {
		if _, ok := ifaces[adapterIface]; !ok {
			continue
		}
		p := string(path)
		if strings.HasPrefix(p, adapterPrefix) && strings.Count(p, "/") == 3 {
			names = append(names, p[len(adapterPrefix):])
		}
	}
	sort.Strings(names)
	return names
}

func knownDevices(objects managedObjects, adapter dbus.ObjectPath) []radio.DeviceID {
	var ids []radio.DeviceID
	for path, ifaces := range objects {
		if _, ok := ifaces[deviceIface]; !ok {
			continue
		}
		if isChildOf(path, adapter) {
			ids = append(ids, radio.DeviceID(path))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AdapterPath returns the object path of a named adapter (hci0 -> /org/bluez/hci0).
func AdapterPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath(adapterPrefix + name)
}

// AddrFromPath extracts the MAC from a device path
// (/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF -> AA:BB:CC:DD:EE:FF).
func AddrFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return ""
	}
	s = s[i+1:]
	if !strings.HasPrefix(s, "dev_") {
		return ""
	}
	return strings.ReplaceAll(s[4:], "_", ":")
}

func isChildOf(path, parent dbus.ObjectPath) bool {
	rest, ok := strings.CutPrefix(string(path), string(parent)+"/")
	return ok && rest != "" && !strings.Contains(rest, "/")
}
