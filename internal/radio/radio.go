package radio

import "context"

// DeviceID is the platform identity of a discovered device. It is opaque and
// lives in a different namespace than the MAC address (for BlueZ it is the
// D-Bus object path); use Radio.Address to bridge the two.
type DeviceID string

// Transport selects the discovery transport.
type Transport string

const (
	TransportLE    Transport = "le"
	TransportBREDR Transport = "bredr"
	TransportAuto  Transport = "auto"
)

// DiscoveryFilter configures platform discovery.
type DiscoveryFilter struct {
	Transport Transport
	// DuplicateData keeps reporting advertisements from already seen devices.
	DuplicateData bool
}

// PassiveFilter is the filter used for advertisement ingestion.
var PassiveFilter = DiscoveryFilter{Transport: TransportLE, DuplicateData: true}

// Platform gives access to the adapters of the host BLE stack.
type Platform interface {
	// Adapters lists adapter names (e.g. "hci0"). An empty list is not an error.
	Adapters(ctx context.Context) ([]string, error)
	// Open acquires the named adapter.
	Open(ctx context.Context, name string) (Radio, error)
}

// Radio is an acquired adapter handle.
type Radio interface {
	Name() string

	SetDiscoveryFilter(ctx context.Context, filter DiscoveryFilter) error
	StartDiscovery(ctx context.Context) error
	StopDiscovery(ctx context.Context) error

	// DeviceFound reports devices seen by the adapter. The channel is closed by Close.
	DeviceFound() <-chan DeviceID

	Address(ctx context.Context, id DeviceID) (string, error)
	// Properties returns the current device properties as plain Go values.
	// Service data is reported under the "ServiceData" key as map[string]any
	// with []byte values.
	Properties(ctx context.Context, id DeviceID) (map[string]any, error)
	// WatchProperties calls fn with the changed properties of the device
	// until the returned Watch is closed.
	WatchProperties(ctx context.Context, id DeviceID, fn func(changed map[string]any)) (Watch, error)

	Close() error
}

// Watch is a platform property-watch resource.
type Watch interface {
	Close() error
}

// WatchFunc adapts a function to the Watch interface.
type WatchFunc func() error

func (f WatchFunc) Close() error { return f() }

// Property keys shared by the platform drivers.
const (
	PropAddress     = "Address"
	PropServiceData = "ServiceData"
	PropRSSI        = "RSSI"
)
