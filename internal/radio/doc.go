// Package radio describes the platform BLE capability consumed by the
// ingestion engine.
//
// A Platform enumerates adapters and opens them; the resulting Radio is the
// adapter handle. It exposes:
//   - Discovery control (filter, start, stop)
//   - A device-found feed keyed by the platform device identity
//   - Address lookup, bridging platform identities to MAC addresses
//   - Per-device property watches
//
// Implementations live in the bluez (D-Bus) and hci (raw HCI) subpackages.
package radio
