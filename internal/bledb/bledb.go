// Package bledb names the service data UUIDs commonly seen in sensor
// advertisements.
package bledb

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// base is the Bluetooth SIG base UUID 00000000-0000-1000-8000-00805f9b34fb.
var base = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// services holds 16-bit SIG assigned numbers and member UUIDs.
var services = map[uint32]string{
	0x1809: "Health Thermometer",
	0x180A: "Device Information",
	0x180F: "Battery Service",
	0x181A: "Environmental Sensing",
	0x181B: "Body Composition",
	0x181D: "Weight Scale",
	0xFCD2: "Allterco Robotics ltd (BTHome)",
	0xFD3D: "Woan Technology (Shenzhen) Co., Ltd.",
	0xFE95: "Xiaomi Inc.",
	0xFEAA: "Google LLC (Eddystone)",
}

// ShortForm returns the 16 or 32-bit alias of a SIG-based UUID, or the
// full UUID as plain hex.
func ShortForm(u uuid.UUID) string {
	v, ok := alias(u)
	if !ok {
		return hex.EncodeToString(u[:])
	}
	if v <= 0xFFFF {
		return fmt.Sprintf("%04x", v)
	}
	return fmt.Sprintf("%08x", v)
}

// LookupService reports the registered name of a service UUID.
func LookupService(u uuid.UUID) (string, bool) {
	v, ok := alias(u)
	if !ok {
		return "", false
	}
	name, ok := services[v]
	return name, ok
}

func alias(u uuid.UUID) (uint32, bool) {
	if !bytes.Equal(u[4:], base[4:]) {
		return 0, false
	}
	return uint32(u[0])<<24 | uint32(u[1])<<16 | uint32(u[2])<<8 | uint32(u[3]), true
}
