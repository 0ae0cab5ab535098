//go:build !linux

package hci

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/blemon/internal/radio"
)

func newDevice(int) (ble.Device, error) {
	return nil, fmt.Errorf("hci backend: %w on this platform", radio.ErrUnsupported)
}
