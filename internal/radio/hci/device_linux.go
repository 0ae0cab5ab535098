//go:build linux

package hci

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
)

// Passive scanning: the adapter never sends scan requests.
var scanParams = cmd.LESetScanParameters{
	LEScanType:           0x00,   // passive
	LEScanInterval:       0x0010, // 10ms
	LEScanWindow:         0x0010, // 10ms
	OwnAddressType:       0x00,   // public
	ScanningFilterPolicy: 0x00,   // accept all
}

func newDevice(id int) (ble.Device, error) {
	dev, err := linux.NewDevice(ble.OptDeviceID(id), ble.OptScanParams(scanParams))
	if err != nil {
		return nil, err
	}
	return dev, nil
}
