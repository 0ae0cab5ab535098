// Package hci implements radio.Platform on raw HCI sockets through go-ble.
// It needs CAP_NET_ADMIN and an adapter that is not claimed by bluetoothd.
package hci

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemon/internal/radio"
)

// DeviceFactory opens the HCI device with the given index. Overridable in tests.
var DeviceFactory = func(id int) (ble.Device, error) {
	return newDevice(id)
}

// SysfsPath is where the kernel lists HCI adapters.
var SysfsPath = "/sys/class/bluetooth"

// Platform opens HCI adapters.
type Platform struct {
	logger *logrus.Logger
}

// NewPlatform creates an HCI platform.
func NewPlatform(logger *logrus.Logger) *Platform {
	if logger == nil {
		logger = logrus.New()
	}
	return &Platform{logger: logger}
}

// Adapters lists hciN entries from sysfs.
func (p *Platform) Adapters(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(SysfsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list adapters: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if _, err := adapterIndex(name); err == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Open acquires the named adapter (hci0, hci1, ...).
func (p *Platform) Open(_ context.Context, name string) (radio.Radio, error) {
	id, err := adapterIndex(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", radio.ErrAdapterNotFound, err)
	}
	dev, err := DeviceFactory(id)
	if err != nil {
		return nil, radio.NormalizeError(fmt.Errorf("open %s: %w", name, err))
	}
	return newRadio(name, dev, p.logger), nil
}

func adapterIndex(name string) (int, error) {
	rest, ok := strings.CutPrefix(name, "hci")
	if !ok || rest == "" || strings.Contains(rest, ":") {
		return 0, fmt.Errorf("invalid adapter name %q", name)
	}
	return strconv.Atoi(rest)
}
