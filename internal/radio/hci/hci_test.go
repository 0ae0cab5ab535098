package hci_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blemon/internal/radio"
	"github.com/srg/blemon/internal/radio/hci"
	"github.com/srg/blemon/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// fakeDevice overrides the ble.Device methods the driver uses; the embedded
// interface is nil and panics on anything else.
type fakeDevice struct {
	ble.Device
	advs    chan ble.Advertisement
	scanErr error
	stopped atomic.Int32
}

func (d *fakeDevice) Scan(ctx context.Context, _ bool, h ble.AdvHandler) error {
	if d.scanErr != nil {
		return d.scanErr
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case adv := <-d.advs:
			h(adv)
		}
	}
}

func (d *fakeDevice) Stop() error {
	d.stopped.Add(1)
	return nil
}

type fakeAddr string

func (a fakeAddr) String() string { return string(a) }

type fakeAdvertisement struct {
	ble.Advertisement
	addr string
	data []ble.ServiceData
}

func (a *fakeAdvertisement) Addr() ble.Addr                { return fakeAddr(a.addr) }
func (a *fakeAdvertisement) ServiceData() []ble.ServiceData { return a.data }
func (a *fakeAdvertisement) RSSI() int                     { return -55 }

type HCITestSuite struct {
	suite.Suite
	helper          *testutils.TestHelper
	originalFactory func(int) (ble.Device, error)
	dev             *fakeDevice
}

func (suite *HCITestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.originalFactory = hci.DeviceFactory
	suite.dev = &fakeDevice{advs: make(chan ble.Advertisement)}
	hci.DeviceFactory = func(int) (ble.Device, error) { return suite.dev, nil }
}

func (suite *HCITestSuite) TearDownTest() {
	hci.DeviceFactory = suite.originalFactory
}

func (suite *HCITestSuite) open() radio.Radio {
	r, err := hci.NewPlatform(suite.helper.Logger).Open(context.Background(), "hci0")
	suite.Require().NoError(err)
	return r
}

func (suite *HCITestSuite) TestAdapters() {
	dir := suite.T().TempDir()
	for _, name := range []string{"hci1", "hci0", "rfkill0"} {
		suite.Require().NoError(os.Mkdir(filepath.Join(dir, name), 0o755))
	}
	original := hci.SysfsPath
	hci.SysfsPath = dir
	defer func() { hci.SysfsPath = original }()

	names, err := hci.NewPlatform(nil).Adapters(context.Background())

	suite.NoError(err)
	suite.Equal([]string{"hci0", "hci1"}, names)
}

func (suite *HCITestSuite) TestOpenRejectsInvalidName() {
	_, err := hci.NewPlatform(nil).Open(context.Background(), "usb0")
	suite.ErrorIs(err, radio.ErrAdapterNotFound)
}

func (suite *HCITestSuite) TestDiscoveryFeedsDevicesAndWatches() {
	r := suite.open()
	ctx := context.Background()

	suite.Require().NoError(r.SetDiscoveryFilter(ctx, radio.PassiveFilter))
	suite.Require().NoError(r.StartDiscovery(ctx))

	adv := &fakeAdvertisement{
		addr: "aa:bb:cc:dd:ee:ff",
		data: []ble.ServiceData{{UUID: ble.UUID16(0xFCD2), Data: []byte{0x01, 0x02}}},
	}
	suite.dev.advs <- adv

	var id radio.DeviceID
	select {
	case id = <-r.DeviceFound():
	case <-time.After(time.Second):
		suite.FailNow("device MUST be reported on first advertisement")
	}
	suite.Equal(radio.DeviceID("AA:BB:CC:DD:EE:FF"), id)

	addr, err := r.Address(ctx, id)
	suite.NoError(err)
	suite.Equal("AA:BB:CC:DD:EE:FF", addr)

	props, err := r.Properties(ctx, id)
	suite.Require().NoError(err)
	sd, ok := props[radio.PropServiceData].(map[string]any)
	suite.Require().True(ok)
	suite.Equal([]byte{0x01, 0x02}, sd["fcd2"])

	changes := make(chan map[string]any, 1)
	w, err := r.WatchProperties(ctx, id, func(changed map[string]any) { changes <- changed })
	suite.Require().NoError(err)

	suite.dev.advs <- adv
	select {
	case <-changes:
	case <-time.After(time.Second):
		suite.FailNow("watch MUST receive later advertisements")
	}

	suite.NoError(w.Close())
	suite.NoError(r.StopDiscovery(ctx))
	suite.NoError(r.Close())
	suite.EqualValues(1, suite.dev.stopped.Load())

	_, open := <-r.DeviceFound()
	suite.False(open, "device feed MUST be closed after Close")
}

func (suite *HCITestSuite) TestStopDiscoveryReportsScanFailure() {
	suite.dev.scanErr = errors.New("hci: command disallowed")
	r := suite.open()
	ctx := context.Background()

	suite.Require().NoError(r.StartDiscovery(ctx))
	err := r.StopDiscovery(ctx)

	suite.Error(err)
	suite.Contains(err.Error(), "command disallowed")
	suite.NoError(r.Close())
}

func (suite *HCITestSuite) TestStartDiscoveryTwiceFails() {
	r := suite.open()
	ctx := context.Background()

	suite.Require().NoError(r.StartDiscovery(ctx))
	suite.Error(r.StartDiscovery(ctx))
	suite.NoError(r.Close())
}

func TestHCITestSuite(t *testing.T) {
	suite.Run(t, new(HCITestSuite))
}
