package ingest_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/srg/blemon/ingest"
	"github.com/srg/blemon/internal/radio"
	"github.com/srg/blemon/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type countingWatch struct {
	closes atomic.Int32
	err    error
}

func (w *countingWatch) Close() error {
	w.closes.Add(1)
	return w.err
}

type RegistryTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	reg    *ingest.Registry
}

func (suite *RegistryTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.reg = ingest.NewRegistry(suite.helper.Logger)
}

func (suite *RegistryTestSuite) TestSequentialEnsureWatchesOnce() {
	var established atomic.Int32
	establish := func(context.Context) (radio.Watch, error) {
		established.Add(1)
		return &countingWatch{}, nil
	}

	ctx := context.Background()
	suite.True(suite.reg.EnsureWatching(ctx, nil, "/org/bluez/hci0/dev_A", establish))
	suite.False(suite.reg.EnsureWatching(ctx, nil, "/org/bluez/hci0/dev_A", establish))
	suite.True(suite.reg.EnsureWatching(ctx, nil, "/org/bluez/hci0/dev_B", establish))

	suite.EqualValues(2, established.Load())
	suite.Equal(2, suite.reg.Len())
	suite.True(suite.reg.Watching("/org/bluez/hci0/dev_A"))
}

func (suite *RegistryTestSuite) TestConcurrentEnsureWatchesOnce() {
	var established atomic.Int32
	w := &countingWatch{}
	establish := func(context.Context) (radio.Watch, error) {
		established.Add(1)
		return w, nil
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			suite.reg.EnsureWatching(context.Background(), nil, "/org/bluez/hci0/dev_A", establish)
		}()
	}
	close(start)
	wg.Wait()

	suite.EqualValues(1, established.Load(), "MUST establish exactly one watch")
	suite.Equal(1, suite.reg.Len())

	suite.NoError(suite.reg.ReleaseAll())
	suite.EqualValues(1, w.closes.Load())
}

func (suite *RegistryTestSuite) TestFailedEstablishIsRetried() {
	ctx := context.Background()
	failed := suite.reg.EnsureWatching(ctx, nil, "dev", func(context.Context) (radio.Watch, error) {
		return nil, errors.New("org.bluez.Error.Failed")
	})
	suite.True(failed)
	suite.False(suite.reg.Watching("dev"), "MUST drop the slot of a failed watch")

	suite.True(suite.reg.EnsureWatching(ctx, nil, "dev", func(context.Context) (radio.Watch, error) {
		return &countingWatch{}, nil
	}))
	suite.True(suite.reg.Watching("dev"))
}

func (suite *RegistryTestSuite) TestReleaseAllReleasesEachOnce() {
	ctx := context.Background()
	watches := map[radio.DeviceID]*countingWatch{
		"a": {},
		"b": {err: errors.New("match rule not found")},
		"c": {},
	}
	for id, w := range watches {
		suite.reg.EnsureWatching(ctx, nil, id, func(context.Context) (radio.Watch, error) { return w, nil })
	}

	err := suite.reg.ReleaseAll()
	suite.Error(err)
	suite.Contains(err.Error(), "match rule not found")
	suite.Zero(suite.reg.Len())

	suite.NoError(suite.reg.ReleaseAll(), "second ReleaseAll MUST find nothing")
	for id, w := range watches {
		suite.EqualValues(1, w.closes.Load(), "watch %s MUST be released exactly once", id)
	}
}

func (suite *RegistryTestSuite) TestReleaseDuringEstablishClosesLateWatch() {
	entered := make(chan struct{})
	proceed := make(chan struct{})
	w := &countingWatch{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		suite.reg.EnsureWatching(context.Background(), nil, "dev", func(context.Context) (radio.Watch, error) {
			close(entered)
			<-proceed
			return w, nil
		})
	}()

	<-entered
	suite.NoError(suite.reg.ReleaseAll())
	close(proceed)
	<-done

	suite.EqualValues(1, w.closes.Load(), "watch established after release MUST be closed")
	suite.False(suite.reg.Watching("dev"))
}

func (suite *RegistryTestSuite) openRadios(n int) []radio.Radio {
	platform := testutils.NewFakePlatform("hci0")
	radios := make([]radio.Radio, n)
	for i := range radios {
		r, err := platform.Open(context.Background(), "hci0")
		suite.Require().NoError(err)
		radios[i] = r
	}
	return radios
}

func (suite *RegistryTestSuite) TestWatchOfReplacedHandleIsReplaced() {
	radios := suite.openRadios(2)
	ctx := context.Background()

	old := &countingWatch{}
	suite.True(suite.reg.EnsureWatching(ctx, radios[0], "dev", func(context.Context) (radio.Watch, error) {
		return old, nil
	}))
	suite.False(suite.reg.EnsureWatching(ctx, radios[0], "dev", func(context.Context) (radio.Watch, error) {
		suite.Fail("same handle MUST not watch twice")
		return nil, nil
	}))

	fresh := &countingWatch{}
	suite.True(suite.reg.EnsureWatching(ctx, radios[1], "dev", func(context.Context) (radio.Watch, error) {
		return fresh, nil
	}), "a new handle MUST establish its own watch")

	suite.EqualValues(1, old.closes.Load(), "watch of the replaced handle MUST be released")
	suite.Equal(1, suite.reg.Len())

	suite.NoError(suite.reg.ReleaseAll())
	suite.EqualValues(1, fresh.closes.Load())
	suite.EqualValues(1, old.closes.Load())
}

func (suite *RegistryTestSuite) TestDetachReturnsWatchedDevices() {
	ctx := context.Background()
	watches := []*countingWatch{{}, {}}
	for i, id := range []radio.DeviceID{"a", "b"} {
		w := watches[i]
		suite.reg.EnsureWatching(ctx, nil, id, func(context.Context) (radio.Watch, error) { return w, nil })
	}

	ids, err := suite.reg.Detach()
	suite.NoError(err)
	suite.ElementsMatch([]radio.DeviceID{"a", "b"}, ids)
	suite.Zero(suite.reg.Len())
	for _, w := range watches {
		suite.EqualValues(1, w.closes.Load())
	}

	ids, err = suite.reg.Detach()
	suite.NoError(err)
	suite.Empty(ids)
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
