package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/blemon/ingest"
	"github.com/srg/blemon/internal/radio"
	"github.com/srg/blemon/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ControllerTestSuite struct {
	suite.Suite
	helper   *testutils.TestHelper
	platform *testutils.FakePlatform
	resetter *testutils.FakeResetter
}

func (suite *ControllerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.platform = testutils.NewFakePlatform("hci0", "hci1")
	suite.resetter = testutils.NewFakeResetter()
}

func (suite *ControllerTestSuite) controller(adapter string) *ingest.Controller {
	return ingest.NewController(suite.platform, suite.resetter, adapter, suite.helper.Logger)
}

func (suite *ControllerTestSuite) TestAcquire() {
	suite.Run("first adapter by default", func() {
		c := suite.controller("")
		r, err := c.Acquire(context.Background())
		suite.Require().NoError(err)
		suite.Equal("hci0", r.Name())
		suite.Equal(ingest.Active, c.State())

		again, err := c.Acquire(context.Background())
		suite.Require().NoError(err)
		suite.Same(r, again, "MUST reuse the active handle")
	})

	suite.Run("configured adapter", func() {
		r, err := suite.controller("hci1").Acquire(context.Background())
		suite.Require().NoError(err)
		suite.Equal("hci1", r.Name())
	})

	suite.Run("configured adapter missing", func() {
		_, err := suite.controller("hci7").Acquire(context.Background())
		suite.ErrorIs(err, radio.ErrAdapterNotFound)
	})

	suite.Run("no adapters", func() {
		c := ingest.NewController(testutils.NewFakePlatform(), suite.resetter, "", suite.helper.Logger)
		_, err := c.Acquire(context.Background())
		suite.ErrorIs(err, radio.ErrAdapterNotFound)
		suite.Equal(ingest.Unacquired, c.State())
	})
}

func (suite *ControllerTestSuite) TestResetReplacesHandle() {
	c := suite.controller("")
	old, err := c.Acquire(context.Background())
	suite.Require().NoError(err)

	suite.Require().NoError(c.Reset(context.Background()))

	suite.Equal(1, suite.resetter.Calls())
	suite.True(old.(*testutils.FakeRadio).Closed(), "MUST release the handle before resetting")
	suite.Equal(2, suite.platform.Opens())

	current, err := c.Acquire(context.Background())
	suite.Require().NoError(err)
	suite.NotSame(old, current)
	suite.Equal(ingest.Active, c.State())
}

func (suite *ControllerTestSuite) TestResetFailure() {
	cause := errors.New("modprobe: FATAL")
	suite.resetter.OnReset(func(int) error { return cause })

	c := suite.controller("")
	_, err := c.Acquire(context.Background())
	suite.Require().NoError(err)

	err = c.Reset(context.Background())

	var resetErr *ingest.ResetError
	suite.Require().ErrorAs(err, &resetErr)
	suite.ErrorIs(err, ingest.ErrResetFailed)
	suite.ErrorIs(err, cause)
	suite.Equal("hci0", resetErr.Adapter)
	suite.Equal(ingest.Failed, c.State())
	suite.Empty(c.AdapterName())
}

func (suite *ControllerTestSuite) TestResetReacquireFailure() {
	c := suite.controller("")
	_, err := c.Acquire(context.Background())
	suite.Require().NoError(err)

	suite.platform.SetAdapters()
	err = c.Reset(context.Background())
	suite.ErrorIs(err, ingest.ErrResetFailed)
	suite.ErrorIs(err, radio.ErrAdapterNotFound)
	suite.Equal(ingest.Failed, c.State())
}

func (suite *ControllerTestSuite) TestConcurrentResetsCoalesce() {
	suite.resetter.Hold = make(chan struct{})
	cause := errors.New("power on failed")
	suite.resetter.OnReset(func(int) error { return cause })

	c := suite.controller("")
	_, err := c.Acquire(context.Background())
	suite.Require().NoError(err)

	results := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = c.Reset(context.Background())
	}()
	<-suite.resetter.Entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = c.Reset(context.Background())
	}()
	suite.Equal(ingest.Resetting, c.State())
	time.Sleep(50 * time.Millisecond) // let the second caller queue on the gate

	close(suite.resetter.Hold)
	wg.Wait()

	suite.Equal(1, suite.resetter.Calls(), "MUST not run a second reset while one is in flight")
	suite.ErrorIs(results[0], cause)
	suite.Same(results[0], results[1], "waiting caller MUST get the in-flight result")
}

func (suite *ControllerTestSuite) TestSequentialResetsBothRun() {
	c := suite.controller("")
	suite.Require().NoError(c.Reset(context.Background()))
	suite.Require().NoError(c.Reset(context.Background()))
	suite.Equal(2, suite.resetter.Calls())
}

func (suite *ControllerTestSuite) TestGateHonorsContext() {
	suite.resetter.Hold = make(chan struct{})
	defer close(suite.resetter.Hold)

	c := suite.controller("")
	go func() { _ = c.Reset(context.Background()) }()
	<-suite.resetter.Entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Acquire(ctx)
	suite.ErrorIs(err, context.Canceled, "MUST stop waiting for the gate when ctx is done")
}

func (suite *ControllerTestSuite) TestRelease() {
	c := suite.controller("")
	r, err := c.Acquire(context.Background())
	suite.Require().NoError(err)

	suite.NoError(c.Release(context.Background()))
	suite.True(r.(*testutils.FakeRadio).Closed())
	suite.Equal(ingest.Unacquired, c.State())
	suite.NoError(c.Release(context.Background()), "releasing twice MUST be harmless")
}

func TestControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}
