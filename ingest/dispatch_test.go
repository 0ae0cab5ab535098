package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/srg/blemon/ingest"
	"github.com/srg/blemon/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type DispatchTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	d      *ingest.Dispatcher
}

func (suite *DispatchTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.d = ingest.NewDispatcher(suite.helper.Logger)
}

type recorder struct {
	mu   sync.Mutex
	advs []ingest.Advertisement
}

func (r *recorder) callback(_ context.Context, adv ingest.Advertisement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advs = append(r.advs, adv)
	return nil
}

func (r *recorder) addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.advs {
		out = append(out, a.DeviceAddress())
	}
	return out
}

func adv(addr string) ingest.Advertisement {
	return ingest.NewAdvertisement(addr, uuid.MustParse("0000fcd2-0000-1000-8000-00805f9b34fb"), []byte{1})
}

func (suite *DispatchTestSuite) TestFilterIsCaseInsensitive() {
	var filtered, all recorder
	suite.d.Subscribe(filtered.callback, "aa:bb:cc:dd:ee:ff")
	suite.d.Subscribe(all.callback)

	ctx := context.Background()
	suite.d.Publish(ctx, adv("AA:BB:CC:DD:EE:FF"))
	suite.d.Publish(ctx, adv("11:22:33:44:55:66"))

	suite.Equal([]string{"AA:BB:CC:DD:EE:FF"}, filtered.addresses())
	suite.Equal([]string{"AA:BB:CC:DD:EE:FF", "11:22:33:44:55:66"}, all.addresses(), "empty filter MUST receive every device")
}

func (suite *DispatchTestSuite) TestFailingCallbackDoesNotAffectOthers() {
	var good recorder
	suite.d.Subscribe(func(context.Context, ingest.Advertisement) error {
		return errors.New("sink down")
	})
	suite.d.Subscribe(func(context.Context, ingest.Advertisement) error {
		panic("boom")
	})
	suite.d.Subscribe(good.callback)

	suite.NotPanics(func() {
		suite.d.Publish(context.Background(), adv("AA:BB:CC:DD:EE:FF"))
	})
	suite.Len(good.addresses(), 1)
}

func (suite *DispatchTestSuite) TestUnsubscribe() {
	var first, second recorder
	sub := suite.d.Subscribe(first.callback)
	suite.d.Subscribe(second.callback)
	suite.Equal(2, suite.d.Len())

	sub.Unsubscribe()
	sub.Unsubscribe()
	suite.Equal(1, suite.d.Len(), "second Unsubscribe MUST have no effect")

	suite.d.Publish(context.Background(), adv("AA:BB:CC:DD:EE:FF"))
	suite.Empty(first.addresses())
	suite.Len(second.addresses(), 1)
}

func (suite *DispatchTestSuite) TestSubscribeDuringPublish() {
	var late recorder
	suite.d.Subscribe(func(context.Context, ingest.Advertisement) error {
		suite.d.Subscribe(late.callback)
		return nil
	})

	suite.d.Publish(context.Background(), adv("AA:BB:CC:DD:EE:FF"))
	suite.Empty(late.addresses(), "registration made during delivery MUST not see the current advertisement")
	suite.Equal(2, suite.d.Len())
}

func (suite *DispatchTestSuite) TestPublishStopsWhenContextDone() {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	stop := func(context.Context, ingest.Advertisement) error {
		calls++
		cancel()
		return nil
	}
	suite.d.Subscribe(stop)
	suite.d.Subscribe(stop)
	suite.d.Subscribe(stop)

	suite.d.Publish(ctx, adv("AA:BB:CC:DD:EE:FF"))
	suite.Equal(1, calls, "MUST not deliver after shutdown began")

	suite.d.Publish(ctx, adv("AA:BB:CC:DD:EE:FF"))
	suite.Equal(1, calls, "MUST not deliver on a done context")
}

func TestDispatchTestSuite(t *testing.T) {
	suite.Run(t, new(DispatchTestSuite))
}
