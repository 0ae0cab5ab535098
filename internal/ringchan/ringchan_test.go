package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type RingChannelTestSuite struct {
	suite.Suite
}

func (suite *RingChannelTestSuite) TestPushEvictsOldest() {
	rc := New[int](3)

	for i := 1; i <= 5; i++ {
		_, _, err := rc.Push(i)
		suite.Require().NoError(err)
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	suite.Equal([]int{3, 4, 5}, got, "MUST keep only the newest elements")

	m := rc.Metrics()
	suite.EqualValues(5, m.Written)
	suite.EqualValues(2, m.Overwritten)
}

func (suite *RingChannelTestSuite) TestPushReportsEvicted() {
	rc := New[string](1)

	_, dropped, err := rc.Push("a")
	suite.NoError(err)
	suite.False(dropped)

	evicted, dropped, err := rc.Push("b")
	suite.NoError(err)
	suite.True(dropped)
	suite.Equal("a", evicted)
}

func (suite *RingChannelTestSuite) TestPushAfterClose() {
	rc := New[int](2)
	_, _, _ = rc.Push(1)
	rc.Close()
	rc.Close()

	_, _, err := rc.Push(2)
	suite.ErrorIs(err, ErrClosed)
	suite.EqualValues(1, rc.Metrics().Errors)

	v, ok := rc.Receive()
	suite.True(ok, "MUST drain queued elements after close")
	suite.Equal(1, v)

	_, ok = rc.Receive()
	suite.False(ok)
	suite.EqualValues(1, rc.Metrics().Processed)
}

func (suite *RingChannelTestSuite) TestConcurrentProducers() {
	rc := New[int](8)

	var consumed sync.WaitGroup
	consumed.Add(1)
	count := 0
	go func() {
		defer consumed.Done()
		for {
			if _, ok := rc.Receive(); !ok {
				return
			}
			count++
		}
	}()

	var producers sync.WaitGroup
	for p := 0; p < 4; p++ {
		producers.Add(1)
		go func() {
			defer producers.Done()
			for i := 0; i < 100; i++ {
				_, _, _ = rc.Push(i)
			}
		}()
	}
	producers.Wait()
	rc.Close()
	consumed.Wait()

	m := rc.Metrics()
	suite.EqualValues(400, m.Written)
	suite.EqualValues(400, m.Overwritten+int64(count), "every element MUST be either consumed or overwritten")
}

func (suite *RingChannelTestSuite) TestInvalidCapacityPanics() {
	suite.Panics(func() { New[int](0) })
}

func TestRingChannelTestSuite(t *testing.T) {
	suite.Run(t, new(RingChannelTestSuite))
}
