package radio_test

import (
	"errors"
	"testing"

	"github.com/srg/blemon/internal/radio"
	"github.com/stretchr/testify/suite"
)

type RadioTestSuite struct {
	suite.Suite
}

func (suite *RadioTestSuite) TestParseUUID() {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "expands 16-bit uuid", input: "181a", expected: "0000181a-0000-1000-8000-00805f9b34fb"},
		{name: "expands 16-bit uuid with prefix", input: "0x181A", expected: "0000181a-0000-1000-8000-00805f9b34fb"},
		{name: "expands 32-bit uuid", input: "1234abcd", expected: "1234abcd-0000-1000-8000-00805f9b34fb"},
		{name: "parses dashed 128-bit uuid", input: "0000FCD2-0000-1000-8000-00805F9B34FB", expected: "0000fcd2-0000-1000-8000-00805f9b34fb"},
		{name: "parses undashed 128-bit uuid", input: "6e400001b5a3f393e0a9e50e24dcca9e", expected: "6e400001-b5a3-f393-e0a9-e50e24dcca9e"},
		{name: "rejects garbage", input: "12zz", wantErr: true},
		{name: "rejects empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			u, err := radio.ParseUUID(tt.input)
			if tt.wantErr {
				suite.Error(err)
				return
			}
			suite.Require().NoError(err)
			suite.Equal(tt.expected, u.String())
		})
	}
}

func (suite *RadioTestSuite) TestNormalizeError() {
	suite.Run("maps missing adapter messages", func() {
		err := radio.NormalizeError(errors.New("org.bluez.Error.NoSuchAdapter: No such adapter"))
		suite.ErrorIs(err, radio.ErrAdapterNotFound)
		suite.Contains(err.Error(), "No such adapter")
	})

	suite.Run("passes through unknown errors", func() {
		orig := errors.New("operation already in progress")
		err := radio.NormalizeError(orig)
		suite.Same(orig, err)
		suite.NotErrorIs(err, radio.ErrAdapterNotFound)
	})

	suite.Run("keeps nil", func() {
		suite.NoError(radio.NormalizeError(nil))
	})
}

func (suite *RadioTestSuite) TestWatchFunc() {
	calls := 0
	w := radio.WatchFunc(func() error { calls++; return nil })
	suite.NoError(w.Close())
	suite.Equal(1, calls)
}

func TestRadioTestSuite(t *testing.T) {
	suite.Run(t, new(RadioTestSuite))
}
