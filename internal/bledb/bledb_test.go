package bledb

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestShortForm(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"16-bit SIG", "0000180d-0000-1000-8000-00805f9b34fb", "180d"},
		{"member uuid", "0000fcd2-0000-1000-8000-00805f9b34fb", "fcd2"},
		{"32-bit SIG", "12345678-0000-1000-8000-00805f9b34fb", "12345678"},
		{"custom 128-bit", "6e400001-b5a3-f393-e0a9-e50e24dcca9e", "6e400001b5a3f393e0a9e50e24dcca9e"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ShortForm(uuid.MustParse(tt.input)))
		})
	}
}

func TestLookupService(t *testing.T) {
	name, ok := LookupService(uuid.MustParse("0000181a-0000-1000-8000-00805f9b34fb"))
	assert.True(t, ok)
	assert.Equal(t, "Environmental Sensing", name)

	_, ok = LookupService(uuid.MustParse("0000aaaa-0000-1000-8000-00805f9b34fb"))
	assert.False(t, ok)

	_, ok = LookupService(uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e"))
	assert.False(t, ok, "custom UUIDs MUST not resolve")
}
