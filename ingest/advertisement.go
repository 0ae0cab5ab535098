package ingest

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// Advertisement is one service-data entry of a received advertisement.
// It is immutable once built.
type Advertisement struct {
	deviceAddress string
	serviceID     uuid.UUID
	payload       []byte
}

// NewAdvertisement copies payload so later mutation by the caller is not visible.
func NewAdvertisement(deviceAddress string, serviceID uuid.UUID, payload []byte) Advertisement {
	return Advertisement{
		deviceAddress: deviceAddress,
		serviceID:     serviceID,
		payload:       bytes.Clone(payload),
	}
}

func (a Advertisement) DeviceAddress() string { return a.deviceAddress }

func (a Advertisement) ServiceID() uuid.UUID { return a.serviceID }

// Payload returns a copy of the service data.
func (a Advertisement) Payload() []byte { return bytes.Clone(a.payload) }

// Len is the payload length.
func (a Advertisement) Len() int { return len(a.payload) }

// Hex returns the payload as upper-case hex.
func (a Advertisement) Hex() string {
	return fmt.Sprintf("%X", a.payload)
}

func (a Advertisement) String() string {
	return fmt.Sprintf("%s %s %s", a.deviceAddress, a.serviceID, a.Hex())
}
