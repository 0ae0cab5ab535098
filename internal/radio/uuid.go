package radio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// bluetoothBaseUUID is 00000000-0000-1000-8000-00805F9B34FB.
var bluetoothBaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// ParseUUID parses 16-bit ("181a", "0x181A"), 32-bit and 128-bit (with or
// without dashes) service UUIDs. Short forms are expanded against the
// Bluetooth base UUID.
func ParseUUID(s string) (uuid.UUID, error) {
	v := strings.TrimSpace(strings.ToLower(s))
	v = strings.TrimPrefix(v, "0x")

	switch len(v) {
	case 4, 8:
		short, err := strconv.ParseUint(v, 16, 32)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid short UUID %q: %w", s, err)
		}
		u := bluetoothBaseUUID
		u[0] = byte(short >> 24)
		u[1] = byte(short >> 16)
		u[2] = byte(short >> 8)
		u[3] = byte(short)
		return u, nil
	default:
		u, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return u, nil
	}
}
