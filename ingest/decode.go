package ingest

import (
	"sort"

	"github.com/srg/blemon/internal/radio"
)

// Decode extracts one Advertisement per service-data entry of raw.
// Only the "ServiceData" property is read; entries with a key that is not
// a UUID or a value that is not a byte slice are skipped.
func Decode(raw map[string]any, deviceAddress string) []Advertisement {
	entries := serviceData(raw[radio.PropServiceData])
	if len(entries) == 0 {
		return nil
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Advertisement
	for _, k := range keys {
		id, err := radio.ParseUUID(k)
		if err != nil {
			continue
		}
		out = append(out, NewAdvertisement(deviceAddress, id, entries[k]))
	}
	return out
}

func serviceData(v any) map[string][]byte {
	switch sd := v.(type) {
	case map[string][]byte:
		return sd
	case map[string]any:
		out := make(map[string][]byte, len(sd))
		for k, val := range sd {
			if b, ok := val.([]byte); ok {
				out[k] = b
			}
		}
		return out
	default:
		return nil
	}
}
