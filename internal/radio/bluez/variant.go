package bluez

import "github.com/godbus/dbus/v5"

// plain converts D-Bus variants, recursively, into plain Go values so the
// engine never sees dbus types.
func plain(v any) any {
	switch t := v.(type) {
	case dbus.Variant:
		return plain(t.Value())
	case map[string]dbus.Variant:
		return plainMap(t)
	case map[uint16]dbus.Variant:
		out := make(map[uint16]any, len(t))
		for k, val := range t {
			out[k] = plain(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = plain(val)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}

func plainMap(m map[string]dbus.Variant) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}
