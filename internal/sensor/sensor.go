// Package sensor maps known BLE sensors to their webhook bindings and
// decodes the reading carried in their service data.
package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/mcuadros/go-defaults"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// MinPayloadLen is the shortest service-data payload carrying a reading.
const MinPayloadLen = 9

var (
	ErrPayloadTooShort  = errors.New("payload too short")
	ErrDuplicateBinding = errors.New("duplicate sensor binding")
	ErrInvalidBinding   = errors.New("invalid sensor binding")
)

var macPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)

// DecodeReading returns the big-endian 16-bit value at bytes 5..6 as an
// 8.8 fixed-point number.
func DecodeReading(payload []byte) (float64, error) {
	if len(payload) < MinPayloadLen {
		return 0, fmt.Errorf("%w: %d bytes, need %d", ErrPayloadTooShort, len(payload), MinPayloadLen)
	}
	return float64(binary.BigEndian.Uint16(payload[5:7])) / 256.0, nil
}

// Binding routes the readings of one device to a webhook.
type Binding struct {
	MacAddress    string `yaml:"mac_address"`
	Webhook       string `yaml:"webhook"`
	HTTPMethod    string `yaml:"http_method" default:"PUT"`
	JSONFieldName string `yaml:"json_field_name" default:"sensorValue"`
}

// ApplyDefaults fills the unset optional fields.
func (b *Binding) ApplyDefaults() {
	defaults.SetDefaults(b)
	b.HTTPMethod = strings.ToUpper(b.HTTPMethod)
}

// Validate checks the binding fields.
func (b *Binding) Validate() error {
	if !macPattern.MatchString(b.MacAddress) {
		return fmt.Errorf("%w: mac_address %q", ErrInvalidBinding, b.MacAddress)
	}
	u, err := url.Parse(b.Webhook)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: webhook %q of %s must be an absolute http(s) URL", ErrInvalidBinding, b.Webhook, b.MacAddress)
	}
	switch strings.ToUpper(b.HTTPMethod) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("%w: http_method %q of %s", ErrInvalidBinding, b.HTTPMethod, b.MacAddress)
	}
	if strings.TrimSpace(b.JSONFieldName) == "" {
		return fmt.Errorf("%w: json_field_name of %s is empty", ErrInvalidBinding, b.MacAddress)
	}
	return nil
}

// Bindings is the ordered set of sensor bindings keyed by upper-case MAC.
type Bindings struct {
	m *orderedmap.OrderedMap[string, Binding]
}

// NewBindings validates and indexes the list, keeping its order.
func NewBindings(list []Binding) (*Bindings, error) {
	bs := &Bindings{m: orderedmap.New[string, Binding]()}
	for _, b := range list {
		b.ApplyDefaults()
		if err := b.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToUpper(b.MacAddress)
		if _, present := bs.m.Get(key); present {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBinding, b.MacAddress)
		}
		bs.m.Set(key, b)
	}
	return bs, nil
}

// Lookup finds the binding of a MAC address, ignoring case.
func (bs *Bindings) Lookup(mac string) (Binding, bool) {
	return bs.m.Get(strings.ToUpper(mac))
}

// Addresses lists the bound MACs in configuration order.
func (bs *Bindings) Addresses() []string {
	out := make([]string, 0, bs.m.Len())
	for p := bs.m.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key)
	}
	return out
}

// All returns the bindings in configuration order.
func (bs *Bindings) All() []Binding {
	out := make([]Binding, 0, bs.m.Len())
	for p := bs.m.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

func (bs *Bindings) Len() int { return bs.m.Len() }
