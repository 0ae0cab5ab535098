package radio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAdapterNotFound means the platform reports no usable adapter.
	ErrAdapterNotFound = errors.New("bluetooth adapter not found")
	// ErrClosed is returned by operations on a released handle.
	ErrClosed = errors.New("radio is closed")
	// ErrUnsupported is returned when a driver is not available on this platform.
	ErrUnsupported = errors.New("unsupported")
)

// NormalizeError maps known platform error strings to the sentinel errors
// of this package. The original error is kept in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAdapterNotFound) || errors.Is(err, ErrClosed) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "no such adapter"),
		containsIgnoreCase(msg, "no bluetooth adapter"),
		containsIgnoreCase(msg, "no adapter"),
		containsIgnoreCase(msg, "can't init hci"),
		containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", ErrAdapterNotFound, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
