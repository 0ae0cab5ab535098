package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/srg/blemon/ingest"
	"github.com/srg/blemon/internal/radio"
	"github.com/srg/blemon/pkg/config"
)

// FormatUserError turns known failures into a short actionable message.
func FormatUserError(err error) string {
	var budget *ingest.RetryBudgetError
	switch {
	case errors.Is(err, radio.ErrAdapterNotFound):
		return fmt.Sprintf("no usable Bluetooth adapter: %v (is it plugged in and not blocked by rfkill?)", err)
	case errors.As(err, &budget):
		return fmt.Sprintf("Bluetooth adapter still failing after %d resets: %v", budget.Retries, budget.Cause)
	case errors.Is(err, radio.ErrUnsupported):
		return fmt.Sprintf("%v (the hci backend needs Linux; try backend: bluez)", err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Sprintf("%v (set --config or $%s)", err, config.EnvPath)
	default:
		return err.Error()
	}
}
