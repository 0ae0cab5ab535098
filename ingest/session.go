package ingest

import (
	"context"

	"github.com/sirupsen/logrus"
)

const adapterMissing = "<adapter missing>"

// session is one run of the scan lifecycle loop under the retry policy.
type session struct {
	ctrl   *Controller
	opts   Options
	logger *logrus.Logger

	// retries counts resets spent by this session.
	retries     int
	discovering bool

	onReady func()
}

// run cycles discovery until ctx is done or the retry budget is spent.
func (s *session) run(ctx context.Context) error {
	for {
		err := s.loop(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		adapter := s.ctrl.AdapterName()
		if adapter == "" {
			adapter = adapterMissing
		}
		s.logger.WithFields(logrus.Fields{
			"retries": s.retries,
			"adapter": adapter,
			"error":   err,
		}).Error("Scan cycle failed")

		if s.retries >= s.opts.RetryBudget {
			return &RetryBudgetError{Retries: s.retries, Cause: err}
		}
		s.retries++

		if err := s.ctrl.Reset(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Logged by the controller; the next cycle re-acquires.
			continue
		}
	}
}

type cycleError struct {
	op  string
	err error
}

func (e *cycleError) Error() string { return e.op + ": " + e.err.Error() }

func (e *cycleError) Unwrap() error { return e.err }
