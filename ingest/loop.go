package ingest

import (
	"context"
	"time"

	"github.com/srg/blemon/internal/radio"
)

// loop runs discovery windows: filter once, then start, hold, stop, cool.
// It returns nil once ctx is done and the failure otherwise.
func (s *session) loop(ctx context.Context) (err error) {
	defer s.stopIfDiscovering()

	err = s.ctrl.withRadio(ctx, func(r radio.Radio) error {
		return r.SetDiscoveryFilter(ctx, radio.PassiveFilter)
	})
	if err != nil {
		return s.failure(ctx, "set discovery filter", err)
	}

	for {
		err = s.ctrl.withRadio(ctx, func(r radio.Radio) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.StartDiscovery(ctx); err != nil {
				return err
			}
			s.discovering = true
			return nil
		})
		if err != nil {
			return s.failure(ctx, "start discovery", err)
		}
		if s.onReady != nil {
			s.onReady()
		}

		if !wait(ctx, s.opts.DiscoveryWindow) {
			return nil
		}

		err = s.ctrl.withRadio(ctx, func(r radio.Radio) error {
			s.discovering = false
			return r.StopDiscovery(ctx)
		})
		if err != nil {
			return s.failure(ctx, "stop discovery", err)
		}
		if s.opts.ResetOnSuccess && s.retries > 0 {
			s.logger.WithField("retries", s.retries).Debug("Discovery window completed, retry counter cleared")
			s.retries = 0
		}

		if !wait(ctx, s.opts.Cooldown) {
			return nil
		}
	}
}

func (s *session) failure(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return &cycleError{op: op, err: err}
}

// stopIfDiscovering stops a discovery that is still running, with a fresh
// context so it also runs after cancellation.
func (s *session) stopIfDiscovering() {
	if !s.discovering {
		return
	}
	s.discovering = false

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StopTimeout)
	defer cancel()

	err := s.ctrl.withRadio(ctx, func(r radio.Radio) error {
		return r.StopDiscovery(ctx)
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to stop discovery")
	}
}

// wait reports whether d elapsed before ctx was done.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
