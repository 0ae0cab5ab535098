package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemon/internal/radio"
)

// EstablishFunc creates the platform watch of one device.
type EstablishFunc func(ctx context.Context) (radio.Watch, error)

// subscription is a registry slot. The watch is nil while the inserting
// caller is still establishing it.
type subscription struct {
	// owner is the handle the watch lives on.
	owner radio.Radio

	mu       sync.Mutex
	watch    radio.Watch
	released bool
}

// release closes the watch at most once.
func (s *subscription) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	if s.watch == nil {
		return nil
	}
	return s.watch.Close()
}

// attach stores w, or closes it right away when the slot was released
// while the watch was being established.
func (s *subscription) attach(w radio.Watch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return w.Close()
	}
	s.watch = w
	return nil
}

// Registry holds at most one property watch per device identity. A watch
// belongs to the handle that created it.
type Registry struct {
	entries *hashmap.Map[radio.DeviceID, *subscription]
	logger  *logrus.Logger

	// removeMu serializes deletions so a slot is only removed while it is
	// still the one stored under its id.
	removeMu sync.Mutex
}

func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		entries: hashmap.New[radio.DeviceID, *subscription](),
		logger:  logger,
	}
}

// EnsureWatching establishes a watch of id on owner unless one exists. Only
// the caller that inserts the slot runs establish; it reports whether it did.
// A slot left by another handle is released and replaced. A failed
// establish is logged and the slot removed so a later event retries.
func (r *Registry) EnsureWatching(ctx context.Context, owner radio.Radio, id radio.DeviceID, establish EstablishFunc) bool {
	slot := &subscription{owner: owner}
	for {
		cur, loaded := r.entries.GetOrInsert(id, slot)
		if !loaded {
			break
		}
		if cur.owner == owner {
			return false
		}
		if r.remove(id, cur) {
			if err := cur.release(); err != nil {
				r.logger.WithError(err).WithField("device", id).Debug("Failed to release watch of replaced handle")
			}
		}
	}

	w, err := establish(ctx)
	if err != nil {
		r.remove(id, slot)
		r.logger.WithFields(logrus.Fields{
			"device": id,
			"error":  fmt.Errorf("%w: %w", ErrSubscriptionSetupFailed, err),
		}).Warn("Failed to watch device properties")
		return true
	}
	if err := slot.attach(w); err != nil {
		r.logger.WithError(err).WithField("device", id).Warn("Failed to release late device watch")
	}

	r.logger.WithField("device", id).Debug("Watching device properties")
	return true
}

// Watching reports whether id has a slot.
func (r *Registry) Watching(id radio.DeviceID) bool {
	_, ok := r.entries.Get(id)
	return ok
}

func (r *Registry) Len() int { return r.entries.Len() }

// remove deletes id only while slot is still stored under it.
func (r *Registry) remove(id radio.DeviceID, slot *subscription) bool {
	r.removeMu.Lock()
	defer r.removeMu.Unlock()
	if cur, ok := r.entries.Get(id); !ok || cur != slot {
		return false
	}
	return r.entries.Del(id)
}

// ReleaseAll releases every watch exactly once and empties the registry.
// A failing release does not stop the others; all failures are joined.
func (r *Registry) ReleaseAll() error {
	_, err := r.release()
	return err
}

// Detach empties the registry like ReleaseAll and returns the devices that
// were watched, so they can be watched again on another handle.
func (r *Registry) Detach() ([]radio.DeviceID, error) {
	return r.release()
}

func (r *Registry) release() ([]radio.DeviceID, error) {
	var ids []radio.DeviceID
	r.entries.Range(func(id radio.DeviceID, _ *subscription) bool {
		ids = append(ids, id)
		return true
	})

	var errs []error
	released := make([]radio.DeviceID, 0, len(ids))
	for _, id := range ids {
		slot, ok := r.entries.Get(id)
		if !ok || !r.remove(id, slot) {
			continue
		}
		released = append(released, id)
		if err := slot.release(); err != nil {
			r.logger.WithError(err).WithField("device", id).Warn("Failed to release device watch")
			errs = append(errs, fmt.Errorf("release %s: %w", id, err))
		}
	}

	r.logger.WithField("total", len(released)).Debug("Device watches released")
	return released, errors.Join(errs...)
}
