// Package webhook forwards decoded sensor readings to HTTP webhooks.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blemon/ingest"
	"github.com/srg/blemon/internal/groutine"
	"github.com/srg/blemon/internal/ringchan"
	"github.com/srg/blemon/internal/sensor"
)

var (
	// ErrDeliveryFailed wraps transport errors and non-2xx responses.
	ErrDeliveryFailed = errors.New("webhook delivery failed")
	// ErrUnknownDevice is returned for advertisements of unbound devices.
	ErrUnknownDevice = errors.New("no sensor binding for device")
)

// Config tunes delivery.
type Config struct {
	Timeout   time.Duration `yaml:"timeout" default:"10s"`
	QueueSize int           `yaml:"queue_size" default:"64"`
	Workers   int           `yaml:"workers" default:"1"`

	// ReadyTimeout bounds the wait for the engine; zero waits forever.
	ReadyTimeout time.Duration `yaml:"-"`
}

// Source is the advertisement producer the sink subscribes to.
type Source interface {
	WaitReady(ctx context.Context) error
	Subscribe(cb ingest.Callback, addresses ...string) *ingest.Subscription
}

// Reading is one decoded value queued for delivery.
type Reading struct {
	Binding sensor.Binding
	Adv     ingest.Advertisement
	Value   float64
}

// Sink queues readings of bound sensors and delivers them from workers,
// so a slow webhook never blocks advertisement ingestion.
type Sink struct {
	bindings *sensor.Bindings
	cfg      Config
	client   *http.Client
	logger   *logrus.Logger
	queue    *ringchan.RingChannel[Reading]
}

// New creates a sink. A nil client gets one with cfg.Timeout.
func New(bindings *sensor.Bindings, cfg Config, client *http.Client, logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Sink{
		bindings: bindings,
		cfg:      cfg,
		client:   client,
		logger:   logger,
		queue:    ringchan.New[Reading](cfg.QueueSize),
	}
}

// Run waits for the source to become ready, subscribes to the bound
// devices and delivers readings until ctx is done. Readings still queued
// at that point are dropped.
func (s *Sink) Run(ctx context.Context, src Source) error {
	readyCtx := ctx
	if s.cfg.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, s.cfg.ReadyTimeout)
		defer cancel()
	}
	if err := src.WaitReady(readyCtx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("waiting for advertisement ingestion: %w", err)
	}

	addrs := s.bindings.Addresses()
	sub := src.Subscribe(s.Handle, addrs...)
	s.logger.WithField("devices", addrs).Info("Subscribed to sensor advertisements")

	var workers groutine.Group
	for i := 0; i < s.cfg.Workers; i++ {
		workers.Go(ctx, "webhook-worker-"+strconv.Itoa(i), s.work)
	}

	<-ctx.Done()
	sub.Unsubscribe()
	s.queue.Close()
	workers.Wait()

	if n := s.queue.Len(); n > 0 {
		s.logger.WithField("total", n).Warn("Dropped undelivered readings on shutdown")
	}
	return nil
}

// Handle is the ingest callback: it decodes the reading of a bound sensor
// and queues it. Payloads too short to carry a reading are ignored.
func (s *Sink) Handle(_ context.Context, adv ingest.Advertisement) error {
	b, ok := s.bindings.Lookup(adv.DeviceAddress())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, adv.DeviceAddress())
	}

	value, err := sensor.DecodeReading(adv.Payload())
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"device":  adv.DeviceAddress(),
			"service": adv.ServiceID(),
			"payload": adv.Hex(),
		}).Debug("Ignoring advertisement without reading")
		return nil
	}

	evicted, dropped, err := s.queue.Push(Reading{Binding: b, Adv: adv, Value: value})
	if err != nil {
		return err
	}
	if dropped {
		s.logger.WithFields(logrus.Fields{
			"device": evicted.Adv.DeviceAddress(),
			"value":  evicted.Value,
		}).Warn("Delivery queue full, dropped oldest reading")
	}
	return nil
}

func (s *Sink) work(ctx context.Context) {
	for {
		r, ok := s.queue.Receive()
		if !ok || ctx.Err() != nil {
			return
		}
		_ = s.Deliver(ctx, r)
	}
}

// Deliver sends one reading. Failures are logged and returned.
func (s *Sink) Deliver(ctx context.Context, r Reading) error {
	log := s.logger.WithFields(logrus.Fields{
		"device":  r.Adv.DeviceAddress(),
		"service": r.Adv.ServiceID(),
		"value":   r.Value,
	})

	if err := s.send(ctx, r); err != nil {
		err = fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		log.WithError(err).Error("Failed to deliver sensor reading")
		return err
	}

	log.WithField("payload", r.Adv.Hex()).Info("Sensor reading delivered")
	return nil
}

func (s *Sink) send(ctx context.Context, r Reading) error {
	body, err := json.Marshal(map[string]float64{r.Binding.JSONFieldName: r.Value})
	if err != nil {
		return err
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, r.Binding.HTTPMethod, r.Binding.Webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: %s", r.Binding.HTTPMethod, r.Binding.Webhook, resp.Status)
	}
	return nil
}
