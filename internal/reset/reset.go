// Package reset performs the hardware recovery sequence of a wedged BLE
// adapter: driver unbind and rebind followed by a power cycle.
package reset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// ErrEmptyCommand is returned for a step configured with an empty command line.
var ErrEmptyCommand = errors.New("empty command")

// Commands are shell-like command lines, split with shlex (no shell involved).
type Commands struct {
	UnbindDriver string `yaml:"unbind_driver" default:"modprobe -r btusb"`
	BindDriver   string `yaml:"bind_driver" default:"modprobe btusb"`
	PowerOff     string `yaml:"power_off" default:"bluetoothctl power off"`
	PowerOn      string `yaml:"power_on" default:"bluetoothctl power on"`

	// SettleDelay is the wait after rebinding the driver.
	SettleDelay time.Duration `yaml:"settle_delay" default:"1s"`
	// PowerDelay is the wait after powering the adapter back on.
	PowerDelay time.Duration `yaml:"power_delay" default:"3s"`
}

// Runner executes one command. The default runs it with os/exec and returns
// its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// StepError reports the step of the sequence that failed.
type StepError struct {
	Step   string
	Output string
	Err    error
}

func (e *StepError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("reset step %q: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("reset step %q: %v: %s", e.Step, e.Err, e.Output)
}

func (e *StepError) Unwrap() error { return e.Err }

// Sequence runs the reset steps in order.
type Sequence struct {
	steps  []step
	run    Runner
	sleep  func(ctx context.Context, d time.Duration) error
	logger *logrus.Logger
}

type step struct {
	name  string
	argv  []string
	delay time.Duration
}

// Option customizes a Sequence.
type Option func(*Sequence)

// WithRunner replaces the command runner.
func WithRunner(run Runner) Option {
	return func(s *Sequence) { s.run = run }
}

// WithSleep replaces the context-aware wait used for the delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sequence) { s.sleep = sleep }
}

// New parses the command lines and builds the sequence.
func New(cmds Commands, logger *logrus.Logger, opts ...Option) (*Sequence, error) {
	if logger == nil {
		logger = logrus.New()
	}

	lines := []struct {
		name  string
		line  string
		delay time.Duration
	}{
		{"unbind driver", cmds.UnbindDriver, 0},
		{"bind driver", cmds.BindDriver, cmds.SettleDelay},
		{"power off", cmds.PowerOff, 0},
		{"power on", cmds.PowerOn, cmds.PowerDelay},
	}

	s := &Sequence{
		run:    execRunner,
		sleep:  Sleep,
		logger: logger,
	}
	for _, l := range lines {
		argv, err := shlex.Split(l.line)
		if err != nil {
			return nil, fmt.Errorf("parse %s command %q: %w", l.name, l.line, err)
		}
		if len(argv) == 0 {
			return nil, fmt.Errorf("%s: %w", l.name, ErrEmptyCommand)
		}
		s.steps = append(s.steps, step{name: l.name, argv: argv, delay: l.delay})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Reset runs every step; the first failing step aborts the sequence.
func (s *Sequence) Reset(ctx context.Context) error {
	for _, st := range s.steps {
		log := s.logger.WithFields(logrus.Fields{
			"step":    st.name,
			"command": strings.Join(st.argv, " "),
		})
		log.Debug("Running adapter reset step")

		out, err := s.run(ctx, st.argv[0], st.argv[1:]...)
		if err != nil {
			return &StepError{Step: st.name, Output: strings.TrimSpace(string(out)), Err: err}
		}
		if st.delay > 0 {
			if err := s.sleep(ctx, st.delay); err != nil {
				return &StepError{Step: st.name, Err: err}
			}
		}
	}
	s.logger.Info("Bluetooth adapter reset completed")
	return nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
