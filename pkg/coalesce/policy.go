package coalesce

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/juju/clock"
)

// ErrInvalidArgument is wrapped by every error returned for misuse at the API
// boundary (non-positive durations, unknown policy, missing notifier).
var ErrInvalidArgument = errors.New("coalesce: invalid argument")

// Policy selects how an Engine turns enqueued keys into notifications.
type Policy int

const (
	// FixedDelay delivers the union of all keys seen within BatchDelay of the
	// first key of a window, once.
	FixedDelay Policy = iota

	// PerKeyDeadline debounces each key individually: provisional on first
	// sight, settled once it has not been renewed for Timeout.
	PerKeyDeadline
)

// String returns the config spelling of p.
func (p Policy) String() string {
	switch p {
	case FixedDelay:
		return "fixed"
	case PerKeyDeadline:
		return "deadline"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy maps a config spelling to a Policy.
// Accepted: fixed | batch | deadline | debounce (case-insensitive).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "batch":
		return FixedDelay, nil
	case "deadline", "debounce":
		return PerKeyDeadline, nil
	}
	return 0, fmt.Errorf("%w: unknown policy %q", ErrInvalidArgument, s)
}

// Config configures an Engine, BatchCoordinator or SweepScheduler.
type Config struct {
	// Name labels log lines and metrics. Defaults to the policy name.
	Name string

	Policy Policy

	// BatchDelay is the accumulation window for FixedDelay.
	BatchDelay time.Duration

	// Timeout is how long a key must stay quiet before PerKeyDeadline
	// reports it as settled.
	Timeout time.Duration

	// PollResolution is the sweep cadence for PerKeyDeadline. Settlement is
	// reported at most PollResolution after a deadline passes.
	PollResolution time.Duration

	// Clock provides every timer the instance arms. Defaults to clock.WallClock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *Metrics
}

// Validate reports misconfiguration for the selected policy. Every returned
// error wraps ErrInvalidArgument.
func (c Config) Validate() error {
	switch c.Policy {
	case FixedDelay:
		if c.BatchDelay <= 0 {
			return fmt.Errorf("%w: batch delay must be positive, got %v", ErrInvalidArgument, c.BatchDelay)
		}
	case PerKeyDeadline:
		if c.Timeout <= 0 {
			return fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalidArgument, c.Timeout)
		}
		if c.PollResolution <= 0 {
			return fmt.Errorf("%w: poll resolution must be positive, got %v", ErrInvalidArgument, c.PollResolution)
		}
	default:
		return fmt.Errorf("%w: unknown policy %v", ErrInvalidArgument, c.Policy)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Name == "" {
		c.Name = c.Policy.String()
	}
	return c
}
