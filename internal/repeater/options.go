package repeater

import (
	"fmt"
	"time"

	"github.com/mescon/repeatd/internal/clock"
)

// DefaultName is used in logs and errors for repeaters created without a name.
const DefaultName = "repeater"

// Config is either an Interval (see Every) or an Options struct.
type Config interface {
	options() Options
}

// Interval is the shorthand Config: run every d with no initial delay.
type Interval time.Duration

// Every returns the shorthand Config for a fixed interval.
func Every(d time.Duration) Interval {
	return Interval(d)
}

func (i Interval) options() Options {
	return Options{Interval: time.Duration(i)}
}

// Options is the structured Config.
type Options struct {
	// Interval is the pause between the end of one run and the start of the next.
	Interval time.Duration
	// Delay is the pause before the first run.
	Delay time.Duration
	// Name identifies the repeater in logs and errors.
	Name string
	// Clock defaults to clock.Default.
	Clock clock.Clock
	// Observer, if set, receives every event. It is registered before the
	// first run is armed, so it cannot miss the first tick.
	Observer Listener
}

func (o Options) options() Options {
	return o
}

// resolve validates cfg and fills in defaults. Negative durations are clamped to zero.
func resolve(cfg Config) (Options, error) {
	switch c := cfg.(type) {
	case nil:
		return Options{}, fmt.Errorf("%w: options must be provided", ErrInvalidArgument)
	case *Options:
		if c == nil {
			return Options{}, fmt.Errorf("%w: options must be provided", ErrInvalidArgument)
		}
	}

	opts := cfg.options()
	if opts.Interval < 0 {
		opts.Interval = 0
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Clock == nil {
		opts.Clock = clock.Default
	}
	return opts, nil
}

// Bind fixes recv as the first argument of fn, the way a method value binds
// its receiver. Returns nil if fn is nil.
func Bind[T any](recv T, fn func(T, *Tick) error) Func {
	if fn == nil {
		return nil
	}
	return func(t *Tick) error {
		return fn(recv, t)
	}
}
