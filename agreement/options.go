package agreement

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/luca-patrignani/byzantine-generals/message"
)

// DefaultCollectTimeout bounds a collection phase when no timeout is set.
const DefaultCollectTimeout = 10 * time.Second

type options struct {
	logger         *slog.Logger
	clock          clockwork.Clock
	collectTimeout time.Duration
	tieBreak       []message.Value
}

func defaultOptions() options {
	return options{
		logger:         slog.Default(),
		clock:          clockwork.NewRealClock(),
		collectTimeout: DefaultCollectTimeout,
	}
}

// Option customises a Participant.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the clock collection deadlines are measured on.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithCollectTimeout bounds each collection phase. Non-positive values keep
// the default.
func WithCollectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.collectTimeout = d
		}
	}
}

// WithTieBreak sets the priority used to resolve tied tallies.
func WithTieBreak(priority ...message.Value) Option {
	return func(o *options) {
		o.tieBreak = append([]message.Value(nil), priority...)
	}
}
