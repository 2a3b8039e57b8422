package discovery

import (
	"log/slog"
	"time"
)

// Option configures a Discover.
type Option func(*Discover)

// WithHost sets the host discovery servers listen on and are searched at.
func WithHost(host string) Option {
	return func(d *Discover) {
		d.host = host
	}
}

func WithPortRange(startPort, endPort uint16) Option {
	return func(d *Discover) {
		d.startPort = startPort
		d.endPort = endPort
	}
}

func WithPort(port uint16) Option {
	return WithPortRange(port, port)
}

// WithAttempts sets how many times the port range is scanned.
func WithAttempts(attempts uint) Option {
	return func(d *Discover) {
		d.attempts = attempts
	}
}

// WithInterval sets the pause between two scans.
func WithInterval(interval time.Duration) Option {
	return func(d *Discover) {
		d.interval = interval
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Discover) {
		d.logger = logger
	}
}
