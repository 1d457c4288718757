package session

import (
	"log/slog"
	"time"

	"github.com/aretw0/canopy/pkg/core"
)

// DefaultTimeout bounds the first connection and every wait for CONNECTED.
const DefaultTimeout = 10 * time.Second

type options struct {
	timeout    time.Duration
	logger     *slog.Logger
	dialer     core.Dialer
	acl        []core.ACL
	minBackoff time.Duration
	maxBackoff time.Duration
}

// Option configures a Session.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		timeout:    DefaultTimeout,
		acl:        core.OpenACL,
		minBackoff: 100 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
}

// WithTimeout sets how long callers wait for the session to be connected.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDialer sets how driver handles are opened. It is required.
func WithDialer(d core.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithACL sets the ACL used by Create when none is given.
func WithACL(acl []core.ACL) Option {
	return func(o *options) {
		if len(acl) > 0 {
			o.acl = acl
		}
	}
}

// WithRedialBackoff bounds the delay between failed reconnect attempts.
func WithRedialBackoff(min, max time.Duration) Option {
	return func(o *options) {
		if min > 0 {
			o.minBackoff = min
		}
		if max >= o.minBackoff {
			o.maxBackoff = max
		}
	}
}
