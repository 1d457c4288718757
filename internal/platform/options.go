package platform

import (
	"log/slog"
	"time"

	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/core"
)

// Adapter names accepted by WithAdapter.
const (
	AdapterZK     = "zk"
	AdapterMemory = "memory"
)

// options holds the configuration used to build a session.
type options struct {
	adapter    string
	logger     *slog.Logger
	timeout    time.Duration
	acl        []core.ACL
	dialer     core.Dialer
	store      *memory.Store
	minBackoff time.Duration
	maxBackoff time.Duration
}

// Option configures Connect.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		adapter: AdapterZK,
	}
}

// WithAdapter selects the driver by name ("zk" or "memory").
// Defaults to "zk".
func WithAdapter(name string) Option {
	return func(o *options) {
		o.adapter = name
	}
}

// WithLogger sets the logger for the session and its driver.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTimeout bounds how long calls wait for a connection.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithACL sets the ACL given to nodes created without one.
func WithACL(acl []core.ACL) Option {
	return func(o *options) {
		o.acl = acl
	}
}

// WithDialer injects a custom driver (e.g. a fake). It takes precedence
// over WithAdapter.
func WithDialer(d core.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithStore makes the "memory" adapter use s, so several sessions can
// share one in-process tree.
func WithStore(s *memory.Store) Option {
	return func(o *options) {
		o.adapter = AdapterMemory
		o.store = s
	}
}

// WithRedialBackoff bounds the wait between failed reconnects after expiry.
func WithRedialBackoff(min, max time.Duration) Option {
	return func(o *options) {
		o.minBackoff, o.maxBackoff = min, max
	}
}
