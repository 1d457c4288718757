package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/adapters/zk"
	"github.com/aretw0/canopy/pkg/core"
	"github.com/aretw0/canopy/pkg/session"
)

// Connect opens a session to servers using the configured adapter.
//
//	s, err := platform.Connect(ctx, "zk1:2181,zk2:2181", platform.WithTimeout(5*time.Second))
//
// The servers argument is adapter specific: a comma separated host list for
// "zk", ignored for "memory".
func Connect(ctx context.Context, servers string, opts ...Option) (*session.Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer, err := o.selectDialer(logger)
	if err != nil {
		return nil, err
	}

	sessOpts := []session.Option{
		session.WithDialer(dialer),
		session.WithLogger(logger),
	}
	if o.timeout > 0 {
		sessOpts = append(sessOpts, session.WithTimeout(o.timeout))
	}
	if len(o.acl) > 0 {
		sessOpts = append(sessOpts, session.WithACL(o.acl))
	}
	if o.minBackoff > 0 && o.maxBackoff > 0 {
		sessOpts = append(sessOpts, session.WithRedialBackoff(o.minBackoff, o.maxBackoff))
	}
	return session.Connect(ctx, servers, sessOpts...)
}

func (o *options) selectDialer(logger *slog.Logger) (core.Dialer, error) {
	if o.dialer != nil {
		return o.dialer, nil
	}
	switch o.adapter {
	case AdapterZK:
		return zk.NewDialer(logger), nil
	case AdapterMemory:
		if o.store == nil {
			logger.Debug("using a private in-memory store")
			o.store = memory.NewStore()
		}
		return o.store.Dial, nil
	default:
		return nil, fmt.Errorf("%w: unknown adapter %q", core.ErrBadArguments, o.adapter)
	}
}
