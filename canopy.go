package canopy

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/canopy/internal/platform"
	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/core"
	"github.com/aretw0/canopy/pkg/session"
	"github.com/aretw0/canopy/pkg/tree"
	"github.com/aretw0/canopy/pkg/typed"
)

// --- Types ---

// Session is a live connection to the store.
type Session = session.Session

// Props is a decoded node payload.
type Props = core.Props

// ACL is a single access control entry.
type ACL = core.ACL

// --- Configuration ---

// Option configures Connect.
type Option = platform.Option

// WithAdapter selects the driver by name ("zk" or "memory").
func WithAdapter(name string) Option {
	return platform.WithAdapter(name)
}

// WithLogger sets the logger for the session.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithTimeout bounds how long calls wait for a connection.
func WithTimeout(d time.Duration) Option {
	return platform.WithTimeout(d)
}

// WithACL sets the ACL given to nodes created without one.
func WithACL(acl []ACL) Option {
	return platform.WithACL(acl)
}

// WithDialer injects a custom driver.
func WithDialer(d core.Dialer) Option {
	return platform.WithDialer(d)
}

// WithStore shares an in-process store between sessions.
func WithStore(s *memory.Store) Option {
	return platform.WithStore(s)
}

// WithRedialBackoff bounds the wait between failed reconnects.
func WithRedialBackoff(min, max time.Duration) Option {
	return platform.WithRedialBackoff(min, max)
}

// --- Factory ---

// Connect opens a session and waits until it is connected.
func Connect(ctx context.Context, servers string, opts ...Option) (*Session, error) {
	return platform.Connect(ctx, servers, opts...)
}

// NewMemoryStore returns an empty in-process store for tests and demos.
func NewMemoryStore() *memory.Store {
	return memory.NewStore()
}

// --- Trees ---

// Import parses text and applies it below path.
func Import(ctx context.Context, s *Session, path, text string, opts tree.Options) (*tree.Summary, error) {
	root, err := tree.Parse(text)
	if err != nil {
		return nil, err
	}
	return tree.Apply(ctx, s, path, root, opts)
}

// Export renders the subtree at path as text.
func Export(ctx context.Context, s *Session, path string, opts tree.ExportOptions) (string, error) {
	return tree.Export(ctx, s, path, opts)
}

// --- Typed access ---

// NewTypedRepository reads and writes node properties as T.
func NewTypedRepository[T any](s *Session) *typed.Repository[T] {
	return typed.NewRepository[T](s)
}
