package fs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before OnChange runs.
const DefaultDebounce = 100 * time.Millisecond

// Config configures a Follower.
type Config struct {
	// Path is the file to follow.
	Path string
	// OnChange runs after the file settles. Calls never overlap.
	OnChange func(ctx context.Context) error
	// ErrorHandler receives OnChange and watcher errors. They are logged
	// either way and never stop the follower.
	ErrorHandler func(error)
	Debounce     time.Duration
	Logger       *slog.Logger
}

// Follower runs a callback whenever a file is rewritten. The parent
// directory is watched, so editors that replace the file by renaming a
// new one into place are followed too.
type Follower struct {
	*worker.BaseWorker
	config  Config
	path    string
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	mu      sync.Mutex
	reloads int
}

// NewFollower creates a follower. It does nothing until started.
func NewFollower(cfg Config) *Follower {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		path = filepath.Clean(cfg.Path)
	}
	return &Follower{
		BaseWorker: worker.NewBaseWorker("file-follower"),
		config:     cfg,
		path:       path,
	}
}

func (f *Follower) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := f.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("follower already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", f.path, err)
	}
	f.watcher = watcher

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	f.SetStatus(worker.StatusRunning)
	return f.StartFunc(runCtx, f.run)
}

func (f *Follower) Stop(ctx context.Context) error {
	if f.cancel != nil {
		f.StopRequested = true
		f.cancel()
	}

	return f.BaseWorker.Stop(ctx)
}

func (f *Follower) State() worker.State {
	return f.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"path":              f.path,
			"reloads":           fmt.Sprint(f.Reloads()),
		}
	})
}

// Reloads returns how many times OnChange has run.
func (f *Follower) Reloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads
}

func (f *Follower) run(ctx context.Context) (err error) {
	logger := f.config.Logger
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("follower panic: %v", recovered)
			if logger.Enabled(ctx, slog.LevelDebug) {
				logger.Error("follower panic", "error", err, "stack", string(debug.Stack()))
			} else {
				logger.Error("follower panic", "error", err)
			}
		}
	}()
	defer f.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-f.watcher.Events:
			if !ok {
				if f.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			if !f.relevant(event) {
				continue
			}
			logger.Debug("file changed", "path", f.path, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(f.config.Debounce)
			} else {
				timer.Reset(f.config.Debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			f.reload(ctx)

		case wErr, ok := <-f.watcher.Errors:
			if !ok {
				if f.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			f.fail(fmt.Errorf("watch %s: %w", f.path, wErr))
		}
	}
}

func (f *Follower) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != f.path {
		return false
	}
	// A removed file is usually about to be replaced; wait for the create.
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (f *Follower) reload(ctx context.Context) {
	f.mu.Lock()
	f.reloads++
	f.mu.Unlock()

	if f.config.OnChange == nil {
		return
	}
	if err := f.config.OnChange(ctx); err != nil {
		f.fail(err)
	}
}

func (f *Follower) fail(err error) {
	f.config.Logger.Error("follow failed", "path", f.path, "error", err)
	if f.config.ErrorHandler != nil {
		f.config.ErrorHandler(err)
	}
}
