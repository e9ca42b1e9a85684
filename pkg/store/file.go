package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mockstage/mockstage/pkg/config"
	"github.com/mockstage/mockstage/pkg/logging"
	"github.com/mockstage/mockstage/pkg/mock"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 200 * time.Millisecond

// FileSource serves an engine file and reloads it when it changes on disk.
type FileSource struct {
	path     string
	mem      *MemorySource
	log      *slog.Logger
	debounce time.Duration

	mu   sync.RWMutex
	file *config.EngineFile
}

// FileOption configures a FileSource.
type FileOption func(*FileSource)

// WithLogger sets the logger for reload failures.
func WithLogger(log *slog.Logger) FileOption {
	return func(f *FileSource) {
		if log != nil {
			f.log = log
		}
	}
}

// WithDebounce sets how long Watch waits for the file to settle.
func WithDebounce(d time.Duration) FileOption {
	return func(f *FileSource) {
		f.debounce = d
	}
}

// OpenFile loads path and returns a FileSource serving it.
func OpenFile(path string, opts ...FileOption) (*FileSource, error) {
	f := &FileSource{
		path:     path,
		mem:      NewMemorySource(),
		log:      logging.Nop(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the file being served.
func (f *FileSource) Path() string {
	return f.path
}

// File returns the most recently loaded engine file.
func (f *FileSource) File() *config.EngineFile {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.file
}

// Reload re-reads the file. On error the previous content stays in place.
func (f *FileSource) Reload() error {
	file, err := config.LoadFromFile(f.path)
	if err != nil {
		return fmt.Errorf("reload %s: %w", f.path, err)
	}
	f.mem.Replace(file.Definitions, file.Servers)

	f.mu.Lock()
	f.file = file
	f.mu.Unlock()
	return nil
}

// LoadActiveDefinitions implements Source.
func (f *FileSource) LoadActiveDefinitions(ctx context.Context, protocol mock.Protocol, filter Filter) ([]*mock.Definition, error) {
	return f.mem.LoadActiveDefinitions(ctx, protocol, filter)
}

// LoadServerConfig implements Source.
func (f *FileSource) LoadServerConfig(ctx context.Context, protocol mock.Protocol) (*config.ServerConfig, error) {
	return f.mem.LoadServerConfig(ctx, protocol)
}

// Watch reloads the file whenever it is written, created, renamed or removed
// and calls onChange after each successful reload. It blocks until ctx is
// done. The parent directory is watched so editors that replace the file
// are followed.
func (f *FileSource) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	target, err := filepath.Abs(f.path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", f.path, err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(event.Name)
			if name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(f.debounce)
			} else {
				timer.Reset(f.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := f.Reload(); err != nil {
				f.log.Warn("definitions file reload failed", "path", f.path, "error", err)
				continue
			}
			f.log.Info("definitions file reloaded", "path", f.path)
			if onChange != nil {
				onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.log.Warn("definitions file watcher error", "error", err)
		}
	}
}
