package conductor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads a configuration file when it changes on disk and
// announces the reload as a CloudEvent. Only tunables that are safe to
// change at runtime should be consumed from reloads; structural settings
// such as queue capacity still require a restart.
type ConfigWatcher struct {
	path    string
	logger  Logger
	subject Subject

	// onReload receives each successfully re-loaded config.
	onReload func(*CoreConfig)

	mutex   sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewConfigWatcher creates a watcher for the given config file path. The
// file must be loadable by LoadCoreConfig.
func NewConfigWatcher(path string, logger Logger) *ConfigWatcher {
	return &ConfigWatcher{path: path, logger: logger}
}

// SetSubject wires an announcement subject for reload events.
func (w *ConfigWatcher) SetSubject(subject Subject) {
	w.mutex.Lock()
	w.subject = subject
	w.mutex.Unlock()
}

// OnReload registers the callback invoked with each successfully
// re-loaded config. Must be set before Start.
func (w *ConfigWatcher) OnReload(fn func(*CoreConfig)) {
	w.mutex.Lock()
	w.onReload = fn
	w.mutex.Unlock()
}

// Start begins watching the config file. The watch is on the containing
// directory so atomic save patterns (write to temp file, rename over the
// original) are still observed.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.running {
		return ErrWatcherAlreadyRunning
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.watcher = watcher
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.run(runCtx)

	if w.logger != nil {
		w.logger.Info("Config watcher started", "path", w.path)
	}
	return nil
}

// Stop stops watching and waits for the watch loop to exit.
func (w *ConfigWatcher) Stop() error {
	w.mutex.Lock()
	if !w.running {
		w.mutex.Unlock()
		return ErrWatcherNotRunning
	}
	cancel := w.cancel
	watcher := w.watcher
	done := w.done
	w.running = false
	w.mutex.Unlock()

	cancel()
	watcher.Close()
	<-done

	if w.logger != nil {
		w.logger.Info("Config watcher stopped", "path", w.path)
	}
	return nil
}

func (w *ConfigWatcher) run(ctx context.Context) {
	defer close(w.done)

	base := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Error("Config watcher error", "path", w.path, "error", err)
			}
		}
	}
}

// reload re-loads the file and fans the new config out. A file that fails
// to parse leaves the previous config in effect.
func (w *ConfigWatcher) reload(ctx context.Context) {
	cfg, err := LoadCoreConfig(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Error("Config reload failed, keeping previous config", "path", w.path, "error", err)
		}
		return
	}

	w.mutex.Lock()
	onReload := w.onReload
	subject := w.subject
	w.mutex.Unlock()

	if onReload != nil {
		onReload(cfg)
	}
	if subject != nil {
		event := NewCloudEvent(EventTypeConfigReloaded, "config-watcher", map[string]interface{}{
			"path": w.path,
		}, nil)
		if err := subject.NotifyObservers(ctx, event); err != nil && w.logger != nil {
			w.logger.Debug("Failed to notify observers", "eventType", EventTypeConfigReloaded, "error", err)
		}
	}

	if w.logger != nil {
		w.logger.Info("Config reloaded", "path", w.path)
	}
}
