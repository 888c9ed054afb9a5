package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/logging"
)

// Watcher reloads configuration when one of its files changes and passes the
// result to registered callbacks.
type Watcher struct {
	paths   Paths
	watcher *fsnotify.Watcher
	logger  logging.Logger

	mu        sync.RWMutex
	current   *Config
	callbacks []func(*Config)
}

// NewWatcher creates a watcher for paths seeded with the current config.
func NewWatcher(paths Paths, current *Config, logger logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Watcher{
		paths:   paths,
		current: current,
		logger:  logger,
	}
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback for reloads
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start watches the directories of the config files until ctx is done.
// Directories are watched so editors that replace files are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	watched := 0
	for _, dir := range w.dirs() {
		if err := watcher.Add(dir); err != nil {
			w.logger.Debug("not watching config directory",
				logging.String("dir", dir),
				logging.Err(err),
			)
			continue
		}
		watched++
	}
	if watched == 0 {
		w.logger.Debug("no config directories to watch")
	}

	go w.watchLoop(ctx)
	return nil
}

func (w *Watcher) dirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, path := range []string{w.paths.Global, w.paths.Project, w.paths.Env} {
		if path == "" {
			continue
		}
		dir := filepath.Dir(path)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", logging.Err(err))
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if !w.isConfigFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	w.Reload()
}

func (w *Watcher) isConfigFile(name string) bool {
	clean := filepath.Clean(name)
	for _, path := range []string{w.paths.Global, w.paths.Project, w.paths.Env} {
		if path != "" && filepath.Clean(path) == clean {
			return true
		}
	}
	return false
}

// Reload loads the config files again and notifies callbacks. Invalid files
// keep the previous config.
func (w *Watcher) Reload() {
	cfg, err := LoadFrom(w.paths)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		w.logger.Warn("config reload failed", logging.Err(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("config reloaded")
	for _, cb := range callbacks {
		cb(cfg)
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
