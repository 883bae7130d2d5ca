package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-reads the configuration file when it changes on disk and
// hands the parsed result to registered callbacks. It watches the
// containing directory because editors commonly replace files via
// rename, which drops a watch placed on the file itself.
type Watcher struct {
	fsw      *fsnotify.Watcher
	loader   *Loader
	path     string
	logger   *zap.Logger
	debounce time.Duration

	mu        sync.Mutex
	callbacks []func(*Config)
	timer     *time.Timer
	current   *Config
	lastSum   uint64
}

// NewWatcher creates a watcher for the config file at path. The file is
// loaded once up front; an unreadable or invalid file is an error here,
// while later reload failures only log and keep the previous config.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		loader:   NewLoader(),
		path:     path,
		logger:   logger,
		debounce: 500 * time.Millisecond,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := w.loader.Parse(data)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	w.current = cfg
	w.lastSum = xxhash.Sum64(data)

	return w, nil
}

// OnChange registers a callback invoked with each successfully reloaded
// config. Register callbacks before Start.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// SetDebounce adjusts the quiet period applied to bursts of file
// events. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching the config file's directory.
func (w *Watcher) Start() error {
	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.watch()
	return nil
}

func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.debounce, w.reload)
			w.mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watch error", zap.Error(err))
		}
	}
}

// reload parses the file and notifies callbacks. Saves that leave the
// bytes unchanged are skipped, and a file that fails to parse keeps the
// previous config in effect.
func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Error("config reload failed",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	sum := xxhash.Sum64(data)

	w.mu.Lock()
	if sum == w.lastSum {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	cfg, err := w.loader.Parse(data)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	w.mu.Lock()
	w.lastSum = sum
	w.current = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("configuration file changed", zap.String("path", w.path))
	for _, cb := range callbacks {
		cb(cfg)
	}
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops watching. Registered callbacks are not invoked afterwards.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
