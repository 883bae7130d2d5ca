// Package watch feeds filesystem activity under the configured roots
// into the document lifecycle: existing and created files open, writes
// save, removals close. Events that did not change file content are
// suppressed by hashing.
package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wudi/speclint/config"
)

// Handler receives document lifecycle triggers from the filesystem.
// *validator.Orchestrator satisfies it.
type Handler interface {
	DocumentOpened(id, text string)
	DocumentSaved(id, text string)
	DocumentClosed(id string)
}

var (
	defaultExtensions = []string{".yaml", ".yml", ".json"}
	defaultIgnoreDirs = []string{".git", "node_modules", "vendor"}
)

// Watcher mirrors a workspace tree into open/save/close triggers.
type Watcher struct {
	fsw     *fsnotify.Watcher
	handler Handler
	logger  *zap.Logger
	roots   []string

	extensions map[string]bool
	ignoreDirs map[string]bool
	exclude    []string

	mu     sync.Mutex
	hashes map[string]uint64 // path -> xxhash of last seen content

	wg sync.WaitGroup

	opened    atomic.Int64
	saved     atomic.Int64
	closed    atomic.Int64
	unchanged atomic.Int64
}

// New creates a watcher over the configured roots. Start begins
// delivery.
func New(cfg config.WatchConfig, handler Handler, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	extensions := cfg.Extensions
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}
	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extSet[ext] = true
	}

	ignore := cfg.IgnoreDirs
	if len(ignore) == 0 {
		ignore = defaultIgnoreDirs
	}
	ignoreSet := make(map[string]bool, len(ignore))
	for _, dir := range ignore {
		ignoreSet[dir] = true
	}

	return &Watcher{
		fsw:        fsw,
		handler:    handler,
		logger:     logger,
		roots:      cfg.Paths,
		extensions: extSet,
		ignoreDirs: ignoreSet,
		exclude:    cfg.Exclude,
		hashes:     make(map[string]uint64),
	}, nil
}

// Start scans the roots, opening every matching file that already
// exists, then begins watching for changes.
func (w *Watcher) Start() error {
	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			return err
		}
	}
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Close stops event delivery and releases the underlying watches.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

// addTree walks a directory, watching every non-ignored subdirectory
// and opening every matching file.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			if path != root && (w.ignoreDirs[d.Name()] || w.excluded(path)) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				w.logger.Warn("cannot watch directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if !w.matches(path) {
			return nil
		}
		text, ok := w.readAndTrack(path)
		if !ok {
			return nil
		}
		w.opened.Add(1)
		w.handler.DocumentOpened(path, text)
		return nil
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	switch {
	case event.Op&fsnotify.Create != 0:
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if w.ignoreDirs[filepath.Base(event.Name)] || w.excluded(event.Name) {
				return
			}
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("cannot watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
		w.fileWritten(event.Name)

	case event.Op&fsnotify.Write != 0:
		w.fileWritten(event.Name)

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.fileGone(event.Name)
	}
}

// fileWritten reads the file and fires a save trigger, unless the
// content hash matches the last delivery for this path.
func (w *Watcher) fileWritten(path string) {
	if !w.matches(path) {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Debug("cannot read changed file", zap.String("path", path), zap.Error(err))
		return
	}
	sum := xxhash.Sum64(data)
	w.mu.Lock()
	prev, seen := w.hashes[path]
	w.hashes[path] = sum
	w.mu.Unlock()
	if seen && prev == sum {
		w.unchanged.Add(1)
		w.logger.Debug("content unchanged, skipping", zap.String("path", path))
		return
	}
	w.saved.Add(1)
	w.handler.DocumentSaved(path, string(data))
}

// fileGone closes the document for path. A vanished directory closes
// everything tracked beneath it, since per-file events are not
// guaranteed in that case.
func (w *Watcher) fileGone(path string) {
	var gone []string
	prefix := path + string(filepath.Separator)
	w.mu.Lock()
	for tracked := range w.hashes {
		if tracked == path || strings.HasPrefix(tracked, prefix) {
			gone = append(gone, tracked)
			delete(w.hashes, tracked)
		}
	}
	w.mu.Unlock()
	for _, p := range gone {
		w.closed.Add(1)
		w.handler.DocumentClosed(p)
	}
}

func (w *Watcher) matches(path string) bool {
	return w.extensions[strings.ToLower(filepath.Ext(path))] && !w.excluded(path)
}

func (w *Watcher) excluded(path string) bool {
	for _, pattern := range w.exclude {
		if matched, _ := doublestar.PathMatch(pattern, path); matched {
			return true
		}
	}
	return false
}

func (w *Watcher) readAndTrack(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Debug("cannot read file", zap.String("path", path), zap.Error(err))
		return "", false
	}
	w.mu.Lock()
	w.hashes[path] = xxhash.Sum64(data)
	w.mu.Unlock()
	return string(data), true
}

// WatchStats is a point-in-time view of watcher counters.
type WatchStats struct {
	Tracked   int   `json:"tracked"`
	Opened    int64 `json:"opened"`
	Saved     int64 `json:"saved"`
	Closed    int64 `json:"closed"`
	Unchanged int64 `json:"unchanged"`
}

func (w *Watcher) Stats() WatchStats {
	w.mu.Lock()
	tracked := len(w.hashes)
	w.mu.Unlock()
	return WatchStats{
		Tracked:   tracked,
		Opened:    w.opened.Load(),
		Saved:     w.saved.Load(),
		Closed:    w.closed.Load(),
		Unchanged: w.unchanged.Load(),
	}
}
