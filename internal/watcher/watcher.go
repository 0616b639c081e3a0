// Package watcher re-syncs notes as they change on disk, using fsnotify with
// per-path debouncing.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Handler applies changes to the collection. Calls never overlap.
type Handler interface {
	// Index re-chunks and syncs the note at path.
	Index(ctx context.Context, path string) error
	// Remove deletes the stored chunks of the note that was at path.
	Remove(ctx context.Context, path string) error
}

// Watcher watches a vault root and forwards settled file changes to a Handler.
type Watcher struct {
	root      string
	handler   Handler
	recursive bool
	accept    func(path string) bool
	debounce  time.Duration
	logger    *zap.Logger

	fsw    *fsnotify.Watcher
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	ready  chan struct{}
	wg     sync.WaitGroup
	// syncMu serializes handler calls so at most one sync runs at a time.
	syncMu sync.Mutex
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output (directory changes, file events, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a path must stay quiet before it is handled.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRecursive controls whether subdirectories are watched (default true).
func WithRecursive(recursive bool) Option {
	return func(w *Watcher) { w.recursive = recursive }
}

// WithFilter restricts handled files to those accept returns true for.
// The path may no longer exist when accept is called.
func WithFilter(accept func(path string) bool) Option {
	return func(w *Watcher) { w.accept = accept }
}

// New creates a watcher for root.
func New(root string, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		root:      filepath.Clean(root),
		handler:   handler,
		recursive: true,
		accept:    func(string) bool { return true },
		debounce:  defaultDebounce,
		logger:    zap.NewNop(),
		timers:    make(map[string]*time.Timer),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. Pending changes are dropped on exit;
// a handler call already in progress is waited for.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	defer w.shutdown()

	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watching vault",
		zap.String("root", w.root),
		zap.Bool("recursive", w.recursive),
		zap.Duration("debounce", w.debounce))
	close(w.ready)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.closed = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	_ = w.fsw.Close()
	w.wg.Wait()
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !inDir(w.root, path) || hidden(w.root, path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(ctx, path)
			return
		}
	}
	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if w.accept(path) {
			w.schedule(ctx, path)
		}
	}
}

// handleNewDirectory watches a directory that was created or moved in and
// schedules the notes already inside it.
func (w *Watcher) handleNewDirectory(ctx context.Context, dir string) {
	if !w.recursive {
		return
	}
	if err := w.addTree(dir); err != nil {
		w.logger.Warn("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && hidden(w.root, path) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.accept(path) {
			w.schedule(ctx, path)
		}
		return nil
	})
}

// addTree watches dir and, when recursive, every non-hidden directory below it.
func (w *Watcher) addTree(dir string) error {
	if !w.recursive {
		return w.fsw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && hidden(w.root, path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		w.logger.Debug("watcher added directory", zap.String("path", path))
		return nil
	})
}

// schedule (re)starts the debounce timer for path. When it fires, the file is
// indexed if it still exists and removed otherwise.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		delete(w.timers, path)
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()
		w.dispatch(ctx, path)
	})
}

func (w *Watcher) dispatch(ctx context.Context, path string) {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()
	if ctx.Err() != nil {
		return
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && info.Mode().IsRegular():
		w.logger.Debug("watcher indexing file", zap.String("path", path))
		err = w.handler.Index(ctx, path)
	case err == nil:
		return
	case errors.Is(err, fs.ErrNotExist):
		w.logger.Debug("watcher removing file", zap.String("path", path))
		err = w.handler.Remove(ctx, path)
	}
	if err != nil {
		w.logger.Warn("watcher sync failed", zap.String("path", path), zap.Error(err))
	}
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// hidden reports whether any segment of path below root starts with a dot.
func hidden(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
