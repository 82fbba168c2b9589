// Package watch imports tabular files as they land in a directory.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tabflow/tabflow/internal/pool"
	"github.com/tabflow/tabflow/pkg/parser"
)

// Importer is what the watcher drives; satisfied by importer.Importer.
type Importer interface {
	ImportFile(ctx context.Context, path string) error
}

// ImportFunc adapts a function to the Importer interface.
type ImportFunc func(ctx context.Context, path string) error

func (f ImportFunc) ImportFile(ctx context.Context, path string) error { return f(ctx, path) }

// Watcher monitors one directory and imports every supported file
// written into it. Writes are debounced so a file being copied in is
// only imported after it settles.
type Watcher struct {
	dir      string
	debounce time.Duration
	imp      Importer
	log      *slog.Logger
	workers  *pool.Pool

	// DeleteAfter removes files that imported without error.
	DeleteAfter bool

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    map[string]bool
}

// New creates a watcher over dir. debounce of zero means 500ms.
func New(dir string, debounce time.Duration, imp Importer, log *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		imp:      imp,
		log:      log,
		workers:  pool.New(2, 8),
		pending:  make(map[string]*time.Timer),
		done:     make(map[string]bool),
	}
}

// Run watches until the context is canceled. Files already present in
// the directory are imported first.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	defer w.workers.Close()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// schedule arms or re-arms the debounce timer for one path. Each write
// event pushes the import further out until the file stops changing.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if parser.DetectFormat(path) == parser.FormatUnknown {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done[path] {
		return
	}
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		_ = w.workers.Submit(func() { w.importOne(ctx, path) })
	})
}

func (w *Watcher) importOne(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	err := w.imp.ImportFile(ctx, path)
	if err != nil {
		w.log.Error("watched import failed", "path", path, "error", err)
		return
	}

	w.mu.Lock()
	w.done[path] = true
	w.mu.Unlock()

	if w.DeleteAfter {
		if err := os.Remove(path); err != nil {
			w.log.Warn("cleanup failed", "path", path, "error", err)
		}
	}
}
