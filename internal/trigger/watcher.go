// Package trigger starts imports: a filesystem watcher reacts to files
// dropped into the inbox, and a cron scheduler sweeps the inbox on a fixed
// schedule to catch anything the watcher missed.
package trigger

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HandleFunc receives the path of a file that is ready to import.
type HandleFunc func(ctx context.Context, path string)

// debounceWindow is how long a file must stay quiet after its last write
// before it is handed off. Uploads arrive as many small write events.
const debounceWindow = 2 * time.Second

var watchedExtensions = map[string]bool{
	".csv":  true,
	".tsv":  true,
	".txt":  true,
	".xlsx": true,
	".xls":  true,
}

// Watcher reacts to files created or written in the inbox directory.
type Watcher struct {
	dir    string
	handle HandleFunc
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	fsw     *fsnotify.Watcher
	done    chan struct{}
}

func NewWatcher(dir string, handle HandleFunc, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:     dir,
		handle:  handle,
		logger:  logger.With(slog.String("component", "watcher")),
		pending: make(map[string]*time.Timer),
	}
}

// Start begins watching the inbox. It returns once the underlying watch is
// registered; events are processed on a background goroutine until the
// context is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw
	w.done = make(chan struct{})

	go w.loop(ctx)

	w.logger.InfoContext(ctx, "watching inbox", slog.String("dir", w.dir))
	return nil
}

// Stop ends the watch and cancels pending debounce timers.
func (w *Watcher) Stop() {
	if w.fsw == nil {
		return
	}
	w.fsw.Close()
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !watchedExtensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.ErrorContext(ctx, "watch error", slog.Any("error", err))
		}
	}
}

// schedule arms (or re-arms) the debounce timer for a path. The handler
// fires only after the file has been quiet for the full window.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(debounceWindow)
		return
	}
	w.pending[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.logger.InfoContext(ctx, "file ready", slog.String("path", path))
		w.handle(ctx, path)
	})
}
