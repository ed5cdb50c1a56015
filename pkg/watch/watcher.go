package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher triggers a callback when any of a fixed set of evidence
// files changes. It watches the parent directories rather than the files,
// so files that are replaced by rename, or created after the watch
// started, are still seen.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce *Debouncer

	files map[string]bool
	dirs  []string

	mu      sync.Mutex
	running bool
}

// NewFileWatcher creates a watcher for paths. Paths are cleaned and made
// absolute.
func NewFileWatcher(paths []string, debounce time.Duration, logger *slog.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	files := make(map[string]bool, len(paths))
	dirSet := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %q: %w", p, err)
		}
		files[abs] = true
		dirSet[filepath.Dir(abs)] = true
	}

	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:  watcher,
		logger:   logger.With("component", "watch.files"),
		debounce: NewDebouncer(debounce),
		files:    files,
		dirs:     dirs,
	}, nil
}

// Watch blocks until ctx is cancelled, calling onChange once per burst of
// changes with the path of the last changed file. Directories that do not
// exist yet are skipped with a warning.
func (fw *FileWatcher) Watch(ctx context.Context, onChange func(path string)) error {
	fw.mu.Lock()
	if fw.running {
		fw.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	fw.running = true
	fw.mu.Unlock()

	defer func() {
		fw.debounce.Stop()
		fw.watcher.Close()
		fw.mu.Lock()
		fw.running = false
		fw.mu.Unlock()
	}()

	watched := 0
	for _, dir := range fw.dirs {
		if err := fw.watcher.Add(dir); err != nil {
			fw.logger.Warn("cannot watch evidence directory", "path", dir, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("no evidence directory could be watched")
	}

	fw.logger.Info("watching evidence files",
		"files", len(fw.files),
		"directories", watched,
	)

	for {
		select {
		case <-ctx.Done():
			fw.logger.Info("file watcher stopped")
			return nil

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !fw.relevant(event) {
				continue
			}

			fw.logger.Debug("evidence change detected",
				"path", event.Name,
				"op", event.Op.String(),
			)

			path := event.Name
			fw.debounce.Trigger(func() {
				onChange(path)
			})

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			fw.logger.Error("file watcher error", "error", err)
		}
	}
}

// relevant reports whether event touches a watched evidence file.
func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	return fw.files[filepath.Clean(event.Name)]
}
