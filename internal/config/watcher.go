package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// FileWatcher reloads the config file when it changes on disk.
//
// The parent directory is watched rather than the file, since editors and
// Save replace the file by rename and a watch on the old inode goes quiet.
type FileWatcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	onReload func(*Config)
	onError  func(error)
}

// NewFileWatcher watches path. onReload receives every config that loads
// and validates; onError (optional) receives the ones that don't, in which
// case the caller should keep its previous config.
func NewFileWatcher(path string, onReload func(*Config), onError func(error)) (*FileWatcher, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &FileWatcher{
		path:     path,
		debounce: DefaultDebounce,
		watcher:  w,
		onReload: onReload,
		onError:  onError,
	}, nil
}

// Run delivers reloads until ctx is done, then closes the watcher.
func (w *FileWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.reload()
			})
			mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			configLog.Warn("config_watcher_error", slog.String("error", err.Error()))
		}
	}
}

func (w *FileWatcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		configLog.Warn("config_reload_failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	configLog.Info("config_reloaded", slog.String("path", w.path))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
