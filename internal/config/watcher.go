package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Editors often fire several events for one save; wait this long after the
// last event before reloading.
const reloadDebounce = 100 * time.Millisecond

// ReloadHook is called after a successful hot-reload with the previous and
// freshly loaded config. Hooks let the daemon apply tunables (log level,
// pool cooldown settings) without a restart.
type ReloadHook func(old, new *Config)

// Watcher reloads the keygate config whenever its file changes on disk.
// A reload that fails to load or validate keeps the previous config.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	filePath  string

	mu    sync.Mutex
	hooks []ReloadHook

	done chan struct{}
}

// Watch starts watching the given config file. The directory is watched
// rather than the file itself: atomic saves (write tmp + rename) swap the
// inode, and a file-level watch would go stale after the first save.
func Watch(filePath string) (*Watcher, error) {
	if filePath == "" {
		return nil, fmt.Errorf("config watcher: file path must not be empty")
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("config watcher: resolving path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: creating fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config watcher: watching directory %s: %w", dir, err)
	}

	w := &Watcher{
		fsWatcher: fsw,
		filePath:  absPath,
		done:      make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// OnChange registers a hook invoked after each successful reload. Safe to
// call from multiple goroutines.
func (w *Watcher) OnChange(fn ReloadHook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks = append(w.hooks, fn)
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) run() {
	var timer *time.Timer

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.filePath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, w.reload)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("file", w.filePath).Msg("config watcher error")
		}
	}
}

// reload re-loads and validates the config file, swaps the global pointer,
// and notifies hooks. Hook panics are contained so a misbehaving consumer
// cannot kill the watcher goroutine.
func (w *Watcher) reload() {
	old := Get()

	newCfg, err := Load(w.filePath)
	if err != nil {
		log.Warn().Err(err).Str("file", w.filePath).Msg("config reload failed; keeping previous config")
		return
	}

	log.Info().Str("file", w.filePath).Msg("config reloaded")

	w.mu.Lock()
	hooks := make([]ReloadHook, len(w.hooks))
	copy(hooks, w.hooks)
	w.mu.Unlock()

	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("config reload hook panicked")
				}
			}()
			hook(old, newCfg)
		}()
	}
}
