package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads configuration when a watched file changes. Stop must be
// called to release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

const watchDebounce = 25 * time.Millisecond

// Watch observes the loader's files and calls onChange with each freshly
// loaded configuration. Loads that fail validation go to onError and the
// previous configuration stays in effect.
func (l *Loader) Watch(ctx context.Context, onChange func(Config), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("config: watch requires a change callback")
	}
	files := l.Files()
	if len(files) == 0 {
		return nil, errors.New("config: no config file to watch")
	}
	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}

	targets := make(map[string]struct{}, len(files))
	dirs := make(map[string]struct{}, len(files))
	for _, path := range files {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("config: resolve %s: %w", path, err)
		}
		abs = filepath.Clean(abs)
		targets[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	// Directories are watched rather than files so editors that replace the
	// file on save keep triggering events.
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			if closeErr := watcher.Close(); closeErr != nil {
				report(fmt.Errorf("config: watch close: %w", closeErr))
			}
			return nil, fmt.Errorf("config: watch add %s: %w", dir, err)
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil {
				report(fmt.Errorf("config: watch close: %w", err))
			}
		}()

		reload := func() {
			cfg, err := l.Load(watchCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				report(err)
				return
			}
			onChange(cfg)
		}

		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(watchDebounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(watchDebounce)
			}
			reloadSignal = reloadTimer.C
		}
		defer func() {
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
		}()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				reloadSignal = nil
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if _, watched := targets[filepath.Clean(event.Name)]; !watched {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				report(fmt.Errorf("config: watch error: %w", err))
			}
		}
	}()

	return w, nil
}
