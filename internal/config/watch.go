package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"reagent/internal/logging"
)

// Watcher reloads the config file when it changes on disk and reapplies
// the sections that are safe to change at runtime (currently logging).
type Watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// Watch starts watching path. Each successful reload invokes onReload
// with the fresh config; parse failures keep the previous state. The
// directory is watched rather than the file so editor rename-and-replace
// saves are still seen.
func Watch(path string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching config directory: %w", err)
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{})}
	target := filepath.Clean(path)

	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logging.Get(logging.CategoryBoot).Warnf("config reload failed: %v", err)
					continue
				}
				onReload(cfg)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logging.Get(logging.CategoryBoot).Warnf("config watcher: %v", err)
			}
		}
	}()
	return w, nil
}

// WatchLogging watches path and re-initializes the logging subsystem on
// every change. Used by the CLI so debug logging can be toggled without a
// restart.
func WatchLogging(workspace, path string) (*Watcher, error) {
	return Watch(path, func(cfg *Config) {
		if err := logging.Initialize(workspace, cfg.Logging.Options()); err != nil {
			fmt.Printf("reapplying logging config: %v\n", err)
		}
	})
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
