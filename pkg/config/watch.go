package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch invokes fn whenever one of the watched documents changes.
// Events are debounced so editors that write in several steps trigger a
// single reload. Watch returns after installing the watcher; it stops
// when ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, paths []string, fn func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.log.WithError(err).Warnf("cannot watch %s", path)
			continue
		}
		// Watch the containing directory so rename-based saves are seen.
		target := path
		if !info.IsDir() {
			target = filepath.Dir(path)
		}
		if err := watcher.Add(target); err != nil {
			l.log.WithError(err).Warnf("cannot watch %s", target)
		}
	}

	go l.processEvents(ctx, watcher, fn)
	l.log.Infof("watching %d document paths", len(paths))
	return nil
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, fn func() error) {
	const debounce = 500 * time.Millisecond
	var timer *time.Timer

	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !isDocument(event.Name) {
				continue
			}
			l.log.Debugf("document changed: %s (%s)", event.Name, event.Op)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := fn(); err != nil {
					l.log.WithError(err).Error("document reload failed")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.log.WithError(err).Error("document watcher error")
		}
	}
}

func isDocument(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".cue":
		return true
	}
	return false
}
