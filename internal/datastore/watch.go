package datastore

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"harvest/internal/faults"
	"harvest/internal/logging"
)

// Watch reports identifiers of items published into the store, including by
// other processes, until ctx is cancelled. Publishing is a rename, which the
// watcher sees as a create event for the final directory name.
func (s *Store) Watch(ctx context.Context, fn func(id string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return faults.Wrap(faults.ErrIO, component, "watch", "create file watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.root); err != nil {
		return faults.Wrap(faults.ErrIO, component, "watch", "watch store directory", err)
	}
	s.logger.Debug("watching store directory", logging.String("path", s.root))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, ".") || !validID(name) {
				continue
			}
			fn(name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(s.logger, "store watcher error", "store_watch_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check inotify limits"),
				logging.String(logging.FieldImpact, "some item notifications may be missed"),
			)
		}
	}
}
