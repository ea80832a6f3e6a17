package registry

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry whenever a configuration file under the
// given paths changes. The rebuilt agent set is swapped in whole; a
// reload that fails to parse leaves the current set untouched and is
// reported through onError. Watch blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context, paths []string, onReload func(agents int), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := watcher.Add(path); err != nil && onError != nil {
			onError(err)
		}
	}

	// Coalesce bursts of events (editors write + rename) into one reload.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".toml") {
				continue
			}
			pending = time.After(200 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}

		case <-pending:
			pending = nil
			configs, err := Load(paths...)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if err := r.Replace(configs); err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(len(configs))
			}
		}
	}
}
