package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry whenever the file at path changes. It
// watches the parent directory so editors that replace the file by
// rename are picked up. It blocks until the context is cancelled.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving providers file: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching providers file: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != abs {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				r.reloadFile(abs)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			// Non-fatal; the registry keeps its current instances.
			r.logger.Warn("providers watcher error", slog.String("error", err.Error()))
		}
	}
}

func (r *Registry) reloadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		r.logger.Warn("reading providers file", slog.String("error", err.Error()))
		return
	}

	if err := r.Reload(data); err != nil {
		r.logger.Warn("providers file rejected, keeping previous instances",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
