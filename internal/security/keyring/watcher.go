package keyring

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/nkiryanov/fiscalos/internal/logger"
)

// Watcher reloads ring whenever its options file changes
type Watcher struct {
	ring   *Ring
	path   string
	logger logger.Logger
}

func NewWatcher(ring *Ring, optionsPath string, l logger.Logger) (*Watcher, error) {
	path, err := filepath.Abs(optionsPath)
	if err != nil {
		return nil, fmt.Errorf("error while resolving key ring options path. Err: %w", err)
	}

	return &Watcher{
		ring:   ring,
		path:   path,
		logger: l.With("path", path),
	}, nil
}

// Reload reads options file and reloads ring
func (w *Watcher) Reload(ctx context.Context) error {
	opts, err := LoadOptions(w.path)
	if err != nil {
		return err
	}
	return w.ring.Reload(ctx, opts)
}

// Run blocks until ctx is done.
// The parent directory is watched: editors and SaveOptions replace the file by rename.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error while creating file watcher. Err: %w", err)
	}
	defer fw.Close() // nolint:errcheck

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("error while watching key ring options. Err: %w", err)
	}

	w.logger.Debug("watching key ring options")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if err := w.Reload(ctx); err != nil {
				w.logger.Error("key ring reload failed, previous keys stay in use", "error", err)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("key ring watcher error", "error", err)
		}
	}
}
