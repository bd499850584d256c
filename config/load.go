package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/phaser-robotics/xerocore/logging"
	"github.com/phaser-robotics/xerocore/utils"
)

func readFile(path string) (map[string]interface{}, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading settings file %q", path)
	}
	values := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrapf(err, "parsing settings file %q", path)
	}
	return values, nil
}

// Load reads a YAML settings file into a new store.
func Load(path string) (*Store, error) {
	values, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return NewStore(values), nil
}

// Reload replaces the store contents with the file at path. On error the store is unchanged.
func (s *Store) Reload(path string) error {
	values, err := readFile(path)
	if err != nil {
		return err
	}
	s.Replace(values)
	return nil
}

// Watch reloads the store whenever the settings file at path is written. The directory is
// watched rather than the file so editors that save by rename are picked up. Stop the returned
// workers to end the watch.
func Watch(path string, store *Store, logger logging.Logger) (utils.StoppableWorkers, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating settings watcher")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, multiClose(err, watcher)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return nil, multiClose(errors.Wrapf(err, "watching %q", path), watcher)
	}

	return utils.NewStoppableWorkers(func(ctx context.Context) {
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warnw("closing settings watcher", "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := store.Reload(absPath); err != nil {
					logger.Warnw("settings reload failed, keeping previous values", "path", absPath, "error", err)
					continue
				}
				logger.Infow("settings reloaded", "path", absPath)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnw("settings watcher error", "error", err)
			}
		}
	}), nil
}

func multiClose(err error, watcher *fsnotify.Watcher) error {
	return multierr.Combine(err, watcher.Close())
}
