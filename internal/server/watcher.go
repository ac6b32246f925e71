package server

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches a catalog override directory and triggers a reload when a
// locale file changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	rootDir  string
	onReload func(filePath string) error
	done     chan bool
	logger   *zap.Logger
}

// NewWatcher creates a new file watcher for the given directory.
func NewWatcher(rootDir string, onReload func(string) error, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsWatcher,
		rootDir:  rootDir,
		onReload: onReload,
		done:     make(chan bool),
		logger:   logger,
	}

	if err := w.addDirectoryRecursive(rootDir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return w, nil
}

// addDirectoryRecursive adds a directory and all its subdirectories to the watcher.
func (w *Watcher) addDirectoryRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip hidden directories like .git
		if info.IsDir() {
			if path != dir && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}

			if err := w.watcher.Add(path); err != nil {
				return err
			}
			w.logger.Debug("watching directory", zap.String("path", path))
		}

		return nil
	})
}

// isLocaleFile reports whether name is a catalog file.
func isLocaleFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Start begins watching for file changes.
func (w *Watcher) Start() {
	go func() {
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}

				// Editors save by write, create or rename-over; a removed
				// file drops its overrides.
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if !isLocaleFile(event.Name) {
					continue
				}

				relPath, err := filepath.Rel(w.rootDir, event.Name)
				if err != nil {
					relPath = event.Name
				}
				w.logger.Debug("catalog file changed", zap.String("file", relPath), zap.String("op", event.Op.String()))

				if err := w.onReload(relPath); err != nil {
					w.logger.Warn("catalog reload failed", zap.String("file", relPath), zap.Error(err))
				}

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watch error", zap.Error(err))

			case <-w.done:
				return
			}
		}
	}()
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}
