package plugin

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the plugins directory: a manifest appearing in a
// subdirectory auto-installs the plugin, a removed subdirectory
// uninstalls it. Plugin directories are named after the plugin id.
// Failures are logged and do not stop the watch.
type Watcher struct {
	manager    *Manager
	pluginsDir string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching the plugins directory. The directory is
// created if missing.
func NewWatcher(manager *Manager, pluginsDir string) (*Watcher, error) {
	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(pluginsDir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		manager:    manager,
		pluginsDir: pluginsDir,
		watcher:    fsw,
		done:       make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

// watch installs plugins as their manifests land on disk. A new plugin
// directory and a manifest written into an existing one both trigger an
// install attempt.
func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Remove != 0 {
				if filepath.Dir(event.Name) == w.pluginsDir {
					id := filepath.Base(event.Name)
					if err := w.manager.Uninstall(context.Background(), id); err != nil {
						log.Printf("[plugin] auto-uninstall %s: %v", id, err)
					}
				}
				continue
			}
			if event.Op&fsnotify.Create == 0 && event.Op&fsnotify.Write == 0 {
				continue
			}
			dir := w.candidateDir(event.Name)
			if dir == "" {
				continue
			}
			if _, err := os.Stat(filepath.Join(dir, ManifestFileName)); err != nil {
				continue
			}
			if _, err := w.manager.Install(context.Background(), dir, true); err != nil {
				log.Printf("[plugin] auto-install %s: %v", filepath.Base(dir), err)
			}
		case <-w.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// candidateDir maps a filesystem event onto the plugin directory it may
// belong to, or "" when the event is unrelated.
func (w *Watcher) candidateDir(name string) string {
	if filepath.Base(name) == ManifestFileName {
		return filepath.Dir(name)
	}
	info, err := os.Stat(name)
	if err != nil || !info.IsDir() {
		return ""
	}
	if filepath.Dir(name) != w.pluginsDir {
		return ""
	}
	return name
}

// Close stops the watch.
func (w *Watcher) Close() {
	close(w.done)
	w.watcher.Close()
}
