package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches group.yaml files for external edits (an operator
// hand-editing settings or the automation ruleset) and invokes onChange
// with the group_id whose file changed. The daemon decides what to do
// with that signal (typically: reload the document and diff it against
// the live projection, emitting settings_update/automation_update events
// for anything that actually changed).
type Watcher struct {
	fsw *fsnotify.Watcher
}

// NewWatcher starts watching runtimeHome/groups for group.yaml writes.
func NewWatcher() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{fsw: fsw}, nil
}

// WatchGroup adds groupID's directory to the watch set. Safe to call
// repeatedly for the same group (fsnotify de-duplicates).
func (w *Watcher) WatchGroup(runtimeHome, groupID string) error {
	return w.fsw.Add(groupDocPathDir(runtimeHome, groupID))
}

func groupDocPathDir(runtimeHome, groupID string) string {
	return filepath.Dir(groupDocPath(runtimeHome, groupID))
}

// Run consumes fsnotify events until ctx-like stop via Close, calling
// onChange(groupID) whenever a group.yaml write or rename is observed.
// Errors from the underlying watcher are logged, never fatal: a missed
// hot-reload signal just means the operator's edit is picked up on the
// next daemon restart instead.
func (w *Watcher) Run(onChange func(groupID string)) {
	for {
		select {
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			groupID := groupIDFromWatchPath(evt.Name)
			if groupID != "" {
				onChange(groupID)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "err", err)
		}
	}
}

func groupIDFromWatchPath(path string) string {
	// path looks like .../groups/<group_id>/group.yaml
	const marker = "group.yaml"
	if len(path) < len(marker) || path[len(path)-len(marker):] != marker {
		return ""
	}
	dir := path[:len(path)-len(marker)-1]
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == '/' {
			return dir[i+1:]
		}
	}
	return dir
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
