// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package policy

import (
	"github.com/fsnotify/fsnotify"
)

// Watcher watches the primary policy file and its include directory
// for changes and invokes onChange when one is observed. It never
// hot-swaps the in-memory Set used by the current session — the
// lifecycle: a Policy Set is loaded once
// on startup ... discarded on exit" — it only reports the change to
// onChange (the program records it as an audit event); the operator
// is not warned on the terminal.
type Watcher struct {
	fsw *fsnotify.Watcher
}

// NewWatcher starts watching primaryPath and includeDir (if non-empty).
// onChange is invoked (from a background goroutine) once per observed
// write/create/remove/rename event, with the path that changed.
func NewWatcher(primaryPath, includeDir string, onChange func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(primaryPath); err != nil {
		// The primary file not existing yet is not fatal to watching;
		// PS itself already treats a missing primary file as fatal at
		// load time, so by the time a Watcher is constructed the file
		// is known to exist in the common case.
		_ = err
	}
	if includeDir != "" {
		_ = fsw.Add(includeDir)
	}

	w := &Watcher{fsw: fsw}
	go func() {
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					onChange(ev.Name)
				}
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w == nil || w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}
