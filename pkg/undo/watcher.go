// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package undo implements the undo daemon: a debounced file-change
// recorder that builds a content-addressed backup store and a
// restorable timeline, served over a Unix socket and a loopback-only
// HTTP status page.
package undo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/daedalos/daedalos/pkg/backupstore"
)

// debounceWindow coalesces bursts of events on the same path into one
// timeline entry: an event arriving within the window resets the
// path's timer; only the latest-observed event survives it.
const debounceWindow = 500 * time.Millisecond

// Watcher wires fsnotify events for one or more watched roots into
// backupstore.Store.RecordChange, debounced per path.
type Watcher struct {
	Store   *backupstore.Store
	Project string

	fsw *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher creates an fsnotify-backed Watcher over store.
func NewWatcher(store *backupstore.Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{Store: store, fsw: fsw, timers: make(map[string]*time.Timer)}, nil
}

// Add registers a directory tree to watch. fsnotify is not recursive,
// so callers must Add every subdirectory they care about; the undo
// daemon does this once at startup by walking the project root.
func (w *Watcher) Add(dir string) error {
	return w.fsw.Add(dir)
}

// Run processes fsnotify events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("undo: watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	changeType := classifyEvent(ev)
	if changeType == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[ev.Name]; ok {
		t.Stop()
	}
	w.timers[ev.Name] = time.AfterFunc(debounceWindow, func() {
		w.Store.RecordChange(ev.Name, changeType, "")
		w.mu.Lock()
		delete(w.timers, ev.Name)
		w.mu.Unlock()
	})
}

func classifyEvent(ev fsnotify.Event) backupstore.ChangeType {
	switch {
	case ev.Has(fsnotify.Create):
		return backupstore.ChangeCreate
	case ev.Has(fsnotify.Write):
		return backupstore.ChangeEdit
	case ev.Has(fsnotify.Remove):
		return backupstore.ChangeDelete
	case ev.Has(fsnotify.Rename):
		return backupstore.ChangeRename
	default:
		return ""
	}
}
