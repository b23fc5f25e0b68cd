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

package undo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"

	"github.com/daedalos/daedalos/pkg/backupstore"
)

func TestWatcherRecordsDebouncedWrite(t *testing.T) {
	dir := t.TempDir()
	storeDir := t.TempDir()

	store, err := backupstore.Open(storeDir, "test-project", 0)
	require.NoError(t, err)
	defer store.Close()

	w, err := NewWatcher(store)
	require.NoError(t, err)
	require.NoError(t, w.Add(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	file := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(file, []byte("v1"), 0o644))

	require.Eventually(t, func() bool {
		entries, err := store.Timeline.List(0, "")
		return err == nil && len(entries) > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestClassifyEventMapsOps(t *testing.T) {
	require.Equal(t, backupstore.ChangeCreate, classifyEvent(fsnotify.Event{Op: fsnotify.Create, Name: "a"}))
	require.Equal(t, backupstore.ChangeEdit, classifyEvent(fsnotify.Event{Op: fsnotify.Write, Name: "a"}))
	require.Equal(t, backupstore.ChangeDelete, classifyEvent(fsnotify.Event{Op: fsnotify.Remove, Name: "a"}))
	require.Equal(t, backupstore.ChangeRename, classifyEvent(fsnotify.Event{Op: fsnotify.Rename, Name: "a"}))
}
