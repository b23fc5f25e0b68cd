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

package backupstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrBlobMissing is returned when a restore is attempted for a timeline
// entry whose backup hash no longer has a blob on disk.
var ErrBlobMissing = errors.New("backupstore: blob missing for restore")

// Store combines a BlobStore and a Timeline into the undo daemon's
// single recording/restoring facade.
type Store struct {
	Blobs    *BlobStore
	Timeline *Timeline
	project  string
}

// Open opens (or creates) a Store rooted at dir, with blobs under
// dir/backups and the timeline database at dir/timeline.db.
func Open(dir, project string, maxBlobBytes int64) (*Store, error) {
	blobs, err := NewBlobStore(filepath.Join(dir, "backups"), maxBlobBytes)
	if err != nil {
		return nil, err
	}
	timeline, err := OpenTimeline(filepath.Join(dir, "timeline.db"))
	if err != nil {
		return nil, err
	}
	return &Store{Blobs: blobs, Timeline: timeline, project: project}, nil
}

// Close releases the timeline database handle.
func (s *Store) Close() error { return s.Timeline.Close() }

// RecordChange reads path's current contents (if it still exists) and
// appends a timeline entry, storing a deduplicated blob for edits and
// creates. Failures reading the file (permission error, file vanished
// between the watch event and this call) are swallowed: this path
// serves observability, not correctness, and must never block the
// edit that triggered it.
func (s *Store) RecordChange(path string, changeType ChangeType, description string) {
	entry := Entry{
		ChangeType:  changeType,
		Path:        path,
		Description: description,
		Project:     s.project,
	}

	if changeType != ChangeDelete {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("backupstore: skipping change record, read failed",
				"path", path, "error", err)
			return
		}
		entry.SizeBytes = int64(len(data))
		hash, err := s.Blobs.Put(data)
		if err != nil {
			// Over the size limit or a disk write failure: still record
			// the change, just without a backup blob behind it.
			slog.Warn("backupstore: recording change without a backup blob",
				"path", path, "error", err)
		} else {
			entry.BackupHash = hash
		}
	}

	if _, err := s.Timeline.Append(entry); err != nil {
		slog.Warn("backupstore: failed to append timeline entry", "path", path, "error", err)
	}
}

// Restore copies the blob recorded at timeline entry id back to its
// original path, creating parent directories as needed.
func (s *Store) Restore(id string) error {
	entry, err := s.Timeline.Get(id)
	if err != nil {
		return err
	}
	if entry.BackupHash == "" {
		return fmt.Errorf("timeline entry %s has no backup to restore", id)
	}
	if !s.Blobs.Exists(entry.BackupHash) {
		return fmt.Errorf("%w: entry %s, hash %s", ErrBlobMissing, id, entry.BackupHash)
	}
	data, err := s.Blobs.Get(entry.BackupHash)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(entry.Path), 0o755); err != nil {
		return fmt.Errorf("create restore parent dir: %w", err)
	}
	if err := os.WriteFile(entry.Path, data, 0o644); err != nil {
		return fmt.Errorf("restore %s: %w", entry.Path, err)
	}
	return nil
}

// Prune deletes blobs for every timeline entry older than the
// retainNewest most recent entries, unless the same hash is still
// referenced by one of the retained entries. Left to the "undo prune"
// CLI command to invoke explicitly rather than running implicitly,
// since pruning is destructive and should be an opt-in maintenance
// action.
func (s *Store) Prune(retainNewest int) (deleted int, err error) {
	entries, err := s.Timeline.List(0, "")
	if err != nil {
		return 0, err
	}
	if retainNewest < 0 || retainNewest >= len(entries) {
		return 0, nil
	}
	keep := make(map[string]bool, retainNewest)
	for _, e := range entries[:retainNewest] {
		if e.BackupHash != "" {
			keep[e.BackupHash] = true
		}
	}
	for _, e := range entries[retainNewest:] {
		if e.BackupHash == "" || keep[e.BackupHash] {
			continue
		}
		if err := s.Blobs.Delete(e.BackupHash); err != nil {
			slog.Warn("backupstore: prune failed to delete blob", "hash", e.BackupHash, "error", err)
			continue
		}
		keep[e.BackupHash] = true // avoid double-delete if two entries share a hash
		deleted++
	}
	return deleted, nil
}
