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

package loop

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// SnapshotBackend checkpoints a working directory using a copy-on-write
// filesystem snapshot primitive (Btrfs subvolumes). Create takes a
// read-only snapshot at a sibling path; Restore deletes the current
// subvolume and re-snapshots the checkpoint writable into the same
// path, giving O(constant) space up front.
type SnapshotBackend struct {
	// SnapshotRoot overrides where sibling snapshot roots are created;
	// defaults to "<work-dir-parent>/.daedalos-snapshots" when empty.
	SnapshotRoot string
}

type snapshotMetadata struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	SourcePath string    `json:"source_path"`
	CreatedAt  time.Time `json:"created_at"`
}

func (b *SnapshotBackend) Tag() BackendTag { return BackendSnapshot }

// Available reports whether workDir lives on a Btrfs filesystem that
// supports subvolume snapshots; detected via `btrfs subvolume show`.
func (b *SnapshotBackend) Available(workDir string) bool {
	if _, err := exec.LookPath("btrfs"); err != nil {
		return false
	}
	cmd := exec.Command("btrfs", "subvolume", "show", workDir)
	return cmd.Run() == nil
}

func (b *SnapshotBackend) root(workDir string) string {
	if b.SnapshotRoot != "" {
		return b.SnapshotRoot
	}
	return filepath.Join(filepath.Dir(workDir), ".daedalos-snapshots")
}

func (b *SnapshotBackend) Create(workDir, label string) (Checkpoint, error) {
	root := b.root(workDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: create snapshot root: %v", ErrCheckpointBackend, err)
	}
	id := newCheckpointID()
	dest := filepath.Join(root, id)
	cmd := exec.Command("btrfs", "subvolume", "snapshot", "-r", workDir, dest)
	if out, err := cmd.CombinedOutput(); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: btrfs snapshot: %v: %s", ErrCheckpointBackend, err, out)
	}

	meta := snapshotMetadata{ID: id, Label: label, SourcePath: workDir, CreatedAt: time.Now()}
	data, _ := json.MarshalIndent(meta, "", "  ")
	_ = os.WriteFile(filepath.Join(dest, "metadata.json"), data, 0o644)

	return Checkpoint{
		ID: id, Label: label, CreatedAt: meta.CreatedAt,
		SourcePath: workDir, Locator: dest, Backend: BackendSnapshot,
	}, nil
}

func (b *SnapshotBackend) Restore(cp Checkpoint) error {
	if !b.Exists(cp) {
		return fmt.Errorf("%w: snapshot %s missing", ErrCheckpointBackend, cp.Locator)
	}
	if out, err := exec.Command("btrfs", "subvolume", "delete", cp.SourcePath).CombinedOutput(); err != nil {
		return fmt.Errorf("%w: delete current subvolume: %v: %s", ErrCheckpointBackend, err, out)
	}
	if out, err := exec.Command("btrfs", "subvolume", "snapshot", cp.Locator, cp.SourcePath).CombinedOutput(); err != nil {
		return fmt.Errorf("%w: re-snapshot writable: %v: %s", ErrCheckpointBackend, err, out)
	}
	return nil
}

func (b *SnapshotBackend) List(workDir string) ([]Checkpoint, error) {
	root := b.root(workDir)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list snapshots: %v", ErrCheckpointBackend, err)
	}
	var cps []Checkpoint
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dest := filepath.Join(root, e.Name())
		data, err := os.ReadFile(filepath.Join(dest, "metadata.json"))
		if err != nil {
			continue
		}
		var meta snapshotMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		cps = append(cps, Checkpoint{
			ID: meta.ID, Label: meta.Label, CreatedAt: meta.CreatedAt,
			SourcePath: meta.SourcePath, Locator: dest, Backend: BackendSnapshot,
		})
	}
	return cps, nil
}

func (b *SnapshotBackend) Delete(cp Checkpoint) error {
	if out, err := exec.Command("btrfs", "subvolume", "delete", cp.Locator).CombinedOutput(); err != nil {
		return fmt.Errorf("%w: delete snapshot: %v: %s", ErrCheckpointBackend, err, out)
	}
	return nil
}

func (b *SnapshotBackend) Exists(cp Checkpoint) bool {
	_, err := os.Stat(cp.Locator)
	return err == nil
}

// NoneBackend is the no-op backend: Create succeeds trivially but
// Restore always fails: a backend that tracks nothing can never
// report a checkpoint as restorable.
type NoneBackend struct{}

func (b *NoneBackend) Tag() BackendTag                           { return BackendNone }
func (b *NoneBackend) Available(workDir string) bool             { return true }
func (b *NoneBackend) List(workDir string) ([]Checkpoint, error) { return nil, nil }
func (b *NoneBackend) Delete(cp Checkpoint) error                { return nil }
func (b *NoneBackend) Exists(cp Checkpoint) bool                 { return false }

func (b *NoneBackend) Create(workDir, label string) (Checkpoint, error) {
	return Checkpoint{ID: newCheckpointID(), Label: label, CreatedAt: time.Now(), SourcePath: workDir, Backend: BackendNone}, nil
}

func (b *NoneBackend) Restore(cp Checkpoint) error {
	return fmt.Errorf("%w: none backend cannot restore", ErrCheckpointBackend)
}
