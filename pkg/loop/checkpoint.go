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
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BackendTag names a checkpoint backend, used both as the persisted tag
// on a Checkpoint and as the registry key for CheckpointBackend.
type BackendTag string

const (
	BackendSnapshot BackendTag = "snapshot"
	BackendVCS      BackendTag = "vcs-branch"
	BackendNone     BackendTag = "none"
)

// ErrCheckpointBackend wraps recoverable checkpoint-backend failures
// (snapshot/VCS command failed, or the dirty-tree restore refusal).
var ErrCheckpointBackend = errors.New("loop: checkpoint backend error")

// Checkpoint is a restorable point in a working tree's history. Either
// it exists and is restorable, or Exists reports it missing — it is
// never left partially written.
type Checkpoint struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	CreatedAt  time.Time  `json:"created_at"`
	SourcePath string     `json:"source_path"`
	Locator    string     `json:"locator"` // backend-specific: snapshot path or VCS branch name
	Backend    BackendTag `json:"backend"`
}

// CheckpointBackend is the capability interface a checkpoint mechanism
// implements: Create, Restore, List, Delete, Exists — selected at
// runtime by BackendTag.
type CheckpointBackend interface {
	Tag() BackendTag
	Available(workDir string) bool
	Create(workDir, label string) (Checkpoint, error)
	Restore(cp Checkpoint) error
	List(workDir string) ([]Checkpoint, error)
	Delete(cp Checkpoint) error
	Exists(cp Checkpoint) bool
}

// DetectBackend auto-selects a checkpoint backend for workDir: snapshot
// if available, else VCS, else none.
func DetectBackend(workDir string) CheckpointBackend {
	snap := &SnapshotBackend{}
	if snap.Available(workDir) {
		return snap
	}
	vcs := &VCSBackend{}
	if vcs.Available(workDir) {
		return vcs
	}
	return &NoneBackend{}
}

// BackendByTag looks up a backend by its persisted tag, for restoring a
// Checkpoint whose backend may differ from what auto-detection would
// currently choose.
func BackendByTag(tag BackendTag) (CheckpointBackend, error) {
	switch tag {
	case BackendSnapshot:
		return &SnapshotBackend{}, nil
	case BackendVCS:
		return &VCSBackend{}, nil
	case BackendNone:
		return &NoneBackend{}, nil
	default:
		return nil, fmt.Errorf("loop: unknown checkpoint backend %q", tag)
	}
}

func newCheckpointID() string { return uuid.NewString() }

// runGit runs a git subcommand in dir, returning trimmed stdout or a
// wrapped ErrCheckpointBackend including stderr on failure.
func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: git %s: %v: %s", ErrCheckpointBackend, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
