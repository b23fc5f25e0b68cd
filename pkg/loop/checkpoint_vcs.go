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
	"fmt"
	"time"
)

// checkpointBranchPrefix namespaces checkpoint branches away from any
// branch name a caller might be using.
const checkpointBranchPrefix = "daedalos-checkpoint/"

// VCSBackend checkpoints a version-controlled working tree by stashing
// uncommitted changes, branching at HEAD, and restoring the stash.
//
// Restore refuses to touch a dirty working tree and never deletes the
// caller's branch: a force-delete-and-recreate restore can discard
// collaborator or uncommitted work with no confirmation, so this
// backend only resets the current branch to the checkpoint commit.
type VCSBackend struct{}

func (b *VCSBackend) Tag() BackendTag { return BackendVCS }

func (b *VCSBackend) Available(workDir string) bool {
	_, err := runGit(workDir, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

func (b *VCSBackend) Create(workDir, label string) (Checkpoint, error) {
	dirty, err := b.isDirty(workDir)
	if err != nil {
		return Checkpoint{}, err
	}
	if dirty {
		if _, err := runGit(workDir, "stash", "push", "--include-untracked", "-m", "daedalos-checkpoint"); err != nil {
			return Checkpoint{}, err
		}
		defer func() { _, _ = runGit(workDir, "stash", "pop") }()
	}

	head, err := runGit(workDir, "rev-parse", "HEAD")
	if err != nil {
		return Checkpoint{}, err
	}

	id := newCheckpointID()
	branch := checkpointBranchPrefix + id
	if _, err := runGit(workDir, "branch", branch, head); err != nil {
		return Checkpoint{}, err
	}

	return Checkpoint{
		ID:         id,
		Label:      label,
		CreatedAt:  time.Now(),
		SourcePath: workDir,
		Locator:    branch,
		Backend:    BackendVCS,
	}, nil
}

// Restore resets the current branch to the checkpoint commit. It
// refuses if the working tree is dirty, and never deletes or recreates
// the caller's branch — only its tip moves.
func (b *VCSBackend) Restore(cp Checkpoint) error {
	dirty, err := b.isDirty(cp.SourcePath)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("%w: working tree has uncommitted changes; commit, stash, or discard before restoring", ErrCheckpointBackend)
	}
	if !b.Exists(cp) {
		return fmt.Errorf("%w: checkpoint branch %s missing", ErrCheckpointBackend, cp.Locator)
	}
	if _, err := runGit(cp.SourcePath, "reset", "--hard", cp.Locator); err != nil {
		return err
	}
	return nil
}

func (b *VCSBackend) List(workDir string) ([]Checkpoint, error) {
	out, err := runGit(workDir, "branch", "--list", checkpointBranchPrefix+"*")
	if err != nil {
		return nil, err
	}
	var cps []Checkpoint
	for _, line := range splitNonEmptyLines(out) {
		branch := trimBranchMarker(line)
		id := branch[len(checkpointBranchPrefix):]
		cps = append(cps, Checkpoint{ID: id, SourcePath: workDir, Locator: branch, Backend: BackendVCS})
	}
	return cps, nil
}

func (b *VCSBackend) Delete(cp Checkpoint) error {
	_, err := runGit(cp.SourcePath, "branch", "-D", cp.Locator)
	return err
}

func (b *VCSBackend) Exists(cp Checkpoint) bool {
	_, err := runGit(cp.SourcePath, "rev-parse", "--verify", cp.Locator)
	return err == nil
}

func (b *VCSBackend) isDirty(workDir string) (bool, error) {
	out, err := runGit(workDir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func trimBranchMarker(line string) string {
	for len(line) > 0 && (line[0] == ' ' || line[0] == '*') {
		line = line[1:]
	}
	return line
}
