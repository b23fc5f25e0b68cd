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
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCopyTreeSkipsIgnoredTopLevelDirs(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(src, "main.go"), []byte("package main"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "node_modules", "pkg", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".git", "HEAD"), []byte("ref"), 0o644))

	require.NoError(t, copyTree(src, dst, conventionalIgnoreNames))

	require.FileExists(t, filepath.Join(dst, "main.go"))
	require.NoDirExists(t, filepath.Join(dst, "node_modules"))
	require.NoDirExists(t, filepath.Join(dst, ".git"))
}

func TestCopyBackWinnerExemptsGitAndNeverDeletes(t *testing.T) {
	branch := t.TempDir()
	main := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(branch, "changed.go"), []byte("new"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(branch, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(branch, ".git", "HEAD"), []byte("branch ref"), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(main, "changed.go"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(main, "only-in-main.go"), []byte("keep"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(main, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(main, ".git", "HEAD"), []byte("main ref"), 0o644))

	require.NoError(t, copyBackWinner(branch, main))

	got, err := os.ReadFile(filepath.Join(main, "changed.go"))
	require.NoError(t, err)
	require.Equal(t, "new", string(got))

	require.FileExists(t, filepath.Join(main, "only-in-main.go"))

	head, err := os.ReadFile(filepath.Join(main, ".git", "HEAD"))
	require.NoError(t, err)
	require.Equal(t, "main ref", string(head), "copy-back must not touch the caller's VCS state")
}

func TestScoreBranchPrefersPassingWithUnusedIterations(t *testing.T) {
	dir := t.TempDir()

	passed := &State{Status: StatusCompleted, MaxIterations: 5, CurrentIteration: 1}
	failed := &State{Status: StatusFailed, MaxIterations: 5, CurrentIteration: 5}

	require.Greater(t, scoreBranch(dir, passed), scoreBranch(dir, failed))
	// +100 pass bonus, +10 per unused iteration; no git history, no coverage file.
	require.Equal(t, 140.0, scoreBranch(dir, passed))
}

func TestScoreBranchAddsCoveragePercent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "coverage.txt"), []byte("82.5%\n"), 0o644))

	s := &State{Status: StatusCompleted, MaxIterations: 1, CurrentIteration: 1}
	require.Equal(t, 100.0+82.5, scoreBranch(dir, s))
}

func TestBestOfSelectsPassingBranchAndCopiesBack(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	mainDir := t.TempDir()
	stateDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mainDir, "seed.txt"), []byte("seed"), 0o644))

	engine := &Engine{StateDir: stateDir, IterationTimeout: 30 * time.Second}
	runner := &BestOfRunner{Engine: engine, N: 2}

	branches, winner, err := runner.Run(
		t.Context(), "create the winner marker", "test -f winner",
		"touch winner", 3, mainDir, false,
	)
	require.NoError(t, err)
	require.Len(t, branches, 2)
	require.NotNil(t, winner)
	require.Equal(t, StatusCompleted, winner.State.Status)

	require.FileExists(t, filepath.Join(mainDir, "winner"))
	require.FileExists(t, filepath.Join(mainDir, "seed.txt"))
}
