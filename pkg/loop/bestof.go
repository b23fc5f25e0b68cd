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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// gitDirName is the single named exemption from best-of-N's
// byte-granular copy-back: every other regular file, regardless of
// path, is copied verbatim from the winning branch onto the main
// working directory.
const gitDirName = ".git"

// conventionalIgnoreNames lists the top-level directory names the
// initial branch copy skips: heavy, regeneratable VCS/dependency/build
// directories that every branch would otherwise duplicate in full for
// no benefit, since each branch re-derives or re-fetches them as
// needed. This is distinct from gitDirName's copy-back exemption, which
// governs the opposite direction (winning branch back onto mainDir) at
// byte granularity rather than by name.
var conventionalIgnoreNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

// Branch is one best-of-N branch's working directory plus its final
// state after running to completion.
type Branch struct {
	Index  int
	Dir    string
	State  *State
	Score  float64
	RunErr error
}

// BestOfRunner runs N branches of the same loop concurrently, scores
// each completed branch, and selects a winner.
type BestOfRunner struct {
	Engine *Engine
	N      int
}

// Run copies mainDir into N sibling branch directories, runs a loop in
// each concurrently (bounded by N workers via errgroup+semaphore), and
// scores every completed branch. In auto mode (manual=false) it copies
// the winning branch's files back into mainDir at byte granularity; in
// manual mode it performs no copy-back. In both modes it then removes
// every non-winning branch directory, keeps the winner's, and returns
// every branch together with the winner.
func (r *BestOfRunner) Run(ctx context.Context, task, promise, agentName string, maxIterations int, mainDir string, manual bool) ([]*Branch, *Branch, error) {
	if r.N < 1 {
		r.N = 1
	}
	branchesRoot, err := os.MkdirTemp("", "daedalos-bestof-")
	if err != nil {
		return nil, nil, fmt.Errorf("loop: best-of-n temp root: %w", err)
	}

	branches := make([]*Branch, r.N)
	sem := semaphore.NewWeighted(int64(r.N))
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < r.N; i++ {
		i := i
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			branchDir := filepath.Join(branchesRoot, fmt.Sprintf("branch-%d", i))
			b := &Branch{Index: i, Dir: branchDir}
			branches[i] = b

			if err := copyTree(mainDir, branchDir, conventionalIgnoreNames); err != nil {
				b.RunErr = fmt.Errorf("loop: copy branch %d: %w", i, err)
				return nil
			}
			if _, err := runGit(branchDir, "init"); err == nil {
				_, _ = runGit(branchDir, "add", "-A")
				_, _ = runGit(branchDir, "-c", "user.email=daedalos@localhost", "-c", "user.name=daedalos",
					"commit", "-m", "best-of-n baseline")
			}

			agent, err := AgentByName(agentName)
			if err != nil {
				b.RunErr = err
				return nil
			}
			eng := &Engine{StateDir: r.Engine.StateDir, Agent: agent, Backend: &VCSBackend{}, IterationTimeout: r.Engine.IterationTimeout}
			s := NewState(task, promise, branchDir, agentName, maxIterations)
			if err := eng.Run(gctx, s); err != nil {
				b.RunErr = err
				return nil
			}
			b.State = s
			b.Score = scoreBranch(branchDir, s)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var winner *Branch
	for _, b := range branches {
		if b.RunErr != nil {
			continue
		}
		if winner == nil || b.Score > winner.Score {
			winner = b
		}
	}
	if winner == nil {
		return branches, nil, fmt.Errorf("loop: all best-of-%d branches errored", r.N)
	}

	if !manual {
		if err := copyBackWinner(winner.Dir, mainDir); err != nil {
			return branches, winner, fmt.Errorf("loop: copy-back winning branch: %w", err)
		}
	}

	for _, b := range branches {
		if b != winner {
			_ = os.RemoveAll(b.Dir)
		}
	}

	return branches, winner, nil
}

// scoreBranch scores a completed branch: +100 if the promise
// passes, +10 per unused iteration, -0.5 per line changed (diff line
// count against the branch's initial commit), plus a coverage
// percentage if a coverage report file is present.
func scoreBranch(branchDir string, s *State) float64 {
	var score float64
	if s.Status == StatusCompleted {
		score += 100
		unused := s.MaxIterations - s.CurrentIteration
		if unused > 0 {
			score += float64(unused) * 10
		}
	}
	score -= 0.5 * float64(diffLineCount(branchDir))
	score += coveragePercent(branchDir)
	return score
}

func diffLineCount(branchDir string) int {
	out, err := runGit(branchDir, "diff", "--numstat", "HEAD")
	if err != nil || out == "" {
		return 0
	}
	total := 0
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		added, aerr := strconv.Atoi(fields[0])
		removed, rerr := strconv.Atoi(fields[1])
		if aerr == nil {
			total += added
		}
		if rerr == nil {
			total += removed
		}
	}
	return total
}

// coveragePercent looks for a well-known coverage summary file dropped
// by the agent's test run (e.g. `coverage.txt` containing a bare
// percentage on its own line) and returns it as a score bonus, or 0 if
// none is present.
func coveragePercent(branchDir string) float64 {
	data, err := os.ReadFile(filepath.Join(branchDir, "coverage.txt"))
	if err != nil {
		return 0
	}
	line := strings.TrimSpace(string(data))
	line = strings.TrimSuffix(line, "%")
	pct, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0
	}
	return pct
}

// copyTree recursively copies src onto dst, skipping any top-level path
// component named in skip; nil copies everything.
func copyTree(src, dst string, skip map[string]bool) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}
		if skip != nil && skip[strings.Split(rel, string(filepath.Separator))[0]] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// copyBackWinner walks the winning branch's tree and writes every
// regular file whose top-level path component is not gitDirName
// verbatim over the corresponding path in mainDir. It never deletes a
// file that exists only in mainDir.
func copyBackWinner(branchDir, mainDir string) error {
	return filepath.Walk(branchDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(branchDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		top := strings.Split(rel, string(filepath.Separator))[0]
		if top == gitDirName {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		dst := filepath.Join(mainDir, rel)
		if info.IsDir() {
			return os.MkdirAll(dst, info.Mode())
		}
		return copyFile(path, dst, info.Mode())
	})
}
