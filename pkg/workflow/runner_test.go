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

package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daedalos/daedalos/pkg/loop"
)

func TestRunnerSequencesDependentLoops(t *testing.T) {
	workDir := t.TempDir()
	stateDir := t.TempDir()

	def := &Definition{
		Name: "seq",
		Loops: []LoopDef{
			{ID: "step1", Prompt: "create step1", Promise: "test -f step1.done", Agent: "touch step1.done", MaxIterations: 2, TimeoutSec: 5},
			{ID: "step2", Prompt: "create step2", Promise: "test -f step2.done", Agent: "touch step2.done", DependsOn: []string{"step1"}, MaxIterations: 2, TimeoutSec: 5},
		},
	}

	engine := loop.NewEngine(stateDir, nil)
	runner := &Runner{Engine: engine, WorkDir: workDir}

	ex, err := runner.Run(context.Background(), def)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, ex.Status)
	require.Equal(t, []string{"step1", "step2"}, ex.CompletedLoops)

	require.FileExists(t, filepath.Join(workDir, "step1.done"))
	require.FileExists(t, filepath.Join(workDir, "step2.done"))
}

func TestRunnerReportsFailedLoopAndRunsHooks(t *testing.T) {
	workDir := t.TempDir()
	stateDir := t.TempDir()
	marker := filepath.Join(workDir, "hook-ran")

	def := &Definition{
		Name: "fail",
		Loops: []LoopDef{
			{ID: "never", Prompt: "never passes", Promise: "test -f nonexistent-file-xyz", Agent: "true", MaxIterations: 1, TimeoutSec: 5},
		},
		OnFailure: []string{"echo {{failed_loop}} > " + marker},
	}

	engine := loop.NewEngine(stateDir, nil)
	runner := &Runner{Engine: engine, WorkDir: workDir}

	ex, err := runner.Run(context.Background(), def)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, ex.Status)
	require.Equal(t, "never", ex.FailedLoop)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	require.Contains(t, string(data), "never")
}
