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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeAgent flips a promise-satisfying file into existence after
// flipAfter invocations, simulating an agent that eventually succeeds.
type fakeAgent struct {
	calls     int
	flipAfter int
	workDir   string
}

func (a *fakeAgent) Name() string    { return "fake" }
func (a *fakeAgent) Available() bool { return true }

func (a *fakeAgent) Run(ctx context.Context, prompt, workDir, contextPrefix string, timeout time.Duration) (AgentResult, error) {
	a.calls++
	if a.calls >= a.flipAfter {
		_ = os.WriteFile(filepath.Join(workDir, "done"), []byte("ok"), 0o644)
	}
	return AgentResult{Success: true}, nil
}

func TestEngineRunSucceedsWithinIterations(t *testing.T) {
	dir := t.TempDir()
	stateDir := t.TempDir()
	agent := &fakeAgent{flipAfter: 2, workDir: dir}

	s := NewState("make done file exist", "test -f "+filepath.Join(dir, "done"), dir, "fake", 5)
	e := &Engine{StateDir: stateDir, Agent: agent, Backend: &NoneBackend{}, IterationTimeout: 5 * time.Second}

	err := e.Run(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, s.Status)
	require.Len(t, s.Iterations, 2)
	require.Equal(t, PromiseFail, s.Iterations[0].PromiseResult)
	require.Equal(t, PromisePass, s.Iterations[1].PromiseResult)
}

func TestEngineRunExhaustsMaxIterations(t *testing.T) {
	dir := t.TempDir()
	stateDir := t.TempDir()
	agent := &fakeAgent{flipAfter: 100, workDir: dir}

	s := NewState("never satisfied", "false", dir, "fake", 3)
	e := &Engine{StateDir: stateDir, Agent: agent, Backend: &NoneBackend{}, IterationTimeout: 5 * time.Second}

	err := e.Run(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, s.Status)
	require.Contains(t, s.ErrorMessage, "Max iterations (3) reached")
	require.Len(t, s.Iterations, 3)
}

func TestEngineRunAlreadyPassing(t *testing.T) {
	dir := t.TempDir()
	stateDir := t.TempDir()
	agent := &fakeAgent{flipAfter: 100, workDir: dir}

	s := NewState("already done", "true", dir, "fake", 5)
	e := &Engine{StateDir: stateDir, Agent: agent, Backend: &NoneBackend{}, IterationTimeout: 5 * time.Second}

	err := e.Run(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, s.Status)
	require.Empty(t, s.Iterations)
	require.Equal(t, 0, agent.calls)
}

func TestEngineRunZeroMaxIterationsFailsImmediately(t *testing.T) {
	dir := t.TempDir()
	stateDir := t.TempDir()
	agent := &fakeAgent{flipAfter: 100, workDir: dir}

	s := NewState("never runs", "false", dir, "fake", 0)
	e := &Engine{StateDir: stateDir, Agent: agent, Backend: &NoneBackend{}, IterationTimeout: 5 * time.Second}

	err := e.Run(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, s.Status)
	require.Contains(t, s.ErrorMessage, "Max iterations (0) reached")
	require.Empty(t, s.Iterations)
	require.Equal(t, 0, agent.calls)
}

func TestEngineRunRespectsCancelBetweenIterations(t *testing.T) {
	dir := t.TempDir()
	stateDir := t.TempDir()
	agent := &fakeAgent{flipAfter: 100, workDir: dir}

	s := NewState("will be cancelled", "false", dir, "fake", 10)
	e := &Engine{StateDir: stateDir, Agent: agent, Backend: &NoneBackend{}, IterationTimeout: 5 * time.Second}

	// Pre-persist state, then flip it to cancelled from "outside" before Run starts its loop body.
	require.NoError(t, s.Save(stateDir))
	cancelled, err := LoadState(stateDir, s.ID)
	require.NoError(t, err)
	require.NoError(t, cancelled.SetStatus(StatusRunning))
	require.NoError(t, cancelled.SetStatus(StatusCancelled))
	require.NoError(t, cancelled.Save(stateDir))

	err = e.Run(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, s.Status)
}
