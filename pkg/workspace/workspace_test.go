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

package workspace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateLoadDestroy(t *testing.T) {
	root := t.TempDir()
	w, err := Create(root, "loop-1", "make tests pass", "go test ./...")
	require.NoError(t, err)
	require.Equal(t, "loop-1", w.State.LoopID)

	loaded, err := Load(root, "loop-1")
	require.NoError(t, err)
	require.Equal(t, "make tests pass", loaded.State.Task)

	require.NoError(t, w.Destroy())
	_, err = Load(root, "loop-1")
	require.ErrorIs(t, err, ErrMissing)
}

func TestRegisterSubagentRequiredBeforeUse(t *testing.T) {
	root := t.TempDir()
	w, err := Create(root, "loop-2", "t", "true")
	require.NoError(t, err)

	_, err = w.AddFinding("ghost", FindingExplorer, "x", nil)
	require.ErrorIs(t, err, ErrNotRegistered)

	sub, err := w.RegisterSubagent("explorer", "look around")
	require.NoError(t, err)
	require.Equal(t, SubagentPending, sub.Status)

	_, err = w.AddFinding(sub.ID, FindingExplorer, "found the bug", []string{"main.go"})
	require.NoError(t, err)

	findings := w.GetFindings(FindingExplorer, "")
	require.Len(t, findings, 1)
	require.Equal(t, "found the bug", findings[0].Content)
}

func TestSubagentStatusTimestamps(t *testing.T) {
	root := t.TempDir()
	w, err := Create(root, "loop-3", "t", "true")
	require.NoError(t, err)

	sub, err := w.RegisterSubagent("implementer", "fix it")
	require.NoError(t, err)

	running := SubagentRunning
	require.NoError(t, w.UpdateSubagent(sub.ID, SubagentUpdate{Status: &running}))
	got, err := w.GetSubagent(sub.ID)
	require.NoError(t, err)
	require.False(t, got.StartedAt.IsZero())
	require.True(t, got.FinishedAt.IsZero())

	completed := SubagentCompleted
	summary := "done"
	require.NoError(t, w.UpdateSubagent(sub.ID, SubagentUpdate{Status: &completed, Summary: &summary}))
	got, err = w.GetSubagent(sub.ID)
	require.NoError(t, err)
	require.False(t, got.FinishedAt.IsZero())
	require.Equal(t, "done", got.Summary)
}

func TestHandoffAcknowledge(t *testing.T) {
	root := t.TempDir()
	w, err := Create(root, "loop-4", "t", "true")
	require.NoError(t, err)

	a, err := w.RegisterSubagent("explorer", "a")
	require.NoError(t, err)
	b, err := w.RegisterSubagent("implementer", "b")
	require.NoError(t, err)

	h, err := w.AddHandoff(a.ID, b.ID, "go fix this", []string{"a.go"})
	require.NoError(t, err)
	require.False(t, h.Acknowledged)

	ctx, err := w.BuildContextForSubagent(b.ID)
	require.NoError(t, err)
	require.Contains(t, ctx, "go fix this")

	require.NoError(t, w.AcknowledgeHandoff(h.ID))
	ctx, err = w.BuildContextForSubagent(b.ID)
	require.NoError(t, err)
	require.NotContains(t, ctx, "go fix this")
}

func TestPlanAdvance(t *testing.T) {
	root := t.TempDir()
	w, err := Create(root, "loop-5", "t", "true")
	require.NoError(t, err)

	require.NoError(t, w.SetPlan([]string{"research", "implement", "verify"}, "feature"))
	require.Equal(t, "research", w.CurrentPhase())

	ok, err := w.AdvancePhase()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "implement", w.CurrentPhase())

	ok, err = w.AdvancePhase()
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = w.AdvancePhase()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestArtifacts(t *testing.T) {
	root := t.TempDir()
	w, err := Create(root, "loop-6", "t", "true")
	require.NoError(t, err)

	require.NoError(t, w.SaveArtifact("diff.patch", []byte("hello")))
	data, err := w.GetArtifact("diff.patch")
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	names, err := w.ListArtifacts()
	require.NoError(t, err)
	require.Equal(t, []string{"diff.patch"}, names)
}
