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
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleWorkflow = `
name: tdd-{{suffix}}
description: red-green-refactor
loops:
  - id: red
    prompt: write a failing test for {{feature}}
    promise: test -f red.done
  - id: green
    prompt: make the test pass
    promise: test -f green.done
    depends_on: [red]
    max_iterations: 5
  - id: refactor
    prompt: clean it up
    promise: test -f refactor.done
    depends_on: [green]
on_complete: ["echo done"]
on_failure: ["echo failed {{failed_loop}}"]
`

func TestParseSubstitutesVariables(t *testing.T) {
	def, err := Parse([]byte(sampleWorkflow), map[string]string{"suffix": "123", "feature": "login"})
	require.NoError(t, err)
	require.Equal(t, "tdd-123", def.Name)
	require.Len(t, def.Loops, 3)
	require.Contains(t, def.Loops[0].Prompt, "login")
}

func TestParseAppliesDefaults(t *testing.T) {
	def, err := Parse([]byte(sampleWorkflow), map[string]string{"suffix": "x", "feature": "y"})
	require.NoError(t, err)
	require.Equal(t, defaultMaxIterations, def.Loops[0].MaxIterations)
	require.Equal(t, 5, def.Loops[1].MaxIterations)
	require.Equal(t, defaultTimeoutSeconds, def.Loops[0].TimeoutSec)
}

func TestParseRejectsUnknownDependency(t *testing.T) {
	_, err := Parse([]byte(`
name: bad
loops:
  - id: a
    prompt: p
    promise: q
    depends_on: [nonexistent]
`), nil)
	require.Error(t, err)
}

func TestParseRejectsDuplicateLoopID(t *testing.T) {
	_, err := Parse([]byte(`
name: bad
loops:
  - id: a
    prompt: p
    promise: q
  - id: a
    prompt: p2
    promise: q2
`), nil)
	require.Error(t, err)
}

func TestReadyLoopsRespectsDependencies(t *testing.T) {
	def, err := Parse([]byte(sampleWorkflow), map[string]string{"suffix": "x", "feature": "y"})
	require.NoError(t, err)

	ex := NewExecution(def)
	ready := ex.readyLoops()
	require.Len(t, ready, 1)
	require.Equal(t, "red", ready[0].ID)

	ex.CompletedLoops = append(ex.CompletedLoops, "red")
	ready = ex.readyLoops()
	require.Len(t, ready, 1)
	require.Equal(t, "green", ready[0].ID)
}

func TestReadyLoopsEmptyWhenCycle(t *testing.T) {
	def := &Definition{
		Name: "cycle",
		Loops: []LoopDef{
			{ID: "a", DependsOn: []string{"b"}},
			{ID: "b", DependsOn: []string{"a"}},
		},
	}
	ex := NewExecution(def)
	require.Empty(t, ex.readyLoops())
}
