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
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/daedalos/daedalos/pkg/workspace"
)

// TaskClass is the task analyser's classification of a natural-language
// task, used to pick an orchestration plan.
type TaskClass string

const (
	ClassBugfix   TaskClass = "bugfix"
	ClassRefactor TaskClass = "refactor"
	ClassFeature  TaskClass = "feature"
	ClassGeneral  TaskClass = "general"
)

var bugfixWords = []string{"fix", "bug", "crash", "error", "broken", "fails", "failing", "regression"}
var refactorWords = []string{"refactor", "cleanup", "clean up", "simplify", "rename", "restructure", "extract"}
var featureWords = []string{"add", "implement", "support", "feature", "new", "introduce"}

// ClassifyTask applies keyword heuristics to a task description,
// matching bugfix and refactor vocabulary before feature vocabulary
// since "fix the bug in the new X feature" should classify as a bugfix.
func ClassifyTask(task string) TaskClass {
	lower := strings.ToLower(task)
	for _, w := range bugfixWords {
		if strings.Contains(lower, w) {
			return ClassBugfix
		}
	}
	for _, w := range refactorWords {
		if strings.Contains(lower, w) {
			return ClassRefactor
		}
	}
	for _, w := range featureWords {
		if strings.Contains(lower, w) {
			return ClassFeature
		}
	}
	return ClassGeneral
}

// planPhase is one phase of an orchestration plan: which template to
// dispatch, how many parallel instances, and whether the phase runs
// its subagents concurrently or sequentially.
type planPhase struct {
	Name       string
	Template   string
	Parallel   int
	Concurrent bool
}

// planFor returns the fixed phase list for a task class.
func planFor(class TaskClass) []planPhase {
	switch class {
	case ClassBugfix:
		return []planPhase{
			{Name: "research", Template: TemplateExplorer, Parallel: 2, Concurrent: true},
			{Name: "debug", Template: TemplateDebugger, Parallel: 1, Concurrent: false},
			{Name: "verify", Template: TemplateTester, Parallel: 1, Concurrent: false},
		}
	case ClassRefactor:
		return []planPhase{
			{Name: "research", Template: TemplateExplorer, Parallel: 2, Concurrent: true},
			{Name: "implement", Template: TemplateImplementer, Parallel: 1, Concurrent: false},
			{Name: "verify", Template: TemplateReviewer, Parallel: 1, Concurrent: false},
		}
	case ClassFeature:
		return []planPhase{
			{Name: "research", Template: TemplateExplorer, Parallel: 3, Concurrent: true},
			{Name: "implement", Template: TemplateImplementer, Parallel: 1, Concurrent: false},
			{Name: "verify", Template: TemplateTester, Parallel: 1, Concurrent: false},
		}
	default:
		return []planPhase{
			{Name: "implement", Template: TemplateImplementer, Parallel: 1, Concurrent: false},
			{Name: "verify", Template: TemplateTester, Parallel: 1, Concurrent: false},
		}
	}
}

// maxConcurrentSubagents bounds how many subagent loops the
// orchestrator runs at once within a concurrent phase.
const maxConcurrentSubagents = 4

// Orchestrator dispatches templated subagents across an analyser-chosen
// phase plan, synthesizing context from the workspace between phases
// and replanning a retry phase if the main promise still fails after
// implementation.
type Orchestrator struct {
	Engine        *Engine
	AgentName     string
	StateDir      string
	WorkspaceRoot string
	MaxIterations int
}

// Run executes an orchestrated run for task/promise in workDir,
// returning the final workspace (so callers can inspect findings and
// handoffs after completion) and whether the main promise ultimately
// passed.
func (o *Orchestrator) Run(ctx context.Context, loopID, task, promise, workDir string) (*workspace.Workspace, bool, error) {
	ws, err := workspace.Create(o.WorkspaceRoot, loopID, task, promise)
	if err != nil {
		return nil, false, fmt.Errorf("loop: orchestrator create workspace: %w", err)
	}

	class := ClassifyTask(task)
	phases := planFor(class)
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = p.Name
	}
	if err := ws.SetPlan(names, string(class)); err != nil {
		return ws, false, err
	}

	rounds := o.MaxIterations
	if rounds < 1 {
		rounds = 1
	}

	passed := false
	synthesis := task

	for round := 0; round < rounds; round++ {
		for {
			phaseName := ws.CurrentPhase()
			if phaseName == "" {
				break
			}
			phase := phaseByName(phases, phaseName)

			if err := o.runPhase(ctx, ws, phase, synthesis, workDir); err != nil {
				return ws, false, err
			}
			synthesis = synthesizeFindings(ws)

			more, err := ws.AdvancePhase()
			if err != nil {
				return ws, false, err
			}
			if !more {
				break
			}
		}

		res, err := evaluatePromise(ctx, promise, workDir, o.Engine.IterationTimeout)
		if err != nil {
			return ws, false, err
		}
		if res.Passed {
			passed = true
			break
		}

		// Plan and run a retry phase: a debugger subagent sees the
		// failing promise output plus earlier findings.
		retry := planPhase{Name: fmt.Sprintf("retry-%d", round), Template: TemplateDebugger, Parallel: 1, Concurrent: false}
		retryTopic := synthesis + "\n\nThe success condition still fails. Output:\n" + res.Stdout + res.Stderr
		if err := o.runPhase(ctx, ws, retry, retryTopic, workDir); err != nil {
			return ws, false, err
		}
		synthesis = synthesizeFindings(ws)
	}

	return ws, passed, nil
}

func phaseByName(phases []planPhase, name string) planPhase {
	for _, p := range phases {
		if p.Name == name {
			return p
		}
	}
	return planPhase{Name: name, Template: TemplateImplementer, Parallel: 1}
}

// runPhase registers Parallel subagents against the phase's template,
// runs them (concurrently for research-style phases, sequentially
// otherwise) bounded by maxConcurrentSubagents, and records each
// subagent's outcome back into the workspace.
func (o *Orchestrator) runPhase(ctx context.Context, ws *workspace.Workspace, phase planPhase, topic, workDir string) error {
	tmpl, ok := TemplateByName(phase.Template)
	if !ok {
		return fmt.Errorf("loop: unknown template %q", phase.Template)
	}

	ids := make([]string, phase.Parallel)
	for i := 0; i < phase.Parallel; i++ {
		sub, err := ws.RegisterSubagent(phase.Template, tmpl.objective(topic))
		if err != nil {
			return err
		}
		ids[i] = sub.ID
	}

	run := func(id string) error {
		running := workspace.SubagentRunning
		nestedID := fmt.Sprintf("%s-%s", phase.Name, id)
		if err := ws.UpdateSubagent(id, workspace.SubagentUpdate{Status: &running, LoopID: &nestedID}); err != nil {
			return err
		}

		agent, err := AgentByName(o.AgentName)
		if err != nil {
			return o.failSubagent(ws, id, err)
		}
		eng := &Engine{StateDir: o.StateDir, Agent: agent, IterationTimeout: o.Engine.IterationTimeout}
		s := NewState(tmpl.objective(topic), "true", workDir, o.AgentName, tmpl.MaxIterations)
		// Subagent loops skip the initial promise check: the agent must
		// perform its objective at least once even though "true" passes
		// trivially afterwards.
		if err := eng.run(ctx, s, false); err != nil {
			return o.failSubagent(ws, id, err)
		}

		completed := workspace.SubagentCompleted
		if s.Status != StatusCompleted {
			completed = workspace.SubagentFailed
		}
		passResult := s.Status == StatusCompleted
		summary := subagentSummary(s)
		if err := ws.UpdateSubagent(id, workspace.SubagentUpdate{
			Status: &completed, PromiseResult: &passResult, Summary: &summary,
		}); err != nil {
			return err
		}
		_, err = ws.AddFinding(id, findingTypeFor(phase.Template), summary, nil)
		return err
	}

	if !phase.Concurrent {
		for _, id := range ids {
			if err := run(id); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(maxConcurrentSubagents))
	for _, id := range ids {
		id := id
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			return run(id)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) failSubagent(ws *workspace.Workspace, id string, cause error) error {
	failed := workspace.SubagentFailed
	msg := cause.Error()
	return ws.UpdateSubagent(id, workspace.SubagentUpdate{Status: &failed, Error: &msg})
}

// subagentSummary condenses a finished subagent loop into a finding
// body: the last iteration's agent output if there was one, else a
// status line.
func subagentSummary(s *State) string {
	const maxSummary = 2000
	if n := len(s.Iterations); n > 0 {
		out := strings.TrimSpace(s.Iterations[n-1].AgentStdout)
		if out != "" {
			if len(out) > maxSummary {
				out = out[:maxSummary]
			}
			return out
		}
	}
	return fmt.Sprintf("subagent loop %s finished with status %s", s.ID, s.Status)
}

func findingTypeFor(template string) workspace.FindingType {
	switch template {
	case TemplateExplorer:
		return workspace.FindingExplorer
	case TemplateImplementer:
		return workspace.FindingImplementer
	case TemplateReviewer:
		return workspace.FindingReviewer
	case TemplateDebugger:
		return workspace.FindingDebugger
	case TemplateTester:
		return workspace.FindingTester
	default:
		return workspace.FindingImplementer
	}
}

// synthesizeFindings composes a short context string from all findings
// recorded so far, to feed as the topic for the next phase.
func synthesizeFindings(ws *workspace.Workspace) string {
	findings := ws.GetFindings("", "")
	if len(findings) == 0 {
		return ws.State.Task
	}
	var b strings.Builder
	b.WriteString(ws.State.Task)
	b.WriteString("\n\nPrior findings:\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Author, f.Content)
	}
	return b.String()
}
