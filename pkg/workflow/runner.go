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
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/daedalos/daedalos/pkg/loop"
)

// hookTimeout bounds a single on_complete/on_failure hook command.
const hookTimeout = 60 * time.Second

// Hooks are run as a normal user shell; failures are logged and never
// abort the workflow, since by the time a hook runs the workflow's own
// status is already decided.

// Runner executes a workflow's loops in dependency order, one ready
// loop at a time, so the first loop to fail is unambiguously "the"
// failed loop.
type Runner struct {
	Engine         *loop.Engine
	StateDir       string
	AgentName      string // fallback agent selector when a loop definition has none
	WorkDir        string
	OnLoopStart    func(loopID string)
	OnLoopComplete func(loopID string, succeeded bool)
}

// Run executes def to completion, returning the final execution record
// and an error only for an unrecoverable setup failure (a loop
// definition can still fail the workflow without Run returning an
// error — that failure is reported in Execution.Status).
func (r *Runner) Run(ctx context.Context, def *Definition) (*Execution, error) {
	ex := NewExecution(def)
	ex.Status = StatusRunning

	for key, value := range def.Env {
		if err := os.Setenv(key, value); err != nil {
			return ex, fmt.Errorf("workflow %q: set env %s: %w", def.Name, key, err)
		}
	}

	for {
		ready := ex.readyLoops()
		if len(ready) == 0 {
			if len(ex.CompletedLoops) == len(def.Loops) {
				ex.Status = StatusCompleted
				r.runHooks(ctx, def.OnComplete, ex)
				return ex, nil
			}
			ex.Status = StatusFailed
			ex.ErrorMessage = "no loop ready and not all loops completed: unsatisfiable dependency graph"
			r.runHooks(ctx, def.OnFailure, ex)
			return ex, nil
		}

		wfLoop := ready[0]
		succeeded, err := r.runLoop(ctx, def, &wfLoop, ex)
		if err != nil {
			return ex, err
		}

		if succeeded {
			ex.CompletedLoops = append(ex.CompletedLoops, wfLoop.ID)
			continue
		}

		ex.FailedLoop = wfLoop.ID
		ex.Status = StatusFailed
		r.runHooks(ctx, def.OnFailure, ex)
		return ex, nil
	}
}

func (r *Runner) runLoop(ctx context.Context, def *Definition, wfLoop *LoopDef, ex *Execution) (bool, error) {
	ex.CurrentLoop = wfLoop.ID
	if r.OnLoopStart != nil {
		r.OnLoopStart(wfLoop.ID)
	}

	agentName := wfLoop.Agent
	if agentName == "" {
		agentName = r.AgentName
	}
	agent, err := loop.AgentByName(agentName)
	if err != nil {
		return false, fmt.Errorf("workflow %q: loop %q: %w", def.Name, wfLoop.ID, err)
	}

	s := loop.NewState(wfLoop.Prompt, wfLoop.Promise, r.WorkDir, agent.Name(), wfLoop.MaxIterations)

	loopEngine := *r.Engine
	loopEngine.Agent = agent
	loopEngine.IterationTimeout = time.Duration(wfLoop.TimeoutSec) * time.Second
	if r.StateDir != "" {
		loopEngine.StateDir = r.StateDir
	}

	if err := loopEngine.Run(ctx, s); err != nil {
		return false, fmt.Errorf("workflow %q: loop %q: %w", def.Name, wfLoop.ID, err)
	}

	ex.LoopStates[wfLoop.ID] = s
	succeeded := s.Status == loop.StatusCompleted

	if r.OnLoopComplete != nil {
		r.OnLoopComplete(wfLoop.ID, succeeded)
	}
	return succeeded, nil
}

// runHooks runs each hook command in sequence, substituting
// {{failed_loop}} when ex has a recorded failure. Hook failures are
// logged and otherwise ignored: by the time hooks run, the workflow's
// terminal status is already fixed.
func (r *Runner) runHooks(ctx context.Context, commands []string, ex *Execution) {
	for _, command := range commands {
		cmd := command
		if ex.FailedLoop != "" {
			cmd = strings.ReplaceAll(cmd, "{{failed_loop}}", ex.FailedLoop)
		}
		r.runHook(ctx, cmd)
	}
}

func (r *Runner) runHook(ctx context.Context, command string) {
	hookCtx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	c := exec.CommandContext(hookCtx, "sh", "-c", command)
	c.Dir = r.WorkDir
	if c.Dir == "" {
		c.Dir = filepath.Clean(".")
	}
	if err := c.Run(); err != nil {
		slog.Warn("workflow: hook command failed", "command", command, "error", err)
	}
}
