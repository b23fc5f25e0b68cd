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

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/daedalos/daedalos/pkg/loop"
	"github.com/daedalos/daedalos/pkg/notify"
	"github.com/daedalos/daedalos/pkg/paths"
	"github.com/daedalos/daedalos/pkg/workflow"
)

// WorkflowCmd groups the multi-loop workflow subcommands.
type WorkflowCmd struct {
	Run  WorkflowRunCmd  `cmd:"" help:"Run a workflow document to completion."`
	List WorkflowListCmd `cmd:"" help:"List loops defined in a workflow document."`
}

// WorkflowRunCmd loads a workflow document and runs it to completion.
type WorkflowRunCmd struct {
	File string   `arg:"" help:"Workflow YAML file." type:"path"`
	Var  []string `help:"Variable substitution as key=value (repeatable)."`

	Agent   string `help:"Fallback agent selector for loops with none." default:"auto"`
	WorkDir string `name:"work-dir" help:"Working directory shared by every loop." type:"path" default:"."`
}

func (c *WorkflowRunCmd) Run(cli *CLI) error {
	vars := make(map[string]string, len(c.Var))
	for _, v := range c.Var {
		key, value, ok := strings.Cut(v, "=")
		if !ok {
			return fmt.Errorf("workflow: invalid --var %q, expected key=value", v)
		}
		vars[key] = value
	}

	def, err := workflow.Load(c.File, vars)
	if err != nil {
		return err
	}

	stateDir, err := paths.StateDir()
	if err != nil {
		return err
	}

	engine := loop.NewEngine(stateDir, nil)
	engine.Notifier = notify.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchInterrupt(cancel)

	runner := &workflow.Runner{
		Engine:    engine,
		StateDir:  stateDir,
		AgentName: c.Agent,
		WorkDir:   c.WorkDir,
		OnLoopStart: func(loopID string) {
			fmt.Printf("-> loop %s starting\n", loopID)
		},
		OnLoopComplete: func(loopID string, succeeded bool) {
			fmt.Printf("<- loop %s: succeeded=%v\n", loopID, succeeded)
		},
	}

	ex, err := runner.Run(ctx, def)
	if err != nil {
		return err
	}
	fmt.Printf("workflow %q: %s\n", def.Name, ex.Status)
	if ex.Status != workflow.StatusCompleted {
		os.Exit(1)
	}
	return nil
}

// WorkflowListCmd prints a workflow document's loop graph without
// running it.
type WorkflowListCmd struct {
	File string   `arg:"" help:"Workflow YAML file." type:"path"`
	Var  []string `help:"Variable substitution as key=value (repeatable)."`
}

func (c *WorkflowListCmd) Run(cli *CLI) error {
	vars := make(map[string]string, len(c.Var))
	for _, v := range c.Var {
		key, value, ok := strings.Cut(v, "=")
		if !ok {
			return fmt.Errorf("workflow: invalid --var %q, expected key=value", v)
		}
		vars[key] = value
	}

	def, err := workflow.Load(c.File, vars)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", def.Name, def.Description)
	for _, l := range def.Loops {
		deps := "-"
		if len(l.DependsOn) > 0 {
			deps = strings.Join(l.DependsOn, ",")
		}
		fmt.Printf("  %-16s depends_on=%-16s max_iterations=%d\n", l.ID, deps, l.MaxIterations)
	}
	return nil
}
