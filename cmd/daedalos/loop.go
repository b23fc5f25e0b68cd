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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/daedalos/daedalos/pkg/loop"
	"github.com/daedalos/daedalos/pkg/notify"
	"github.com/daedalos/daedalos/pkg/paths"
)

// LoopCmd groups every loop lifecycle subcommand.
type LoopCmd struct {
	Start  LoopStartCmd  `cmd:"" help:"Start a new loop."`
	Status LoopStatusCmd `cmd:"" help:"Show a loop's status."`
	Stop   LoopStopCmd   `cmd:"" help:"Cancel a running or paused loop."`
	List   LoopListCmd   `cmd:"" help:"List known loops."`
	Resume LoopResumeCmd `cmd:"" help:"Resume a paused or interrupted loop."`
}

// LoopStartCmd starts a single loop, a best-of-N branch run, or an
// orchestrated multi-agent run, depending on which flags are set.
type LoopStartCmd struct {
	Task    string `arg:"" help:"Natural-language task description."`
	Promise string `required:"" help:"Shell command whose success ends the loop."`

	Iterations int           `short:"n" help:"Maximum iterations." default:"10"`
	Agent      string        `help:"Agent adapter selector (auto, opencode, aider, claude-code, cursor, or a shell command)." default:"auto"`
	WorkDir    string        `name:"work-dir" help:"Working directory." type:"path" default:"."`
	Timeout    time.Duration `name:"iteration-timeout" help:"Per-iteration agent timeout." default:"10m"`
	Context    []string      `help:"Extra context strings injected into every prompt."`

	BestOf      int  `name:"best-of" help:"Run N parallel branches and keep the best (0 disables)."`
	Manual      bool `help:"With --best-of, skip copy-back and report every branch."`
	Orchestrate bool `help:"Dispatch a plan of templated subagents instead of a single agent loop."`
}

func (c *LoopStartCmd) Run(cli *CLI) error {
	stateDir, err := paths.StateDir()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchInterrupt(cancel)

	switch {
	case c.BestOf > 0:
		return c.runBestOf(ctx, stateDir)
	case c.Orchestrate:
		return c.runOrchestrated(ctx, stateDir)
	default:
		return c.runSingle(ctx, stateDir)
	}
}

func (c *LoopStartCmd) runSingle(ctx context.Context, stateDir string) error {
	agent, err := loop.AgentByName(c.Agent)
	if err != nil {
		return err
	}
	engine := loop.NewEngine(stateDir, agent)
	engine.IterationTimeout = c.Timeout
	engine.Notifier = notify.New()

	s := loop.NewState(c.Task, c.Promise, c.WorkDir, agent.Name(), c.Iterations)
	s.InjectedContext = append(c.Context, externalContext(c.Task)...)
	if err := engine.Run(ctx, s); err != nil {
		return err
	}
	printLoopState(s)
	if s.Status != loop.StatusCompleted {
		os.Exit(1)
	}
	return nil
}

func (c *LoopStartCmd) runBestOf(ctx context.Context, stateDir string) error {
	engine := loop.NewEngine(stateDir, nil)
	engine.IterationTimeout = c.Timeout
	engine.Notifier = notify.New()

	runner := &loop.BestOfRunner{Engine: engine, N: c.BestOf}
	branches, winner, err := runner.Run(ctx, c.Task, c.Promise, c.Agent, c.Iterations, c.WorkDir, c.Manual)
	if err != nil {
		return err
	}
	for _, b := range branches {
		if b == nil {
			continue
		}
		if b.RunErr != nil {
			fmt.Printf("branch %d: error: %v\n", b.Index, b.RunErr)
			continue
		}
		fmt.Printf("branch %d: score=%.1f status=%s dir=%s\n", b.Index, b.Score, b.State.Status, b.Dir)
	}
	if winner != nil {
		fmt.Printf("winner: branch %d (loop %s)\n", winner.Index, winner.State.ID)
	}
	return nil
}

func (c *LoopStartCmd) runOrchestrated(ctx context.Context, stateDir string) error {
	engine := loop.NewEngine(stateDir, nil)
	engine.IterationTimeout = c.Timeout
	engine.Notifier = notify.New()

	o := &loop.Orchestrator{
		Engine:        engine,
		AgentName:     c.Agent,
		StateDir:      stateDir,
		WorkspaceRoot: stateDir, // workspace documents land at <state>/loops/<loop-id>/
		MaxIterations: c.Iterations,
	}

	loopID := uuid.NewString()
	ws, passed, err := o.Run(ctx, loopID, c.Task, c.Promise, c.WorkDir)
	if err != nil {
		return err
	}
	fmt.Printf("orchestrated loop %s: passed=%v phases=%v\n", loopID, passed, ws.State.Plan.Phases)
	if !passed {
		os.Exit(1)
	}
	return nil
}

// LoopStatusCmd prints one loop's full persisted state as JSON.
type LoopStatusCmd struct {
	ID string `arg:"" help:"Loop ID."`
}

func (c *LoopStatusCmd) Run(cli *CLI) error {
	stateDir, err := paths.StateDir()
	if err != nil {
		return err
	}
	s, err := loop.LoadState(stateDir, c.ID)
	if err != nil {
		return err
	}
	printLoopState(s)
	return nil
}

// LoopStopCmd cancels a running or paused loop in place; the owning
// Run call observes the cancellation on its next pause-tick check.
type LoopStopCmd struct {
	ID string `arg:"" help:"Loop ID."`
}

func (c *LoopStopCmd) Run(cli *CLI) error {
	stateDir, err := paths.StateDir()
	if err != nil {
		return err
	}
	s, err := loop.LoadState(stateDir, c.ID)
	if err != nil {
		return err
	}
	if err := s.SetStatus(loop.StatusCancelled); err != nil {
		return err
	}
	return s.Save(stateDir)
}

// LoopListCmd lists every persisted loop in tabular form.
type LoopListCmd struct{}

func (c *LoopListCmd) Run(cli *CLI) error {
	stateDir, err := paths.StateDir()
	if err != nil {
		return err
	}
	states, err := loop.ListStates(stateDir)
	if err != nil {
		return err
	}
	for _, s := range states {
		fmt.Printf("%s\t%-10s\t%d/%d\t%s\n", s.ID, s.Status, s.CurrentIteration, s.MaxIterations, s.Task)
	}
	return nil
}

// LoopResumeCmd resumes a loop from its persisted iteration, relying
// on Engine.Run's resume-aware iteration bound (see pkg/loop/engine.go).
type LoopResumeCmd struct {
	ID    string `arg:"" help:"Loop ID."`
	Agent string `help:"Agent adapter selector override (defaults to the loop's original agent)." default:"auto"`
}

func (c *LoopResumeCmd) Run(cli *CLI) error {
	stateDir, err := paths.StateDir()
	if err != nil {
		return err
	}
	s, err := loop.LoadState(stateDir, c.ID)
	if err != nil {
		return err
	}

	agentName := c.Agent
	if agentName == "auto" && s.Agent != "" {
		agentName = s.Agent
	}
	agent, err := loop.AgentByName(agentName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchInterrupt(cancel)

	engine := loop.NewEngine(stateDir, agent)
	engine.Notifier = notify.New()
	if err := engine.Run(ctx, s); err != nil {
		return err
	}
	printLoopState(s)
	if s.Status != loop.StatusCompleted {
		os.Exit(1)
	}
	return nil
}

func printLoopState(s *loop.State) {
	data, _ := json.MarshalIndent(s, "", "  ")
	fmt.Println(string(data))
}

// externalContext asks the companion `spec` tool, when installed, for
// extra prompt context relevant to the task. Best-effort: a missing
// binary, a non-zero exit, or empty output all yield no context and
// never delay the loop beyond a short timeout.
func externalContext(task string) []string {
	bin, err := exec.LookPath("spec")
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, "context", task).Output()
	if err != nil {
		return nil
	}
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil
	}
	return []string{string(trimmed)}
}

// watchInterrupt cancels ctx's cancel func on SIGINT/SIGTERM, so a
// long-running loop or daemon shuts down cleanly on Ctrl-C.
func watchInterrupt(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
}
