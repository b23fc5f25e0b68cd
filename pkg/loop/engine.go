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
	"log/slog"
	"time"
)

// pauseTick is how often a running loop re-reads its own state to check
// for an externally written pause/cancel.
const pauseTick = 1 * time.Second

// defaultIterationTimeout bounds a single agent invocation when the
// caller doesn't specify one.
const defaultIterationTimeout = 10 * time.Minute

// Engine drives a single loop's lifecycle: promise evaluation,
// checkpointing, and agent invocation, persisting State to stateDir
// after every iteration and status change.
type Engine struct {
	StateDir         string
	Agent            AgentAdapter
	Backend          CheckpointBackend
	IterationTimeout time.Duration
	Notifier         interface {
		LoopComplete(loopID, task string, succeeded bool)
	}
}

// NewEngine wires an Engine with sane defaults: auto-detected
// checkpoint backend (resolved per-run against the loop's WorkDir) if
// Backend is left nil, and a 10-minute per-iteration agent timeout.
func NewEngine(stateDir string, agent AgentAdapter) *Engine {
	return &Engine{StateDir: stateDir, Agent: agent, IterationTimeout: defaultIterationTimeout}
}

func (e *Engine) backendFor(workDir string) CheckpointBackend {
	if e.Backend != nil {
		return e.Backend
	}
	return DetectBackend(workDir)
}

// Run executes a loop to completion, mutating and persisting s.State
// throughout. Called on a State persisted mid-iteration (resume), it
// picks up at CurrentIteration+1 rather than restarting iteration
// numbering, so a resumed loop converges to the same terminal status
// as an uninterrupted run. It never returns a Go error for a failing
// promise or agent timeout — those are expected steps recorded on s
// and reflected in its terminal Status.
func (e *Engine) Run(ctx context.Context, s *State) error {
	return e.run(ctx, s, true)
}

// run is the shared loop driver. initialCheck controls whether an
// already-passing promise completes the loop before the first agent
// invocation; subagent loops skip it, since their promise is often
// trivially satisfiable and the agent must still perform its objective
// at least once.
func (e *Engine) run(ctx context.Context, s *State, initialCheck bool) error {
	if err := s.SetStatus(StatusRunning); err != nil {
		return err
	}
	if err := e.saveMerged(s); err != nil {
		return err
	}
	if s.Status == StatusCancelled {
		return e.finish(s, StatusCancelled, "loop paused/cancelled externally")
	}

	if initialCheck {
		res, err := evaluatePromise(ctx, s.Promise, s.WorkDir, e.IterationTimeout)
		if err != nil {
			slog.Warn("loop: initial promise evaluation errored", "loop_id", s.ID, "error", err)
		}
		if res.Passed {
			return e.finish(s, StatusCompleted, "")
		}
	}

	backend := e.backendFor(s.WorkDir)
	if s.InitialCheckpoint == "" {
		initial, err := backend.Create(s.WorkDir, "initial")
		if err != nil {
			// An initial-checkpoint-error is terminal: the loop fails before running.
			return e.finish(s, StatusFailed, fmt.Sprintf("initial checkpoint failed: %v", err))
		}
		s.InitialCheckpoint = initial.ID
		if err := s.Save(e.StateDir); err != nil {
			return err
		}
	}

	var prevPromiseOutput string
	prevPassed := false
	if n := len(s.Iterations); n > 0 {
		last := s.Iterations[n-1]
		prevPromiseOutput = last.PromiseStdout + last.PromiseStderr
		prevPassed = last.PromiseResult == PromisePass
	}

	for k := s.CurrentIteration + 1; k <= s.MaxIterations; k++ {
		if stop, status := e.awaitResumable(ctx, s); stop {
			return e.finish(s, status, "loop paused/cancelled externally")
		}

		iter := Iteration{Number: k, StartedAt: time.Now(), PromiseResult: PromisePending}

		cp, err := backend.Create(s.WorkDir, fmt.Sprintf("iteration-%d", k))
		if err != nil {
			// Recoverable: log and continue without a checkpoint this iteration.
			slog.Warn("loop: iteration checkpoint failed, continuing without one",
				"loop_id", s.ID, "iteration", k, "error", err)
		} else {
			iter.CheckpointID = cp.ID
		}

		prompt := composePrompt(s.Task, s.Promise, k, s.MaxIterations, s.InjectedContext, prevPromiseOutput, prevPassed)

		agentResult, agentErr := e.Agent.Run(ctx, prompt, s.WorkDir, "", e.IterationTimeout)
		iter.AgentStdout = agentResult.Stdout
		iter.AgentStderr = agentResult.Stderr
		if agentErr != nil {
			slog.Warn("loop: agent invocation failed", "loop_id", s.ID, "iteration", k, "error", agentErr)
		}

		promiseRes, promiseErr := evaluatePromise(ctx, s.Promise, s.WorkDir, e.IterationTimeout)
		iter.PromiseStdout = promiseRes.Stdout
		iter.PromiseStderr = promiseRes.Stderr
		if promiseErr != nil {
			slog.Warn("loop: promise evaluation errored", "loop_id", s.ID, "iteration", k, "error", promiseErr)
		}

		iter.EndedAt = time.Now()
		iter.DurationMS = iter.EndedAt.Sub(iter.StartedAt).Milliseconds()

		if promiseRes.Passed {
			iter.PromiseResult = PromisePass
			s.Iterations = append(s.Iterations, iter)
			s.CurrentIteration = k
			if err := s.Save(e.StateDir); err != nil {
				return err
			}
			return e.finish(s, StatusCompleted, "")
		}

		iter.PromiseResult = PromiseFail
		s.Iterations = append(s.Iterations, iter)
		s.CurrentIteration = k
		if err := e.saveMerged(s); err != nil {
			return err
		}

		prevPromiseOutput = promiseRes.Stdout + promiseRes.Stderr
		prevPassed = false
	}

	return e.finish(s, StatusFailed, fmt.Sprintf("Max iterations (%d) reached", s.MaxIterations))
}

// saveMerged persists s, first adopting an externally written pause or
// cancel so the loop's own save never clobbers another actor's status
// edit made while an iteration was in flight.
func (e *Engine) saveMerged(s *State) error {
	if fresh, err := LoadState(e.StateDir, s.ID); err == nil {
		if fresh.Status == StatusPaused || fresh.Status == StatusCancelled {
			s.Status = fresh.Status
		}
	}
	return s.Save(e.StateDir)
}

func (e *Engine) finish(s *State, status Status, message string) error {
	if err := s.SetStatus(status); err != nil {
		return err
	}
	s.ErrorMessage = message
	if err := s.Save(e.StateDir); err != nil {
		return err
	}
	if e.Notifier != nil {
		e.Notifier.LoopComplete(s.ID, s.Task, status == StatusCompleted)
	}
	return nil
}

// awaitResumable re-reads the loop's own persisted state between
// iterations. If another actor has written StatusPaused, it sleeps in
// pauseTick increments until resumed or cancelled. If StatusCancelled,
// it reports the loop should stop.
func (e *Engine) awaitResumable(ctx context.Context, s *State) (stop bool, status Status) {
	for {
		fresh, err := LoadState(e.StateDir, s.ID)
		if err != nil {
			return false, s.Status
		}
		switch fresh.Status {
		case StatusCancelled:
			return true, StatusCancelled
		case StatusPaused:
			select {
			case <-ctx.Done():
				return true, StatusCancelled
			case <-time.After(pauseTick):
				continue
			}
		default:
			// A resumed loop picks its running status back up so the
			// eventual terminal transition is legal from here.
			s.Status = fresh.Status
			return false, s.Status
		}
	}
}
