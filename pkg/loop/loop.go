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

// Package loop implements the iterate-until-a-shell-promise-passes
// execution model: checkpointing, pause/resume, parallel best-of-N
// branching, and the orchestrator that dispatches constrained subagent
// loops. A loop's State is mutated only by the owning loop's thread of
// control (single-writer) and persisted to disk after every iteration
// and every status change.
package loop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Status is a loop's lifecycle state. Transitions only move along the
// DAG pending -> running -> {paused <-> running} -> {completed, failed,
// cancelled}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func terminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// validTransitions enumerates the DAG edges Status may move along.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {StatusRunning: true, StatusCancelled: true},
	StatusRunning: {
		StatusPaused: true, StatusCompleted: true, StatusFailed: true, StatusCancelled: true,
		StatusRunning: true, // no-op re-save
	},
	StatusPaused: {
		StatusRunning: true, StatusCompleted: true, StatusFailed: true, StatusCancelled: true,
		StatusPaused: true,
	},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if terminal(from) {
		return false
	}
	return validTransitions[from][to]
}

// PromiseOutcome is the result of evaluating an iteration's promise.
type PromiseOutcome string

const (
	PromisePass    PromiseOutcome = "pass"
	PromiseFail    PromiseOutcome = "fail"
	PromisePending PromiseOutcome = "pending"
)

// Iteration is one append-only record of a single loop iteration.
type Iteration struct {
	Number        int            `json:"number"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       time.Time      `json:"ended_at,omitempty"`
	CheckpointID  string         `json:"checkpoint_id,omitempty"`
	PromiseResult PromiseOutcome `json:"promise_result"`
	PromiseStdout string         `json:"promise_stdout,omitempty"`
	PromiseStderr string         `json:"promise_stderr,omitempty"`
	AgentStdout   string         `json:"agent_stdout,omitempty"`
	AgentStderr   string         `json:"agent_stderr,omitempty"`
	FileChanges   string         `json:"file_changes,omitempty"`
	DurationMS    int64          `json:"duration_ms"`
}

// State is the persisted loop record.
type State struct {
	ID                string      `json:"id"`
	Task              string      `json:"task"`
	Promise           string      `json:"promise"`
	WorkDir           string      `json:"work_dir"`
	Agent             string      `json:"agent"`
	MaxIterations     int         `json:"max_iterations"`
	CurrentIteration  int         `json:"current_iteration"`
	Status            Status      `json:"status"`
	Iterations        []Iteration `json:"iterations"`
	InitialCheckpoint string      `json:"initial_checkpoint,omitempty"`
	InjectedContext   []string    `json:"injected_context,omitempty"`
	Template          string      `json:"template,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	ErrorMessage      string      `json:"error_message,omitempty"`
}

// NewState constructs a fresh loop record in StatusPending.
func NewState(task, promise, workDir, agent string, maxIterations int) *State {
	now := time.Now()
	return &State{
		ID:            uuid.NewString(),
		Task:          task,
		Promise:       promise,
		WorkDir:       workDir,
		Agent:         agent,
		MaxIterations: maxIterations,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SetStatus transitions the loop to a new status, rejecting illegal
// moves per the status DAG.
func (s *State) SetStatus(next Status) error {
	if !CanTransition(s.Status, next) {
		return fmt.Errorf("loop: illegal status transition %s -> %s", s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = time.Now()
	return nil
}

// StatePath returns the on-disk path a loop state is persisted to.
func StatePath(stateDir, id string) string {
	return filepath.Join(stateDir, "loop", "states", id+".json")
}

// Save rewrites the loop's state file.
func (s *State) Save(stateDir string) error {
	s.UpdatedAt = time.Now()
	path := StatePath(stateDir, s.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create loop state dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal loop state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write loop state: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadState reads a persisted loop state by ID.
func LoadState(stateDir, id string) (*State, error) {
	data, err := os.ReadFile(StatePath(stateDir, id))
	if err != nil {
		return nil, fmt.Errorf("read loop state %s: %w", id, err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse loop state %s: %w", id, err)
	}
	return &s, nil
}

// ListStates returns every persisted loop state under stateDir, in no
// particular order.
func ListStates(stateDir string) ([]*State, error) {
	dir := filepath.Join(stateDir, "loop", "states")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list loop states: %w", err)
	}
	var states []*State
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		s, err := LoadState(stateDir, id)
		if err != nil {
			continue
		}
		states = append(states, s)
	}
	return states, nil
}
