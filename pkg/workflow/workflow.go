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

// Package workflow sequences multiple dependent loops declared in a
// single YAML document, so a caller can express a multi-stage task
// (write a failing test, then make it pass, then refactor) as one
// invocation instead of several manual loop starts.
package workflow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/daedalos/daedalos/pkg/loop"
)

// defaultMaxIterations matches the per-loop default when a workflow
// loop definition omits max_iterations.
const defaultMaxIterations = 10

// defaultTimeoutSeconds is the per-iteration agent timeout (five
// minutes) used when a workflow loop definition omits a timeout; it is
// shorter than a standalone loop's 10-minute default.
const defaultTimeoutSeconds = 300

// LoopDef is the definition of one loop within a workflow.
type LoopDef struct {
	ID            string   `yaml:"id" json:"id"`
	Prompt        string   `yaml:"prompt" json:"prompt"`
	Promise       string   `yaml:"promise" json:"promise"`
	MaxIterations int      `yaml:"max_iterations,omitempty" json:"max_iterations"`
	DependsOn     []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Agent         string   `yaml:"agent,omitempty" json:"agent,omitempty"`
	TimeoutSec    int      `yaml:"timeout,omitempty" json:"timeout"`
}

// Defaults holds workflow-wide fallback values a loop definition may
// omit.
type Defaults struct {
	MaxIterations int `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
}

// Definition is a multi-loop workflow document.
type Definition struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Loops       []LoopDef         `yaml:"loops" json:"loops"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	OnComplete  []string          `yaml:"on_complete,omitempty" json:"on_complete,omitempty"`
	OnFailure   []string          `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
	Defaults    Defaults          `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

// Load reads a workflow document from path, substituting `{{key}}`
// placeholders from variables before parsing, rather than templating
// the typed struct after the fact.
func Load(path string, variables map[string]string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	return Parse(raw, variables)
}

// Parse substitutes variables into raw YAML and unmarshals it into a
// Definition, applying the loop-definition defaults below.
func Parse(raw []byte, variables map[string]string) (*Definition, error) {
	text := string(raw)
	for key, value := range variables {
		text = strings.ReplaceAll(text, fmt.Sprintf("{{%s}}", key), value)
	}

	var def Definition
	if err := yaml.Unmarshal([]byte(text), &def); err != nil {
		return nil, fmt.Errorf("workflow: parse document: %w", err)
	}

	if err := def.validate(); err != nil {
		return nil, err
	}
	def.applyDefaults()
	return &def, nil
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow: document has no name")
	}
	if len(d.Loops) == 0 {
		return fmt.Errorf("workflow %q: no loops defined", d.Name)
	}
	seen := make(map[string]bool, len(d.Loops))
	for _, l := range d.Loops {
		if l.ID == "" {
			return fmt.Errorf("workflow %q: loop with empty id", d.Name)
		}
		if seen[l.ID] {
			return fmt.Errorf("workflow %q: duplicate loop id %q", d.Name, l.ID)
		}
		seen[l.ID] = true
	}
	for _, l := range d.Loops {
		for _, dep := range l.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("workflow %q: loop %q depends on unknown loop %q", d.Name, l.ID, dep)
			}
		}
	}
	return nil
}

func (d *Definition) applyDefaults() {
	maxIter := d.Defaults.MaxIterations
	if maxIter == 0 {
		maxIter = defaultMaxIterations
	}
	for i := range d.Loops {
		if d.Loops[i].MaxIterations == 0 {
			d.Loops[i].MaxIterations = maxIter
		}
		if d.Loops[i].TimeoutSec == 0 {
			d.Loops[i].TimeoutSec = defaultTimeoutSeconds
		}
	}
}

// Status is a workflow execution's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Execution is the mutable record of one workflow run.
type Execution struct {
	Definition     *Definition            `json:"-"`
	Status         Status                 `json:"status"`
	CompletedLoops []string               `json:"completed_loops"`
	FailedLoop     string                 `json:"failed_loop,omitempty"`
	LoopStates     map[string]*loop.State `json:"loop_states"`
	CurrentLoop    string                 `json:"current_loop,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
}

// NewExecution creates a pending execution record for def.
func NewExecution(def *Definition) *Execution {
	return &Execution{
		Definition: def,
		Status:     StatusPending,
		LoopStates: make(map[string]*loop.State),
	}
}

// readyLoops returns loop definitions whose dependencies are all
// satisfied and which have neither completed nor been recorded as the
// failed loop.
func (e *Execution) readyLoops() []LoopDef {
	completed := make(map[string]bool, len(e.CompletedLoops))
	for _, id := range e.CompletedLoops {
		completed[id] = true
	}

	var ready []LoopDef
	for _, l := range e.Definition.Loops {
		if completed[l.ID] || l.ID == e.FailedLoop {
			continue
		}
		depsMet := true
		for _, dep := range l.DependsOn {
			if !completed[dep] {
				depsMet = false
				break
			}
		}
		if depsMet {
			ready = append(ready, l)
		}
	}
	return ready
}
