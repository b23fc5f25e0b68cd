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

// Package workspace is the durable shared memory an orchestrated loop and
// its subagents read and write: findings, handoffs, artifacts, and the
// orchestrator's plan and per-subagent status. The orchestrator is the
// sole writer of plan and subagent-status fields; each subagent appends
// only its own findings and reads only handoffs addressed to it.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrNotRegistered is returned when an operation references a subagent ID
// that was never registered. There is no implicit identity creation on
// first read — see RegisterSubagent.
var ErrNotRegistered = errors.New("workspace: subagent not registered")

// ErrMissing is returned by Load when no workspace exists for a loop ID.
var ErrMissing = errors.New("workspace: missing")

// FindingType classifies who produced a finding.
type FindingType string

const (
	FindingExplorer    FindingType = "explorer"
	FindingImplementer FindingType = "implementer"
	FindingReviewer    FindingType = "reviewer"
	FindingDebugger    FindingType = "debugger"
	FindingTester      FindingType = "tester"
)

// MaxFindingLength bounds a single finding's content text.
const MaxFindingLength = 8000

// Finding is an append-only observation authored by a subagent.
type Finding struct {
	ID        string      `json:"id"`
	Author    string      `json:"author"`
	Type      FindingType `json:"type"`
	Content   string      `json:"content"`
	Files     []string    `json:"files,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Handoff passes a message (and optional context files) from one
// subagent to another. Acknowledged flips once, false to true.
type Handoff struct {
	ID           string    `json:"id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Message      string    `json:"message"`
	ContextFiles []string  `json:"context_files,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

// SubagentStatus mirrors a constrained loop's lifecycle.
type SubagentStatus string

const (
	SubagentPending   SubagentStatus = "pending"
	SubagentRunning   SubagentStatus = "running"
	SubagentCompleted SubagentStatus = "completed"
	SubagentFailed    SubagentStatus = "failed"
	SubagentCancelled SubagentStatus = "cancelled"
)

// terminalSubagentStatus reports whether status is a terminal state.
func terminalSubagentStatus(s SubagentStatus) bool {
	return s == SubagentCompleted || s == SubagentFailed || s == SubagentCancelled
}

// Subagent is one registered nested-loop participant in the orchestration.
type Subagent struct {
	ID            string         `json:"id"`
	Template      string         `json:"template"`
	Objective     string         `json:"objective"`
	Status        SubagentStatus `json:"status"`
	LoopID        string         `json:"loop_id,omitempty"`
	StartedAt     time.Time      `json:"started_at,omitempty"`
	FinishedAt    time.Time      `json:"finished_at,omitempty"`
	PromiseResult bool           `json:"promise_result"`
	Summary       string         `json:"summary,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Plan is the orchestrator's ordered phase list and cursor.
type Plan struct {
	Phases       []string `json:"phases"`
	CurrentPhase int      `json:"current_phase"`
	Strategy     string   `json:"strategy,omitempty"`
}

// Counters track per-run limits the gate engine's autonomy sweep checks.
type Counters struct {
	Iterations   int `json:"iterations"`
	FileChanges  int `json:"file_changes"`
	LinesChanged int `json:"lines_changed"`
}

// State is the full on-disk workspace document.
type State struct {
	LoopID    string               `json:"loop_id"`
	Task      string               `json:"task"`
	Promise   string               `json:"promise"`
	Iteration int                  `json:"iteration"`
	Plan      Plan                 `json:"plan"`
	Subagents map[string]*Subagent `json:"subagents"`
	Findings  []Finding            `json:"findings"`
	Handoffs  []Handoff            `json:"handoffs"`
	Counters  Counters             `json:"counters"`
	LastError string               `json:"last_error,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Workspace wraps a State with its on-disk location and a file lock
// serialising the read-modify-write cycle across process boundaries.
type Workspace struct {
	dir   string
	lock  *flock
	State *State
}

func dirFor(root, loopID string) string {
	return filepath.Join(root, "loops", loopID)
}

func docPath(dir string) string {
	return filepath.Join(dir, "workspace.json")
}

// Create binds a fresh workspace to loopID under root (typically
// <state>), in the directory <root>/loops/<loopID>.
func Create(root, loopID, task, promise string) (*Workspace, error) {
	dir := dirFor(root, loopID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	for _, sub := range []string{"findings", "handoffs", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create workspace %s dir: %w", sub, err)
		}
	}
	now := time.Now()
	w := &Workspace{
		dir:  dir,
		lock: newFlock(filepath.Join(dir, ".lock")),
		State: &State{
			LoopID:    loopID,
			Task:      task,
			Promise:   promise,
			Subagents: make(map[string]*Subagent),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if err := w.Save(); err != nil {
		return nil, err
	}
	return w, nil
}

// Load reads an existing workspace by loop ID.
func Load(root, loopID string) (*Workspace, error) {
	dir := dirFor(root, loopID)
	data, err := os.ReadFile(docPath(dir))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: loop %s", ErrMissing, loopID)
	}
	if err != nil {
		return nil, fmt.Errorf("read workspace: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse workspace: %w", err)
	}
	if st.Subagents == nil {
		st.Subagents = make(map[string]*Subagent)
	}
	return &Workspace{dir: dir, lock: newFlock(filepath.Join(dir, ".lock")), State: &st}, nil
}

// Destroy removes the workspace's directory entirely.
func (w *Workspace) Destroy() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("destroy workspace: %w", err)
	}
	return nil
}

// Save persists the in-memory State to disk, whole-file, under the
// workspace's advisory lock. Last writer wins at this granularity;
// single-writer-per-record discipline is enforced by the caller
// contracts documented on each mutator below.
func (w *Workspace) Save() error {
	if err := w.lock.Lock(); err != nil {
		return fmt.Errorf("lock workspace: %w", err)
	}
	defer w.lock.Unlock()

	w.State.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(w.State, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workspace: %w", err)
	}
	tmp := docPath(w.dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write workspace: %w", err)
	}
	if err := os.Rename(tmp, docPath(w.dir)); err != nil {
		return fmt.Errorf("finalize workspace: %w", err)
	}
	return nil
}

// reload re-reads the on-disk document into w.State while holding the
// lock, so append operations observe concurrent writers' progress
// before merging in their own change.
func (w *Workspace) reload() error {
	data, err := os.ReadFile(docPath(w.dir))
	if err != nil {
		return fmt.Errorf("reload workspace: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse workspace: %w", err)
	}
	if st.Subagents == nil {
		st.Subagents = make(map[string]*Subagent)
	}
	w.State = &st
	return nil
}

// SetPlan overwrites the orchestrator's plan. Only the orchestrator may
// call this.
func (w *Workspace) SetPlan(phases []string, strategy string) error {
	if err := w.reload(); err != nil {
		return err
	}
	w.State.Plan = Plan{Phases: phases, CurrentPhase: 0, Strategy: strategy}
	return w.Save()
}

// AdvancePhase moves the plan cursor forward, returning false if there is
// no next phase.
func (w *Workspace) AdvancePhase() (bool, error) {
	if err := w.reload(); err != nil {
		return false, err
	}
	if w.State.Plan.CurrentPhase+1 >= len(w.State.Plan.Phases) {
		return false, nil
	}
	w.State.Plan.CurrentPhase++
	return true, w.Save()
}

// CurrentPhase returns the plan's current phase name, or "" if the plan
// is empty or exhausted.
func (w *Workspace) CurrentPhase() string {
	if w.State.Plan.CurrentPhase >= len(w.State.Plan.Phases) {
		return ""
	}
	return w.State.Plan.Phases[w.State.Plan.CurrentPhase]
}

// RegisterSubagent adds a new subagent record in SubagentPending status.
// This is the explicit registration step required before the ID may
// appear as a finding author or handoff target (resolving the "implicit
// identity on first read" ambiguity with an explicit step instead).
func (w *Workspace) RegisterSubagent(template, objective string) (*Subagent, error) {
	if err := w.reload(); err != nil {
		return nil, err
	}
	sub := &Subagent{
		ID:        uuid.NewString(),
		Template:  template,
		Objective: objective,
		Status:    SubagentPending,
	}
	w.State.Subagents[sub.ID] = sub
	if err := w.Save(); err != nil {
		return nil, err
	}
	return sub, nil
}

// SubagentUpdate carries the partial mutation UpdateSubagent applies.
type SubagentUpdate struct {
	Status        *SubagentStatus
	LoopID        *string
	PromiseResult *bool
	Summary       *string
	Error         *string
}

// UpdateSubagent applies a partial mutation to a registered subagent.
// Start/finish timestamps are applied by this state machine: the first
// transition into SubagentRunning stamps StartedAt; any transition into
// a terminal status stamps FinishedAt. Only the orchestrator may call
// this.
func (w *Workspace) UpdateSubagent(id string, upd SubagentUpdate) error {
	if err := w.reload(); err != nil {
		return err
	}
	sub, ok := w.State.Subagents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	if upd.LoopID != nil {
		sub.LoopID = *upd.LoopID
	}
	if upd.PromiseResult != nil {
		sub.PromiseResult = *upd.PromiseResult
	}
	if upd.Summary != nil {
		sub.Summary = *upd.Summary
	}
	if upd.Error != nil {
		sub.Error = *upd.Error
	}
	if upd.Status != nil {
		if sub.Status == SubagentPending && *upd.Status == SubagentRunning {
			sub.StartedAt = time.Now()
		}
		if terminalSubagentStatus(*upd.Status) && !terminalSubagentStatus(sub.Status) {
			sub.FinishedAt = time.Now()
		}
		sub.Status = *upd.Status
	}
	return w.Save()
}

// GetSubagent returns a registered subagent by ID.
func (w *Workspace) GetSubagent(id string) (*Subagent, error) {
	sub, ok := w.State.Subagents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return sub, nil
}

// AddFinding appends a finding authored by author, bounding content to
// MaxFindingLength. author must already be a registered subagent ID.
func (w *Workspace) AddFinding(author string, typ FindingType, content string, files []string) (Finding, error) {
	if err := w.reload(); err != nil {
		return Finding{}, err
	}
	if _, ok := w.State.Subagents[author]; !ok {
		return Finding{}, fmt.Errorf("%w: %s", ErrNotRegistered, author)
	}
	if len(content) > MaxFindingLength {
		content = content[:MaxFindingLength]
	}
	f := Finding{
		ID:        uuid.NewString(),
		Author:    author,
		Type:      typ,
		Content:   content,
		Files:     files,
		Timestamp: time.Now(),
	}
	w.State.Findings = append(w.State.Findings, f)
	return f, w.Save()
}

// GetFindings returns findings, optionally filtered by type and/or
// author (empty string means unfiltered for that dimension).
func (w *Workspace) GetFindings(typ FindingType, author string) []Finding {
	var out []Finding
	for _, f := range w.State.Findings {
		if typ != "" && f.Type != typ {
			continue
		}
		if author != "" && f.Author != author {
			continue
		}
		out = append(out, f)
	}
	return out
}

// AddHandoff appends a handoff from "from" to "to". Both must already be
// registered subagent IDs.
func (w *Workspace) AddHandoff(from, to, message string, contextFiles []string) (Handoff, error) {
	if err := w.reload(); err != nil {
		return Handoff{}, err
	}
	if _, ok := w.State.Subagents[from]; !ok {
		return Handoff{}, fmt.Errorf("%w: %s", ErrNotRegistered, from)
	}
	if _, ok := w.State.Subagents[to]; !ok {
		return Handoff{}, fmt.Errorf("%w: %s", ErrNotRegistered, to)
	}
	h := Handoff{
		ID:           uuid.NewString(),
		From:         from,
		To:           to,
		Message:      message,
		ContextFiles: contextFiles,
		Timestamp:    time.Now(),
	}
	w.State.Handoffs = append(w.State.Handoffs, h)
	return h, w.Save()
}

// AcknowledgeHandoff flips a handoff's Acknowledged flag false->true. A
// second call is a no-op, not an error.
func (w *Workspace) AcknowledgeHandoff(id string) error {
	if err := w.reload(); err != nil {
		return err
	}
	for i := range w.State.Handoffs {
		if w.State.Handoffs[i].ID == id {
			w.State.Handoffs[i].Acknowledged = true
			return w.Save()
		}
	}
	return fmt.Errorf("workspace: handoff %s not found", id)
}

// StartIteration increments the workspace's iteration counter and
// returns the new value.
func (w *Workspace) StartIteration() (int, error) {
	if err := w.reload(); err != nil {
		return 0, err
	}
	w.State.Iteration++
	w.State.Counters.Iterations++
	return w.State.Iteration, w.Save()
}

// maxContextFindings bounds how many findings BuildContextForSubagent
// summarises, keeping the composed prompt body bounded in size.
const maxContextFindings = 30

// BuildContextForSubagent composes the text body a subagent should see:
// its unacknowledged handoffs, then a bounded summary of all findings.
// id must already be registered.
func (w *Workspace) BuildContextForSubagent(id string) (string, error) {
	if _, ok := w.State.Subagents[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	out := ""
	var pending []Handoff
	for _, h := range w.State.Handoffs {
		if h.To == id && !h.Acknowledged {
			pending = append(pending, h)
		}
	}
	if len(pending) > 0 {
		out += "## Handoffs\n"
		for _, h := range pending {
			out += fmt.Sprintf("- from %s: %s\n", h.From, h.Message)
		}
		out += "\n"
	}

	findings := w.State.Findings
	if len(findings) > maxContextFindings {
		findings = findings[len(findings)-maxContextFindings:]
	}
	if len(findings) > 0 {
		out += "## Findings so far\n"
		for _, f := range findings {
			out += fmt.Sprintf("- [%s/%s] %s\n", f.Type, f.Author, f.Content)
		}
	}
	return out, nil
}
