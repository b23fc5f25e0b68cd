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

package gate

import (
	"fmt"
	"os"
	"time"
)

// Engine evaluates gate requests against a Config, prompting for
// interactive approvals and recording every decision to an AuditLog.
type Engine struct {
	Config   *Config
	Audit    *AuditLog
	Prompter Prompter
}

// NewEngine builds an Engine. prompter may be nil, in which case any
// "approve" gate behaves as if running non-interactively.
func NewEngine(cfg *Config, audit *AuditLog, prompter Prompter) *Engine {
	return &Engine{Config: cfg, Audit: audit, Prompter: prompter}
}

// Evaluate resolves the effective action for req and returns the
// decision, logging it to the audit trail. The sensitive-file override
// is applied before the nominal gate's action is looked up: if req.Path
// matches a configured sensitive-path glob, the sensitive_file gate's
// action governs regardless of req.Gate.
func (e *Engine) Evaluate(req Request) (Result, error) {
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	effectiveGate := req.Gate
	if e.Config.MatchesSensitivePath(req.Path) {
		effectiveGate = GateSensitiveFile
	}
	action := e.Config.ActionFor(effectiveGate)

	if action == ActionNotify {
		// Non-blocking heads-up; the action itself still proceeds.
		fmt.Fprintf(os.Stderr, "daedalos gate: %s (%s)\n", effectiveGate, req.Source)
	}

	result := e.resolve(action)

	if e.Audit != nil {
		_ = e.Audit.Append(AuditEntry{
			Timestamp: req.Timestamp,
			Gate:      req.Gate,
			Source:    req.Source,
			Path:      req.Path,
			Action:    result.Action,
			Allowed:   result.Allowed,
			Reason:    result.Reason,
			Approver:  result.Approver,
		})
	}
	return result, nil
}

func (e *Engine) resolve(action Action) Result {
	switch action {
	case ActionAllow:
		return Result{Allowed: true, Action: action, Approver: ApproverAuto}
	case ActionNotify:
		return Result{Allowed: true, Action: action, Approver: ApproverAuto, Reason: "notified"}
	case ActionDeny:
		return Result{Allowed: false, Action: action, Approver: ApproverNone, Reason: "denied by policy"}
	case ActionApprove:
		if e.Prompter == nil {
			return Result{Allowed: false, Action: action, Approver: ApproverNone, Reason: ReasonNonInteractive}
		}
		ok, noTTY := e.Prompter.Confirm("approve this action?")
		if noTTY {
			return Result{Allowed: false, Action: action, Approver: ApproverNone, Reason: ReasonNonInteractive}
		}
		if ok {
			return Result{Allowed: true, Action: action, Approver: ApproverUser}
		}
		return Result{Allowed: false, Action: action, Approver: ApproverUser, Reason: "declined by user"}
	default:
		return Result{Allowed: false, Action: action, Approver: ApproverNone, Reason: "unknown action"}
	}
}
