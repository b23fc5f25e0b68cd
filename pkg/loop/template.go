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

// Template fixes a subagent's role: the objective text prefixed onto
// its task, the tool/permission boundary it is expected to respect,
// and the shape its final output should take. The orchestrator never
// invents templates at runtime — it selects from this fixed set.
type Template struct {
	Name            string
	ObjectivePrefix string
	Boundary        string
	OutputShape     string
	MaxIterations   int
}

const (
	TemplateExplorer    = "explorer"
	TemplateImplementer = "implementer"
	TemplateReviewer    = "reviewer"
	TemplateDebugger    = "debugger"
	TemplateTester      = "tester"
)

var templates = map[string]Template{
	TemplateExplorer: {
		Name:            TemplateExplorer,
		ObjectivePrefix: "Investigate the codebase to understand",
		Boundary:        "read-only: do not modify files",
		OutputShape:     "a findings summary naming relevant files and the structure you observed",
		MaxIterations:   1,
	},
	TemplateImplementer: {
		Name:            TemplateImplementer,
		ObjectivePrefix: "Implement",
		Boundary:        "may edit files under the working directory",
		OutputShape:     "a summary of the files changed and why",
		MaxIterations:   3,
	},
	TemplateReviewer: {
		Name:            TemplateReviewer,
		ObjectivePrefix: "Review the current changes for correctness and style against",
		Boundary:        "read-only: do not modify files",
		OutputShape:     "a list of concerns, or a clean bill of health",
		MaxIterations:   1,
	},
	TemplateDebugger: {
		Name:            TemplateDebugger,
		ObjectivePrefix: "Diagnose and fix the failure in",
		Boundary:        "may edit files under the working directory",
		OutputShape:     "a root-cause summary and the fix applied",
		MaxIterations:   3,
	},
	TemplateTester: {
		Name:            TemplateTester,
		ObjectivePrefix: "Write or extend tests to cover",
		Boundary:        "may edit test files under the working directory",
		OutputShape:     "a summary of test cases added and their coverage",
		MaxIterations:   2,
	},
}

// TemplateByName looks up a fixed subagent template by name.
func TemplateByName(name string) (Template, bool) {
	t, ok := templates[name]
	return t, ok
}

// objective composes the subagent's full task text from its template
// and the orchestrator-supplied topic (e.g. the main task, or a prior
// phase's synthesized findings).
func (t Template) objective(topic string) string {
	return t.ObjectivePrefix + " " + topic + " (" + t.Boundary + "). Report: " + t.OutputShape + "."
}
