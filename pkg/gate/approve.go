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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the user a yes/no question and reports no-TTY
// situations distinctly from a "no" answer.
type Prompter interface {
	// Confirm prints prompt and waits for a y/yes answer. ok is false
	// for any other answer. noTTY is true if no interactive prompt was
	// possible at all, in which case ok is always false.
	Confirm(prompt string) (ok bool, noTTY bool)
}

// TerminalPrompter implements Prompter against a real terminal.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter returns a Prompter backed by stdin/stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// Confirm implements Prompter.
func (p *TerminalPrompter) Confirm(prompt string) (ok bool, noTTY bool) {
	if !term.IsTerminal(int(p.In.Fd())) {
		fmt.Fprintln(p.Out, "approval needed but no TTY")
		return false, true
	}
	fmt.Fprintf(p.Out, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(p.In)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", false
}
