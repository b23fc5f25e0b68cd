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
	"fmt"
	"strings"
)

// maxPromiseExcerpt bounds how much of a failing promise's output is
// replayed into the next iteration's prompt.
const maxPromiseExcerpt = 2000

// composePrompt builds the prompt text for iteration k of n in a
// fixed order: task, iteration header, promise
// as the success condition, injected context, a bounded excerpt of the
// previous failing promise output (k > 1 only), and closing
// instructions.
func composePrompt(task, promise string, k, n int, injectedContext []string, prevPromiseOutput string, prevPassed bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n\n", task)
	fmt.Fprintf(&b, "Iteration %d of %d.\n\n", k, n)
	fmt.Fprintf(&b, "Success condition: the following command must exit 0:\n\n    %s\n\n", promise)

	for _, c := range injectedContext {
		fmt.Fprintf(&b, "Context: %s\n\n", c)
	}

	if k > 1 && !prevPassed && prevPromiseOutput != "" {
		excerpt := prevPromiseOutput
		if len(excerpt) > maxPromiseExcerpt {
			excerpt = excerpt[len(excerpt)-maxPromiseExcerpt:]
		}
		fmt.Fprintf(&b, "The previous iteration's success condition still failed. Its output:\n\n%s\n\n", excerpt)
	}

	b.WriteString("Make the minimal changes needed to satisfy the success condition, then stop.\n")
	return b.String()
}
