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

package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errAlways = errors.New("always fails")

type failingBackend struct{ calls int }

func (f *failingBackend) Name() string { return "failing" }
func (f *failingBackend) Send(_ context.Context, title, message string, level Level) error {
	f.calls++
	return errAlways
}

func TestNotifierFallsBackToLogLine(t *testing.T) {
	var out bytes.Buffer
	fb := &failingBackend{}
	n := &Notifier{Backends: []Backend{fb}, Out: &out}

	n.Notify("Loop completed", "make tests pass (loop-1)", LevelSuccess)

	require.Equal(t, 1, fb.calls)
	require.Contains(t, out.String(), "Loop completed")
	require.Contains(t, out.String(), "make tests pass (loop-1)")
}

func TestLoopCompleteWording(t *testing.T) {
	var out bytes.Buffer
	n := &Notifier{Out: &out}

	n.LoopComplete("loop-9", "fix bug", true)
	require.Contains(t, out.String(), "Loop completed")

	out.Reset()
	n.LoopComplete("loop-9", "fix bug", false)
	require.Contains(t, out.String(), "Loop failed")
}
