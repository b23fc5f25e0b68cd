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
	"context"
	"fmt"
	"os"
	"os/exec"
)

// NotifySendBackend delivers via the Linux desktop `notify-send` utility.
type NotifySendBackend struct{}

func (b *NotifySendBackend) Name() string { return "notify-send" }

func (b *NotifySendBackend) Send(ctx context.Context, title, message string, level Level) error {
	if _, err := exec.LookPath("notify-send"); err != nil {
		return fmt.Errorf("notify-send not found: %w", err)
	}
	urgency := "normal"
	if level == LevelError {
		urgency = "critical"
	}
	return run(ctx, "notify-send", "--urgency", urgency, title, message)
}

// OsascriptBackend delivers via macOS's `osascript` AppleScript runner.
type OsascriptBackend struct{}

func (b *OsascriptBackend) Name() string { return "osascript" }

func (b *OsascriptBackend) Send(ctx context.Context, title, message string, level Level) error {
	if _, err := exec.LookPath("osascript"); err != nil {
		return fmt.Errorf("osascript not found: %w", err)
	}
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return run(ctx, "osascript", "-e", script)
}

// CustomCommandBackend invokes an arbitrary shell command with the
// title, message, and level passed as environment variables, letting a
// caller override the host-native mechanism entirely.
type CustomCommandBackend struct {
	Command string
}

func (b *CustomCommandBackend) Name() string { return "custom" }

func (b *CustomCommandBackend) Send(ctx context.Context, title, message string, level Level) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", b.Command)
	cmd.Env = append(os.Environ(),
		"DAEDALOS_NOTIFY_TITLE="+title,
		"DAEDALOS_NOTIFY_MESSAGE="+message,
		"DAEDALOS_NOTIFY_LEVEL="+string(level),
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("custom notify command: %w", err)
	}
	return nil
}
