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

package main

import (
	"fmt"
	"log/slog"
	"os"
)

// LogFileEnvVar and LogLevelEnvVar let a shell session set defaults
// without repeating flags on every invocation.
const (
	LogFileEnvVar  = "DAEDALOS_LOG_FILE"
	LogLevelEnvVar = "DAEDALOS_LOG_LEVEL"
)

// initLogger installs a slog.Logger as the default logger for the
// process. Priority: CLI flag > env var > default ("info", stderr).
// The returned cleanup func closes the log file, if one was opened,
// and should be deferred by the caller.
func initLogger(cliLevel, cliFile string) (func(), error) {
	levelName := cliLevel
	if levelName == "" {
		levelName = os.Getenv(LogLevelEnvVar)
	}
	if levelName == "" {
		levelName = "info"
	}
	level, err := parseLevel(levelName)
	if err != nil {
		return nil, err
	}

	file := cliFile
	if file == "" {
		file = os.Getenv(LogFileEnvVar)
	}

	var out *os.File
	var cleanup func()
	if file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %q: %w", file, err)
		}
		out = f
		cleanup = func() { _ = f.Close() }
	} else {
		out = os.Stderr
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}

func parseLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", name)
	}
}
