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
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for name, want := range cases {
		got, err := parseLevel(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseLevelInvalid(t *testing.T) {
	_, err := parseLevel("verbose")
	require.Error(t, err)
}

func TestInitLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daedalos.log")
	cleanup, err := initLogger("debug", path)
	require.NoError(t, err)
	require.NotNil(t, cleanup)
	defer cleanup()

	slog.Info("test message")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "test message")
}
