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

package paths

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateDirHonorsOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DAEDALOS_STATE_DIR", filepath.Join(dir, "state"))

	got, err := StateDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "state"), got)
	info, err := os.Stat(got)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestConfigDirHonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DAEDALOS_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ConfigDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, appName), got)
}

func TestSocketAndPIDFilePaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DAEDALOS_RUNTIME_DIR", dir)
	stateDir := t.TempDir()
	t.Setenv("DAEDALOS_STATE_DIR", stateDir)

	sock, err := SocketPath("tool-hub")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "tool-hub.sock"), sock)

	pidFile, err := PIDFilePath("tool-hub")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(stateDir, "tool-hub", "daemon.pid"), pidFile)
}

func TestIsStalePIDMissingFile(t *testing.T) {
	stale, pid, err := IsStalePID(filepath.Join(t.TempDir(), "nope.pid"))
	require.NoError(t, err)
	require.False(t, stale)
	require.Zero(t, pid)
}

func TestIsStalePIDLiveProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "live.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644))

	stale, pid, err := IsStalePID(pidFile)
	require.NoError(t, err)
	require.False(t, stale)
	require.Equal(t, os.Getpid(), pid)
}

func TestIsStalePIDGarbageContents(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "garbage.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0o644))

	stale, _, err := IsStalePID(pidFile)
	require.NoError(t, err)
	require.True(t, stale)
}
