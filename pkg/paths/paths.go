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

// Package paths resolves the on-disk locations Daedalos components read
// and write: persistent state (including daemon PID files), user
// configuration, and daemon runtime sockets.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const appName = "daedalos"

// StateDir returns the root directory for persistent state (loop states,
// undo timeline, workspaces, gate audit log), creating it if necessary.
// Honors DAEDALOS_STATE_DIR, else $XDG_STATE_HOME/daedalos, else
// ~/.local/state/daedalos.
func StateDir() (string, error) {
	if v := os.Getenv("DAEDALOS_STATE_DIR"); v != "" {
		return ensureDir(v)
	}
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return ensureDir(filepath.Join(v, appName))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve state dir: %w", err)
	}
	return ensureDir(filepath.Join(home, ".local", "state", appName))
}

// ConfigDir returns the root directory for user configuration (gate
// policy, pool config, workflow definitions). Honors DAEDALOS_CONFIG_DIR,
// else $XDG_CONFIG_HOME/daedalos, else ~/.config/daedalos.
func ConfigDir() (string, error) {
	if v := os.Getenv("DAEDALOS_CONFIG_DIR"); v != "" {
		return ensureDir(v)
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return ensureDir(filepath.Join(v, appName))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return ensureDir(filepath.Join(home, ".config", appName))
}

// RuntimeDir returns the directory daemon sockets live in. Honors
// DAEDALOS_RUNTIME_DIR first, then a per-user $XDG_RUNTIME_DIR/daedalos,
// then a shared system-wide /run/daedalos if /run is writable, and
// finally ~/.local/run/daedalos.
func RuntimeDir() (string, error) {
	if v := os.Getenv("DAEDALOS_RUNTIME_DIR"); v != "" {
		return ensureDir(v)
	}
	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
		if dir, err := ensureDir(filepath.Join(v, appName)); err == nil {
			return dir, nil
		}
	}
	systemRun := filepath.Join("/run", appName)
	if parentWritable("/run") {
		if dir, err := ensureDir(systemRun); err == nil {
			return dir, nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve runtime dir: %w", err)
	}
	return ensureDir(filepath.Join(home, ".local", "run", appName))
}

// SocketPath returns the Unix socket path for a named daemon role
// (e.g. "tool-hub", "lsp-pool", "undo") under RuntimeDir.
func SocketPath(role string) (string, error) {
	dir, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, role+".sock"), nil
}

// PIDFilePath returns the PID file path for a named daemon role,
// <state>/<role>/daemon.pid, creating the role directory if necessary.
func PIDFilePath(role string) (string, error) {
	stateDir, err := StateDir()
	if err != nil {
		return "", err
	}
	dir, err := ensureDir(filepath.Join(stateDir, role))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.pid"), nil
}

// IsStalePID reports whether the process recorded at pidFile is no
// longer running. A missing file is treated as "no process", not stale.
func IsStalePID(pidFile string) (stale bool, pid int, err error) {
	data, err := os.ReadFile(pidFile)
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return true, 0, nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true, pid, nil
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without affecting the process.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return true, pid, nil
	}
	return false, pid, nil
}

func ensureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %q: %w", dir, err)
	}
	return dir, nil
}

func parentWritable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	probe := filepath.Join(dir, ".daedalos-write-probe")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}
