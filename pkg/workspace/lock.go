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

package workspace

import (
	"fmt"
	"os"
	"syscall"
)

// flock is a minimal advisory file lock, rooted at a lock-file path,
// serialising the workspace document's read-modify-write cycle across
// process boundaries (the orchestrator process and each subagent's
// nested-loop process). Built directly on syscall.Flock rather than a
// third-party wrapper: no example in the pack carries a dedicated
// file-locking dependency, and a single LOCK_EX/LOCK_UN pair around one
// file handle needs nothing a wrapper library would add.
type flock struct {
	path string
	f    *os.File
}

func newFlock(path string) *flock {
	return &flock{path: path}
}

// Lock blocks until the advisory lock is acquired.
func (l *flock) Lock() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return fmt.Errorf("acquire lock: %w", err)
	}
	l.f = f
	return nil
}

// Unlock releases the advisory lock.
func (l *flock) Unlock() error {
	if l.f == nil {
		return nil
	}
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
