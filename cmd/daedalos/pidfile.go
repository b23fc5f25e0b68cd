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
	"os"
	"strconv"

	"github.com/daedalos/daedalos/pkg/paths"
)

// acquirePIDFile claims the per-role daemon PID file. A live PID in the
// file means another instance is already running, so startup aborts; a
// stale file (recorded process is gone) is silently replaced. The
// returned release func unlinks the file and should be deferred by the
// daemon's serve command.
func acquirePIDFile(role string) (release func(), err error) {
	pidFile, err := paths.PIDFilePath(role)
	if err != nil {
		return nil, err
	}
	stale, pid, err := paths.IsStalePID(pidFile)
	if err != nil {
		return nil, fmt.Errorf("check %s pid file: %w", role, err)
	}
	if !stale && pid != 0 {
		return nil, fmt.Errorf("%s daemon already running (pid %d)", role, pid)
	}
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("write %s pid file: %w", role, err)
	}
	return func() { _ = os.Remove(pidFile) }, nil
}
