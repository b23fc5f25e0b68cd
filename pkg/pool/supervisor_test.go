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

package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakeChild(name string, memoryMB int, lastQuery time.Time) *supervisedChild {
	s := newServer(ServerConfig{Name: name, MemoryEstimateMB: memoryMB})
	s.Status = StatusRunning
	s.LastQuery = lastQuery
	return &supervisedChild{Server: s, exited: make(chan struct{})}
}

func TestEvictOldestPicksStalestLastQuery(t *testing.T) {
	sv := NewSupervisor(RoleLSP)
	now := time.Now()
	sv.servers["fresh"] = fakeChild("fresh", 10, now)
	sv.servers["stale"] = fakeChild("stale", 10, now.Add(-time.Hour))

	sv.mu.Lock()
	sv.evictOldestLocked()
	sv.mu.Unlock()

	_, ok := sv.Get("stale")
	require.False(t, ok)
	_, ok = sv.Get("fresh")
	require.True(t, ok)
}

func TestTotalMemorySumsEstimates(t *testing.T) {
	sv := NewSupervisor(RoleLSP)
	now := time.Now()
	sv.servers["a"] = fakeChild("a", 256, now)
	sv.servers["b"] = fakeChild("b", 512, now)

	sv.mu.Lock()
	total := sv.totalMemoryMBLocked()
	sv.mu.Unlock()
	require.Equal(t, 768, total)
}

func TestMemoryCapEvictsUntilRoom(t *testing.T) {
	sv := NewSupervisor(RoleLSP)
	sv.MemoryLimitMB = 600
	now := time.Now()
	sv.servers["oldest"] = fakeChild("oldest", 300, now.Add(-2*time.Hour))
	sv.servers["newer"] = fakeChild("newer", 200, now)

	// Admitting a 300MB server against a 600MB cap must evict the
	// stalest server (oldest) but keep the fresher one.
	incoming := 300
	sv.mu.Lock()
	for len(sv.servers) > 0 && sv.totalMemoryMBLocked()+incoming > sv.MemoryLimitMB {
		sv.evictOldestLocked()
	}
	sv.mu.Unlock()

	_, ok := sv.Get("oldest")
	require.False(t, ok)
	_, ok = sv.Get("newer")
	require.True(t, ok)
}

func TestServerStderrRingBounded(t *testing.T) {
	s := newServer(ServerConfig{Name: "x"})
	for i := 0; i < stderrRingSize+50; i++ {
		s.appendStderr("line")
	}
	require.Len(t, s.RecentStderr(0), stderrRingSize)
	require.Len(t, s.RecentStderr(10), 10)
}

func TestHealthFailureThreshold(t *testing.T) {
	s := newServer(ServerConfig{Name: "x"})
	require.False(t, s.recordHealthFailure())
	require.False(t, s.recordHealthFailure())
	require.True(t, s.recordHealthFailure())

	s.recordHealthSuccess()
	require.False(t, s.recordHealthFailure(), "success resets the consecutive-failure count")
}
