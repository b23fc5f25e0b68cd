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

// Package pool implements the process-pool daemon: a single design
// parameterised by Role that serves both the MCP tool-server hub and
// the language-server pool. Both roles spawn and supervise child
// processes speaking JSON-RPC 2.0 over distinct framings, and expose a
// request-routing Unix socket.
package pool

import (
	"container/ring"
	"errors"
	"sync"
	"time"
)

// Role selects which of the two parameterised daemon personalities a
// Supervisor runs as.
type Role string

const (
	RoleToolHub Role = "tool-hub"
	RoleLSP     Role = "lsp"
)

// Status is a server record's lifecycle state. The DAG is
// stopped -> starting -> {running, error}; running -> unhealthy;
// unhealthy -> running (a later probe succeeds); unhealthy -> starting
// (via restart); running -> {stopped, error} when the child exits
// cleanly or unexpectedly; unhealthy -> error when the restart fails.
// stopped is terminal until an explicit start.
type Status string

const (
	StatusStopped   Status = "stopped"
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusError     Status = "error"
	StatusUnhealthy Status = "unhealthy"
)

var (
	ErrChildNotStarted   = errors.New("pool: child process failed to spawn or initialize")
	ErrChildHealthFailed = errors.New("pool: consecutive health probes failed")
	ErrChildProtocol     = errors.New("pool: malformed framed message")
	ErrRequestTimeout    = errors.New("pool: request timed out")
	ErrUnknownServer     = errors.New("pool: unknown server")
)

// ServerConfig is the static configuration for one child process:
// command vector, environment additions, capability flags, and auth
// requirements, loaded from the daemon's YAML config.
type ServerConfig struct {
	Name             string            `yaml:"-"`
	Command          string            `yaml:"command"`
	Args             []string          `yaml:"args,omitempty"`
	Env              map[string]string `yaml:"env,omitempty"`
	Extensions       []string          `yaml:"extensions,omitempty"`
	MemoryEstimateMB int               `yaml:"memory_estimate_mb,omitempty"`
	RequiresAuth     bool              `yaml:"requires_auth,omitempty"`
	AuthEnvVars      []string          `yaml:"auth_env_vars,omitempty"`
}

// stderrRingSize bounds the captured stderr ring buffer per server.
const stderrRingSize = 200

// maxHealthFailures is the consecutive-failure threshold before a
// server is marked unhealthy and restarted, shared by both roles per
// the unified health-check policy.
const maxHealthFailures = 3

// Server is the daemon's full runtime record for one child process:
// configuration, process handle, status, health bookkeeping, and
// in-flight request tracking. The supervisor task is the sole writer
// of the rest; the request router mutates only the in-flight map, and
// the health checker only the health counters and Status.
type Server struct {
	mu sync.Mutex

	Config    ServerConfig
	Status    Status
	StartedAt time.Time
	LastQuery time.Time

	lastHealthCheck   time.Time
	healthFailures    int
	restarts          int
	stderrRing        *ring.Ring
	nextRequestID     int64
	inflight          map[int64]chan []byte
	tools             []string
	resources         []string
	prompts           []string

	transport Transport
	stop      chan struct{}
}

func newServer(cfg ServerConfig) *Server {
	return &Server{
		Config:     cfg,
		Status:     StatusStopped,
		stderrRing: ring.New(stderrRingSize),
		inflight:   make(map[int64]chan []byte),
		stop:       make(chan struct{}),
	}
}

// appendStderr records one captured stderr line into the bounded ring.
func (s *Server) appendStderr(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stderrRing.Value = line
	s.stderrRing = s.stderrRing.Next()
}

// RecentStderr returns up to n most-recently captured stderr lines,
// oldest first.
func (s *Server) RecentStderr(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lines []string
	s.stderrRing.Do(func(v any) {
		if v == nil {
			return
		}
		lines = append(lines, v.(string))
	})
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func (s *Server) markQueried() {
	s.mu.Lock()
	s.LastQuery = time.Now()
	s.mu.Unlock()
}

func (s *Server) setStatus(st Status) {
	s.mu.Lock()
	s.Status = st
	s.mu.Unlock()
}

func (s *Server) recordHealthSuccess() {
	s.mu.Lock()
	s.lastHealthCheck = time.Now()
	s.healthFailures = 0
	s.mu.Unlock()
}

// recordHealthFailure increments the consecutive-failure count and
// reports whether the restart threshold has now been crossed.
func (s *Server) recordHealthFailure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHealthCheck = time.Now()
	s.healthFailures++
	return s.healthFailures >= maxHealthFailures
}
