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
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LSPPool is the language-server role of the process pool: servers are
// keyed by (language, project root) rather than by name alone, each
// backed by the hand-rolled Content-Length framing in transport.go
// (LSP is not MCP, so the tool hub's mcp-go client cannot be reused).
type LSPPool struct {
	sv *Supervisor

	mu  sync.Mutex
	key map[string]string // (language, root) key -> server name
}

// NewLSPPool constructs an LSPPool backed by a dedicated Supervisor
// running RoleLSP, applying the given resource limits (0 disables the
// memory cap).
func NewLSPPool(maxServers, memoryLimitMB, idleTimeoutMinutes int) *LSPPool {
	sv := NewSupervisor(RoleLSP)
	sv.MaxServers = maxServers
	sv.MemoryLimitMB = memoryLimitMB
	if idleTimeoutMinutes > 0 {
		sv.IdleTimeout = time.Duration(idleTimeoutMinutes) * time.Minute
	}
	return &LSPPool{sv: sv, key: make(map[string]string)}
}

func lspKey(language, projectRoot string) string {
	return language + "::" + filepath.Clean(projectRoot)
}

// Ensure returns the running language server for (language, root),
// starting it from cfg if it isn't already warm.
func (p *LSPPool) Ensure(ctx context.Context, language, projectRoot string, cfg ServerConfig) (*Server, error) {
	k := lspKey(language, projectRoot)
	p.mu.Lock()
	name, ok := p.key[k]
	p.mu.Unlock()
	if ok {
		if s, ok := p.sv.Get(name); ok {
			return s, nil
		}
	}

	name = fmt.Sprintf("%s@%s", language, projectRoot)
	cfg.Name = name
	s, err := p.sv.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := p.initialize(ctx, name, projectRoot); err != nil {
		_ = p.sv.Stop(name)
		return nil, err
	}

	p.mu.Lock()
	p.key[k] = name
	p.mu.Unlock()
	return s, nil
}

// initialize performs the LSP handshake: `initialize` followed by the
// `initialized` notification.
func (p *LSPPool) initialize(ctx context.Context, name, projectRoot string) error {
	params := map[string]any{
		"processId":    nil,
		"rootUri":      "file://" + projectRoot,
		"capabilities": map[string]any{},
	}
	if _, err := p.sv.Call(ctx, name, "initialize", params); err != nil {
		return fmt.Errorf("%w: lsp initialize: %v", ErrChildNotStarted, err)
	}
	if err := p.sv.notify(name, "initialized", map[string]any{}); err != nil {
		return fmt.Errorf("%w: lsp initialized notification: %v", ErrChildNotStarted, err)
	}
	return nil
}

// Query routes one JSON-RPC request to the running server for
// (language, root), correlated and demultiplexed by Supervisor.Call.
// The server must already be warm; use Ensure first for
// warm-on-demand.
func (p *LSPPool) Query(ctx context.Context, language, projectRoot, method string, params any) (json.RawMessage, error) {
	name, ok := p.lookup(language, projectRoot)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownServer, language, projectRoot)
	}
	return p.sv.Call(ctx, name, method, params)
}

// Notify sends a fire-and-forget notification (no id, no response) to
// the running server for (language, root) — the path didOpen-style
// document sync messages take.
func (p *LSPPool) Notify(language, projectRoot, method string, params any) error {
	name, ok := p.lookup(language, projectRoot)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownServer, language, projectRoot)
	}
	return p.sv.notify(name, method, params)
}

func (p *LSPPool) lookup(language, projectRoot string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.key[lspKey(language, projectRoot)]
	return name, ok
}

// ApplyLimits replaces the pool's resource limits, used by the
// daemon's reload path (0 leaves the memory cap disabled; a
// non-positive idle timeout keeps the current one).
func (p *LSPPool) ApplyLimits(maxServers, memoryLimitMB, idleTimeoutMinutes int) {
	p.sv.mu.Lock()
	defer p.sv.mu.Unlock()
	if maxServers > 0 {
		p.sv.MaxServers = maxServers
	}
	p.sv.MemoryLimitMB = memoryLimitMB
	if idleTimeoutMinutes > 0 {
		p.sv.IdleTimeout = time.Duration(idleTimeoutMinutes) * time.Minute
	}
}

// Probe reuses the tool hub's fixed-interval cheap-request health
// check rather than a divergent policy of its own. It first tries an
// empty `workspace/symbol` query (side-effect-free on any conforming
// server); servers that don't implement workspace symbols fall back
// to a no-op `textDocument/hover` at 0,0 against a scratch URI.
func (p *LSPPool) Probe(ctx context.Context, name string) error {
	_, err := p.sv.Call(ctx, name, "workspace/symbol", map[string]any{"query": ""})
	if err == nil {
		return nil
	}
	scratchURI := "file:///dev/null"
	_, err = p.sv.Call(ctx, name, "textDocument/hover", map[string]any{
		"textDocument": map[string]any{"uri": scratchURI},
		"position":     map[string]any{"line": 0, "character": 0},
	})
	return err
}

// List returns every currently running language server.
func (p *LSPPool) List() map[string]*Server { return p.sv.List() }

// Stop terminates a running language server by (language, root).
func (p *LSPPool) Stop(language, projectRoot string) error {
	k := lspKey(language, projectRoot)
	p.mu.Lock()
	name, ok := p.key[k]
	if ok {
		delete(p.key, k)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownServer, language, projectRoot)
	}
	return p.sv.Stop(name)
}

// Restart satisfies the shared HealthChecker contract: it re-starts a
// language server from its own stored configuration and redoes the LSP
// handshake. This is the automatic, health-triggered path: the restart
// counter keeps climbing toward the restart cap.
func (p *LSPPool) Restart(ctx context.Context, name string) error {
	s, ok := p.sv.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	cfg := s.Config
	root := projectRootFromName(cfg.Name)
	if _, err := p.sv.Restart(ctx, cfg); err != nil {
		return err
	}
	return p.initialize(ctx, name, root)
}

// RestartManual re-starts a language server the same way Restart does,
// but resets its restart counter to zero: an operator-initiated restart
// is a fresh start, not more evidence toward the automatic-restart cap.
func (p *LSPPool) RestartManual(ctx context.Context, name string) error {
	s, ok := p.sv.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	cfg := s.Config
	root := projectRootFromName(cfg.Name)
	if _, err := p.sv.ManualRestart(ctx, cfg); err != nil {
		return err
	}
	return p.initialize(ctx, name, root)
}

// projectRootFromName recovers the project root encoded in a
// language-server's synthetic name ("language@root").
func projectRootFromName(name string) string {
	_, root, ok := strings.Cut(name, "@")
	if !ok {
		return ""
	}
	return root
}
