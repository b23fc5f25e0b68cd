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
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// toolHubVersion is reported to every warmed MCP server as this hub's
// client identity.
const toolHubVersion = "1.0.0"

// warmedServer pairs a Server record with its live mcp-go stdio
// client, the common case for the registry's built-in catalog
// (filesystem, github, memory, sqlite, fetch, brave-search are all
// real MCP servers). The hub layers its own status bookkeeping and
// health-check task around the client;
// mcp-go owns the child process and its stderr directly, so the hub's
// stderr ring buffer (unlike the LSP pool's) is populated only from
// protocol-level error responses, not raw stderr lines.
type warmedServer struct {
	Server *Server
	client *client.Client
}

// ToolHub is the tool-server role of the process pool: it warms named
// MCP servers from the registry, keeps them alive, and routes
// call_tool/list_tools requests to them.
type ToolHub struct {
	mu      sync.Mutex
	servers map[string]*warmedServer

	RequestTimeout time.Duration
}

func NewToolHub() *ToolHub {
	return &ToolHub{servers: make(map[string]*warmedServer), RequestTimeout: 30 * time.Second}
}

// Warm starts cfg's server if not already running, initializes the MCP
// session, and caches its advertised tool list.
func (h *ToolHub) Warm(ctx context.Context, cfg ServerConfig) (*Server, error) {
	h.mu.Lock()
	if ws, ok := h.servers[cfg.Name]; ok {
		h.mu.Unlock()
		return ws.Server, nil
	}
	h.mu.Unlock()

	s := newServer(cfg)
	s.setStatus(StatusStarting)

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	mcpClient, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		s.setStatus(StatusError)
		return nil, fmt.Errorf("%w: %v", ErrChildNotStarted, err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		s.setStatus(StatusError)
		return nil, fmt.Errorf("%w: %v", ErrChildNotStarted, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "daedalos", Version: toolHubVersion}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		s.setStatus(StatusError)
		return nil, fmt.Errorf("%w: initialize: %v", ErrChildNotStarted, err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = mcpClient.Close()
		s.setStatus(StatusError)
		return nil, fmt.Errorf("%w: list tools: %v", ErrChildNotStarted, err)
	}
	names := make([]string, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		names = append(names, t.Name)
	}
	s.mu.Lock()
	s.tools = names
	s.mu.Unlock()

	// Resources are capability-gated: a server without resource support
	// answers method-not-found, which is not a warm failure.
	if resResp, err := mcpClient.ListResources(ctx, mcp.ListResourcesRequest{}); err == nil {
		uris := make([]string, 0, len(resResp.Resources))
		for _, r := range resResp.Resources {
			uris = append(uris, r.URI)
		}
		s.mu.Lock()
		s.resources = uris
		s.mu.Unlock()
	}

	s.StartedAt = time.Now()
	s.LastQuery = time.Now()
	s.setStatus(StatusRunning)

	h.mu.Lock()
	h.servers[cfg.Name] = &warmedServer{Server: s, client: mcpClient}
	h.mu.Unlock()

	return s, nil
}

// Cool stops a warmed server and releases its client.
func (h *ToolHub) Cool(name string) error {
	h.mu.Lock()
	ws, ok := h.servers[name]
	if ok {
		delete(h.servers, name)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	ws.Server.setStatus(StatusStopped)
	return ws.client.Close()
}

// Restart cools and re-warms a server from its own stored
// configuration, satisfying the shared HealthChecker contract. This is
// the automatic, health-triggered path: the restart counter keeps
// climbing toward the restart cap.
func (h *ToolHub) Restart(ctx context.Context, name string) error {
	return h.restart(ctx, name, false)
}

// RestartManual cools and re-warms a server the same way Restart does,
// but resets its restart counter to zero: an operator-initiated restart
// is a fresh start, not more evidence toward the automatic-restart cap.
func (h *ToolHub) RestartManual(ctx context.Context, name string) error {
	return h.restart(ctx, name, true)
}

func (h *ToolHub) restart(ctx context.Context, name string, reset bool) error {
	h.mu.Lock()
	ws, ok := h.servers[name]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	cfg := ws.Server.Config
	ws.Server.mu.Lock()
	priorRestarts := ws.Server.restarts
	ws.Server.mu.Unlock()

	_ = h.Cool(name)
	s, err := h.Warm(ctx, cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if reset {
		s.restarts = 0
	} else {
		s.restarts = priorRestarts + 1
	}
	s.mu.Unlock()
	return nil
}

// CallTool routes a call_tool request to a warmed server.
func (h *ToolHub) CallTool(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error) {
	h.mu.Lock()
	ws, ok := h.servers[server]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
	ws.Server.markQueried()

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	resp, err := ws.client.CallTool(ctx, req)
	if err != nil {
		ws.Server.appendStderr(err.Error())
		return nil, fmt.Errorf("pool: call_tool %s on %s: %w", tool, server, err)
	}
	return parseToolResult(resp), nil
}

// ListTools returns the cached advertised tool names for a warmed
// server, refreshed at Warm time (re-warming refreshes the cache).
func (h *ToolHub) ListTools(server string) ([]string, error) {
	h.mu.Lock()
	ws, ok := h.servers[server]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
	return ws.Server.tools, nil
}

// ListResources returns the cached advertised resource URIs for a
// warmed server, refreshed at Warm time. Empty for servers that don't
// advertise the resources capability.
func (h *ToolHub) ListResources(server string) ([]string, error) {
	h.mu.Lock()
	ws, ok := h.servers[server]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
	return ws.Server.resources, nil
}

// Probe sends the hub's cheap health-check request (tools/list) to a
// warmed server, used uniformly by health.go for both pool roles.
func (h *ToolHub) Probe(ctx context.Context, server string) error {
	h.mu.Lock()
	ws, ok := h.servers[server]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
	_, err := ws.client.ListTools(ctx, mcp.ListToolsRequest{})
	return err
}

// List returns every currently warmed server's record.
func (h *ToolHub) List() map[string]*Server {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]*Server, len(h.servers))
	for name, ws := range h.servers {
		out[name] = ws.Server
	}
	return out
}

func parseToolResult(resp *mcp.CallToolResult) map[string]any {
	out := map[string]any{"is_error": resp.IsError}
	var text string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			text += tc.Text
		}
	}
	out["text"] = text
	return out
}
