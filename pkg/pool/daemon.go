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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// Request is one client request to the daemon's Unix socket, JSON
// framed line-by-line like the rest of the daemon's wire traffic.
type Request struct {
	Op     string         `json:"op"`
	Server string         `json:"server,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Names  []string       `json:"names,omitempty"`
	Lines  int            `json:"lines,omitempty"`

	// Language-server role: servers are keyed by (language, root)
	// rather than by name, and "query" routes raw JSON-RPC methods.
	Language string         `json:"language,omitempty"`
	Root     string         `json:"root,omitempty"`
	Method   string         `json:"method,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// Response is the daemon's reply to one Request.
type Response struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Daemon is the process-pool daemon's serving surface: it owns either
// a ToolHub or an LSPPool (selected by Role) and dispatches requests
// arriving on a Unix socket.
type Daemon struct {
	Role     Role
	Hub      *ToolHub
	LSP      *LSPPool
	Registry *Registry

	SocketPath string
	ConfigPath string
	Config     *Config

	mu       sync.Mutex // guards Config swaps on reload
	listener net.Listener
	cancel   context.CancelFunc
}

// queryTimeout bounds one routed language-server request.
const queryTimeout = 30 * time.Second

// Serve binds the daemon's Unix socket and runs the accept loop until
// ctx is cancelled or Stop is requested by a client.
func (d *Daemon) Serve(ctx context.Context) error {
	_ = os.Remove(d.SocketPath)
	ln, err := net.Listen("unix", d.SocketPath)
	if err != nil {
		return fmt.Errorf("pool: listen on %s: %w", d.SocketPath, err)
	}
	d.listener = ln
	defer ln.Close()

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.Role == RoleToolHub {
		go RunHealthLoop(runCtx, d.Hub)
	} else {
		go RunHealthLoop(runCtx, d.LSP)
		go RunIdleEvictionLoop(runCtx, d.LSP, d.LSP.sv.IdleTimeout)
	}

	go func() {
		<-runCtx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(runCtx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("pool: accept: %w", err)
		}
		go d.handleConn(runCtx, conn)
	}
}

// Stop shuts the daemon down: cancels its background loops and closes
// the listener, causing Serve to return.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			writeResponse(conn, Response{OK: false, Error: fmt.Sprintf("malformed request: %v", err)})
			continue
		}

		resp := d.dispatch(ctx, req)
		writeResponse(conn, resp)

		if req.Op == "stop" {
			d.Stop()
			return
		}
	}
}

func writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("pool: failed to marshal response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		slog.Warn("pool: failed to write response", "error", err)
	}
}

func (d *Daemon) dispatch(ctx context.Context, req Request) Response {
	switch req.Op {
	case "status":
		return d.opStatus()
	case "list_tools":
		return d.opListTools(req.Server)
	case "list_resources":
		return d.opListResources(req.Server)
	case "call_tool":
		return d.opCallTool(ctx, req)
	case "start_server", "warm":
		if d.Role == RoleLSP {
			return d.opEnsureLSP(ctx, req)
		}
		return d.opWarm(ctx, req)
	case "query":
		return d.opQuery(ctx, req)
	case "stop_server":
		return d.opStopServer(req)
	case "restart_server":
		return d.opRestart(ctx, req.Server)
	case "logs":
		return d.opLogs(req)
	case "reload":
		return d.opReload()
	case "stop":
		return Response{OK: true}
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

func (d *Daemon) opStatus() Response {
	servers := d.servers()
	out := make(map[string]any, len(servers))
	for name, s := range servers {
		out[name] = map[string]any{
			"status":     s.Status,
			"started_at": s.StartedAt,
			"last_query": s.LastQuery,
			"restarts":   s.restarts,
		}
	}
	return Response{OK: true, Result: out}
}

func (d *Daemon) servers() map[string]*Server {
	if d.Role == RoleToolHub {
		return d.Hub.List()
	}
	return d.LSP.List()
}

func (d *Daemon) opListTools(server string) Response {
	if d.Role != RoleToolHub {
		return Response{OK: false, Error: "list_tools is only valid for the tool-hub role"}
	}
	tools, err := d.Hub.ListTools(server)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Result: tools}
}

func (d *Daemon) opCallTool(ctx context.Context, req Request) Response {
	if d.Role != RoleToolHub {
		return Response{OK: false, Error: "call_tool is only valid for the tool-hub role"}
	}
	result, err := d.Hub.CallTool(ctx, req.Server, req.Tool, req.Args)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Result: result}
}

func (d *Daemon) opWarm(ctx context.Context, req Request) Response {
	if d.Role != RoleToolHub {
		return Response{OK: false, Error: "warm is only valid for the tool-hub role"}
	}
	names := req.Names
	if req.Server != "" {
		names = append(names, req.Server)
	}
	warmed := make([]string, 0, len(names))
	for _, name := range names {
		desc, ok := d.Registry.Get(name)
		if !ok {
			return Response{OK: false, Error: fmt.Sprintf("unknown registry entry %q", name)}
		}
		cfg := ServerConfig{Name: desc.Name, Command: desc.Command, Args: desc.Args, Env: desc.Env}
		if _, err := d.Hub.Warm(ctx, cfg); err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		warmed = append(warmed, name)
	}
	return Response{OK: true, Result: warmed}
}

func (d *Daemon) opStopServer(req Request) Response {
	var err error
	switch {
	case d.Role == RoleToolHub:
		err = d.Hub.Cool(req.Server)
	case req.Language != "":
		err = d.LSP.Stop(req.Language, req.Root)
	default:
		err = d.LSP.sv.Stop(req.Server)
	}
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true}
}

// opEnsureLSP warms (or returns the already-warm) language server for
// (language, root). The command comes from the daemon config's
// servers map, keyed by language.
func (d *Daemon) opEnsureLSP(ctx context.Context, req Request) Response {
	if req.Language == "" || req.Root == "" {
		return Response{OK: false, Error: "start_server for the lsp role needs language and root"}
	}
	d.mu.Lock()
	cfg := d.Config
	d.mu.Unlock()
	if cfg == nil {
		return Response{OK: false, Error: "daemon has no config loaded"}
	}
	scfg, ok := cfg.Servers[req.Language]
	if !ok {
		return Response{OK: false, Error: fmt.Sprintf("no configured server for language %q", req.Language)}
	}
	s, err := d.LSP.Ensure(ctx, req.Language, req.Root, scfg)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Result: map[string]any{"server": s.Config.Name, "status": s.Status}}
}

// opQuery routes one raw JSON-RPC method to the language server for
// (language, root). Notification-style methods (didOpen and friends)
// carry no id and get no response; everything else round-trips through
// the router's id-correlated path under queryTimeout.
func (d *Daemon) opQuery(ctx context.Context, req Request) Response {
	if d.Role != RoleLSP {
		return Response{OK: false, Error: "query is only valid for the lsp role"}
	}
	if req.Method == "" {
		return Response{OK: false, Error: "query needs a method"}
	}
	if isLSPNotification(req.Method) {
		if err := d.LSP.Notify(req.Language, req.Root, req.Method, req.Params); err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true}
	}
	callCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	raw, err := d.LSP.Query(callCtx, req.Language, req.Root, req.Method, req.Params)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	var result any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return Response{OK: false, Error: fmt.Sprintf("malformed server result: %v", err)}
		}
	}
	return Response{OK: true, Result: result}
}

// isLSPNotification reports whether an LSP method is defined as a
// notification (fire-and-forget, no id) rather than a request.
func isLSPNotification(method string) bool {
	switch method {
	case "initialized", "exit",
		"textDocument/didOpen", "textDocument/didChange",
		"textDocument/didSave", "textDocument/didClose":
		return true
	}
	return false
}

// opReload re-reads the daemon's config file and applies the limits a
// running daemon can honour in place: the language-server pool's
// max-server, memory, and idle-timeout caps, plus the servers map used
// by subsequent start_server calls. Already-running children are left
// alone; new limits bite on the next admission or eviction sweep.
func (d *Daemon) opReload() Response {
	if d.ConfigPath == "" {
		return Response{OK: false, Error: "daemon has no config path to reload from"}
	}
	cfg, err := LoadConfig(d.ConfigPath)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	d.mu.Lock()
	d.Config = cfg
	d.mu.Unlock()
	if d.Role == RoleLSP && d.LSP != nil {
		d.LSP.ApplyLimits(cfg.MaxServers, cfg.MemoryLimitMB, cfg.IdleTimeoutMinutes)
	}
	return Response{OK: true}
}

func (d *Daemon) opListResources(server string) Response {
	if d.Role != RoleToolHub {
		return Response{OK: false, Error: "list_resources is only valid for the tool-hub role"}
	}
	resources, err := d.Hub.ListResources(server)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	if resources == nil {
		resources = []string{}
	}
	return Response{OK: true, Result: resources}
}

// opRestart serves the explicit, user-initiated "pool restart" CLI
// command, so it always uses the manual restart path: the restart
// counter resets rather than climbing toward the automatic-restart cap.
func (d *Daemon) opRestart(ctx context.Context, name string) Response {
	var err error
	if d.Role == RoleToolHub {
		err = d.Hub.RestartManual(ctx, name)
	} else {
		err = d.LSP.RestartManual(ctx, name)
	}
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true}
}

func (d *Daemon) opLogs(req Request) Response {
	servers := d.servers()
	s, ok := servers[req.Server]
	if !ok {
		return Response{OK: false, Error: fmt.Sprintf("unknown server %q", req.Server)}
	}
	lines := req.Lines
	if lines <= 0 {
		lines = 50
	}
	return Response{OK: true, Result: s.RecentStderr(lines)}
}

// Dial connects to a running daemon's socket with a short timeout,
// for CLI clients that expect "missing daemon" to be a fast failure
// rather than a hang.
func Dial(socketPath string) (net.Conn, error) {
	return net.DialTimeout("unix", socketPath, 2*time.Second)
}
