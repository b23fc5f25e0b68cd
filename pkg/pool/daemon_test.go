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
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestHelperLSPServer is not a real test: it is re-executed as a child
// process by the tests below and speaks just enough Content-Length
// framed JSON-RPC to stand in for a language server.
func TestHelperLSPServer(t *testing.T) {
	if os.Getenv("GO_TEST_LSP_SERVER") != "1" {
		return
	}
	runFakeLSPServer()
	os.Exit(0)
}

func runFakeLSPServer() {
	tr := &LSPTransport{}
	reader := bufio.NewReader(os.Stdin)
	writer := bufio.NewWriter(os.Stdout)
	for {
		raw, err := tr.ReadMessage(reader)
		if err != nil {
			return
		}
		var req struct {
			ID     *int64 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		if req.ID == nil {
			if req.Method == "exit" {
				return
			}
			continue // initialized, didOpen, and friends need no reply
		}
		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{"capabilities": map[string]any{}}
		case "textDocument/hover":
			result = map[string]any{"contents": "hello from fake hover"}
		case "workspace/symbol":
			result = []any{}
		case "shutdown":
			result = nil
		default:
			result = nil
		}
		resp, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": *req.ID, "result": result})
		_ = tr.WriteMessage(writer, resp)
		_ = writer.Flush()
	}
}

// fakeLSPServerConfig re-executes this test binary as the child, with
// only the helper above active.
func fakeLSPServerConfig() ServerConfig {
	return ServerConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperLSPServer"},
		Env:     map[string]string{"GO_TEST_LSP_SERVER": "1"},
	}
}

func TestLSPPoolEnsureQueryStop(t *testing.T) {
	p := NewLSPPool(4, 0, 30)
	root := t.TempDir()
	ctx := context.Background()

	s, err := p.Ensure(ctx, "go", root, fakeLSPServerConfig())
	require.NoError(t, err)
	require.Equal(t, StatusRunning, s.Status)

	// Ensure is idempotent for an already-warm (language, root).
	again, err := p.Ensure(ctx, "go", root, fakeLSPServerConfig())
	require.NoError(t, err)
	require.Same(t, s, again)

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	raw, err := p.Query(callCtx, "go", root, "textDocument/hover", map[string]any{
		"textDocument": map[string]any{"uri": "file:///x.go"},
		"position":     map[string]any{"line": 0, "character": 0},
	})
	require.NoError(t, err)
	require.Contains(t, string(raw), "hello from fake hover")

	require.NoError(t, p.Notify("go", root, "textDocument/didOpen", map[string]any{
		"textDocument": map[string]any{"uri": "file:///x.go", "text": ""},
	}))

	require.NoError(t, p.Stop("go", root))
	_, err = p.Query(ctx, "go", root, "textDocument/hover", nil)
	require.ErrorIs(t, err, ErrUnknownServer)
}

func TestLSPPoolProbeUsesCheapRequest(t *testing.T) {
	p := NewLSPPool(4, 0, 30)
	root := t.TempDir()
	ctx := context.Background()

	s, err := p.Ensure(ctx, "go", root, fakeLSPServerConfig())
	require.NoError(t, err)

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, p.Probe(probeCtx, s.Config.Name))

	require.NoError(t, p.Stop("go", root))
}

// daemonRequest dials the test daemon's socket, sends one request, and
// decodes one response, mirroring the CLI client's framing.
func daemonRequest(t *testing.T, socketPath string, req Request) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	data, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func TestDaemonServesLSPRoleEndToEnd(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "lsp.sock")
	root := t.TempDir()

	cfg := &Config{Servers: map[string]ServerConfig{"go": fakeLSPServerConfig()}}
	cfg.SetDefaults()

	d := &Daemon{
		Role:       RoleLSP,
		LSP:        NewLSPPool(4, 0, 30),
		SocketPath: socketPath,
		Config:     cfg,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() { serveDone <- d.Serve(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 3*time.Second, 20*time.Millisecond)

	resp := daemonRequest(t, socketPath, Request{Op: "start_server", Language: "go", Root: root})
	require.True(t, resp.OK, resp.Error)

	resp = daemonRequest(t, socketPath, Request{
		Op: "query", Language: "go", Root: root,
		Method: "textDocument/hover",
		Params: map[string]any{
			"textDocument": map[string]any{"uri": "file:///x.go"},
			"position":     map[string]any{"line": 0, "character": 0},
		},
	})
	require.True(t, resp.OK, resp.Error)
	out, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.Contains(t, string(out), "hello from fake hover")

	resp = daemonRequest(t, socketPath, Request{Op: "status"})
	require.True(t, resp.OK)
	servers, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	require.Len(t, servers, 1)

	resp = daemonRequest(t, socketPath, Request{Op: "stop_server", Language: "go", Root: root})
	require.True(t, resp.OK, resp.Error)

	resp = daemonRequest(t, socketPath, Request{Op: "status"})
	require.True(t, resp.OK)
	servers, ok = resp.Result.(map[string]any)
	require.True(t, ok)
	require.Empty(t, servers)

	d.Stop()
	select {
	case <-serveDone:
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestDaemonEnsureLSPRejectsUnknownLanguage(t *testing.T) {
	cfg := &Config{Servers: map[string]ServerConfig{}}
	cfg.SetDefaults()
	d := &Daemon{Role: RoleLSP, LSP: NewLSPPool(4, 0, 30), Config: cfg}

	resp := d.opEnsureLSP(context.Background(), Request{Language: "rust", Root: "/tmp"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "rust")
}

func TestDaemonReloadRereadsConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "pool.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("max_servers: 2\nmemory_limit_mb: 128\n"), 0o644))

	d := &Daemon{Role: RoleLSP, LSP: NewLSPPool(8, 0, 30), ConfigPath: cfgPath}
	resp := d.opReload()
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, 2, d.Config.MaxServers)
	require.Equal(t, 2, d.LSP.sv.MaxServers)
	require.Equal(t, 128, d.LSP.sv.MemoryLimitMB)
}

func TestDaemonReloadReportsBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "pool.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("{unclosed"), 0o644))

	d := &Daemon{Role: RoleLSP, LSP: NewLSPPool(8, 0, 30), ConfigPath: cfgPath}
	resp := d.opReload()
	require.False(t, resp.OK)
}
