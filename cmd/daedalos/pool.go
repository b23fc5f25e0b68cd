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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/daedalos/daedalos/pkg/paths"
	"github.com/daedalos/daedalos/pkg/pool"
)

// PoolCmd groups the process-pool daemon lifecycle and MCP registry
// subcommands.
type PoolCmd struct {
	Start   PoolStartCmd   `cmd:"" help:"Run the process-pool daemon in the foreground."`
	Status  PoolStatusCmd  `cmd:"" help:"Show every server's runtime status."`
	Warm    PoolWarmCmd    `cmd:"" help:"Warm one or more registry servers (tool-hub role only)."`
	Ensure  PoolEnsureCmd  `cmd:"" help:"Warm the language server for a language and project root (lsp role only)."`
	Query   PoolQueryCmd   `cmd:"" help:"Route a JSON-RPC method to a language server (lsp role only)."`
	Stop    PoolStopCmd    `cmd:"" help:"Stop the running daemon."`
	Restart PoolRestartCmd `cmd:"" help:"Restart a server."`
	Logs    PoolLogsCmd    `cmd:"" help:"Show a server's recent captured stderr."`
	Reload  PoolReloadCmd  `cmd:"" help:"Ask the daemon to re-read its config."`

	Registry PoolRegistryCmd `cmd:"" help:"Manage the MCP server catalog."`

	Role string `help:"Daemon role for Start/Warm (tool-hub, lsp)." default:"tool-hub" enum:"tool-hub,lsp"`
}

func poolConfigPath() (string, error) {
	dir, err := paths.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pool.yaml"), nil
}

func poolRegistryDir() (string, error) {
	dir, err := paths.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mcp-hub", "registry"), nil
}

func openRegistry() (*pool.Registry, error) {
	dataDir, err := poolRegistryDir()
	if err != nil {
		return nil, err
	}
	gateEngine, err := loadGateEngine()
	if err != nil {
		return nil, err
	}
	return pool.NewRegistry(dataDir, gateEngine)
}

// poolRequest dials the running daemon, sends req, and returns its
// decoded response. A dead or missing daemon surfaces as a plain
// connection error rather than a hang, since Dial applies a short
// timeout.
func poolRequest(socketPath string, req pool.Request) (pool.Response, error) {
	conn, err := pool.Dial(socketPath)
	if err != nil {
		return pool.Response{}, fmt.Errorf("pool: daemon not reachable at %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return pool.Response{}, err
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return pool.Response{}, err
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return pool.Response{}, err
	}
	var resp pool.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return pool.Response{}, err
	}
	if !resp.OK {
		return resp, fmt.Errorf("pool: %s", resp.Error)
	}
	return resp, nil
}

// PoolStartCmd runs the daemon for one role in the foreground. Use a
// process supervisor (systemd, launchd, tmux) to keep it running.
type PoolStartCmd struct{}

func (c *PoolStartCmd) Run(cli *CLI, p *PoolCmd) error {
	role := pool.Role(p.Role)

	cfgPath, err := poolConfigPath()
	if err != nil {
		return err
	}
	cfg, err := pool.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	registry, err := openRegistry()
	if err != nil {
		return err
	}

	socketPath, err := paths.SocketPath(p.Role)
	if err != nil {
		return err
	}

	d := &pool.Daemon{Role: role, Registry: registry, SocketPath: socketPath, ConfigPath: cfgPath, Config: cfg}
	switch role {
	case pool.RoleToolHub:
		d.Hub = pool.NewToolHub()
		if cfg.WarmupOnStart {
			if err := warmAllEnabled(context.Background(), d.Hub, registry); err != nil {
				return err
			}
		}
	case pool.RoleLSP:
		d.LSP = pool.NewLSPPool(cfg.MaxServers, cfg.MemoryLimitMB, cfg.IdleTimeoutMinutes)
	}

	release, err := acquirePIDFile(p.Role)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchInterrupt(cancel)

	fmt.Printf("pool daemon (%s) serving on %s\n", role, socketPath)
	return d.Serve(ctx)
}

func warmAllEnabled(ctx context.Context, hub *pool.ToolHub, registry *pool.Registry) error {
	for _, d := range registry.List("", true) {
		scfg := pool.ServerConfig{Name: d.Name, Command: d.Command, Args: d.Args, Env: d.Env}
		if _, err := hub.Warm(ctx, scfg); err != nil {
			return fmt.Errorf("pool: warm %q: %w", d.Name, err)
		}
	}
	return nil
}

// PoolStatusCmd shows every server's runtime record.
type PoolStatusCmd struct {
	JSON bool `help:"Print raw JSON instead of a table."`
}

func (c *PoolStatusCmd) Run(cli *CLI, p *PoolCmd) error {
	socketPath, err := paths.SocketPath(p.Role)
	if err != nil {
		return err
	}
	resp, err := poolRequest(socketPath, pool.Request{Op: "status"})
	if err != nil {
		return err
	}
	if c.JSON {
		return printJSON(resp.Result)
	}
	servers, _ := resp.Result.(map[string]any)
	for name, raw := range servers {
		s, _ := raw.(map[string]any)
		fmt.Printf("%-20s status=%-10v restarts=%v last_query=%v\n", name, s["status"], s["restarts"], s["last_query"])
	}
	return nil
}

// PoolWarmCmd warms one or more registry entries on a running tool-hub
// daemon.
type PoolWarmCmd struct {
	Names []string `arg:"" help:"Registry entry names to warm."`
}

func (c *PoolWarmCmd) Run(cli *CLI, p *PoolCmd) error {
	socketPath, err := paths.SocketPath(p.Role)
	if err != nil {
		return err
	}
	resp, err := poolRequest(socketPath, pool.Request{Op: "warm", Names: c.Names})
	if err != nil {
		return err
	}
	return printJSON(resp.Result)
}

// PoolEnsureCmd warms (or reuses) the language server for a language
// and project root on a running lsp-role daemon.
type PoolEnsureCmd struct {
	Language string `arg:"" help:"Language the configured server is keyed by (e.g. go, python)."`
	Root     string `help:"Project root." type:"path" default:"."`
}

func (c *PoolEnsureCmd) Run(cli *CLI, p *PoolCmd) error {
	socketPath, err := paths.SocketPath(p.Role)
	if err != nil {
		return err
	}
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return err
	}
	resp, err := poolRequest(socketPath, pool.Request{Op: "start_server", Language: c.Language, Root: root})
	if err != nil {
		return err
	}
	return printJSON(resp.Result)
}

// PoolQueryCmd routes one raw JSON-RPC method (textDocument/hover and
// friends) to a running language server.
type PoolQueryCmd struct {
	Language string `arg:"" help:"Language the server is keyed by."`
	Method   string `arg:"" help:"JSON-RPC method (e.g. textDocument/hover)."`
	Root     string `help:"Project root." type:"path" default:"."`
	Params   string `help:"Method params as a JSON object."`
}

func (c *PoolQueryCmd) Run(cli *CLI, p *PoolCmd) error {
	socketPath, err := paths.SocketPath(p.Role)
	if err != nil {
		return err
	}
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return err
	}
	var params map[string]any
	if c.Params != "" {
		if err := json.Unmarshal([]byte(c.Params), &params); err != nil {
			return fmt.Errorf("pool: parse --params: %w", err)
		}
	}
	resp, err := poolRequest(socketPath, pool.Request{
		Op: "query", Language: c.Language, Root: root, Method: c.Method, Params: params,
	})
	if err != nil {
		return err
	}
	return printJSON(resp.Result)
}

// PoolStopCmd stops the running daemon itself, not an individual
// server (use restart to cycle one managed server).
type PoolStopCmd struct{}

func (c *PoolStopCmd) Run(cli *CLI, p *PoolCmd) error {
	socketPath, err := paths.SocketPath(p.Role)
	if err != nil {
		return err
	}
	_, err = poolRequest(socketPath, pool.Request{Op: "stop"})
	return err
}

// PoolReloadCmd asks the daemon to re-read its config from disk.
type PoolReloadCmd struct{}

func (c *PoolReloadCmd) Run(cli *CLI, p *PoolCmd) error {
	socketPath, err := paths.SocketPath(p.Role)
	if err != nil {
		return err
	}
	_, err = poolRequest(socketPath, pool.Request{Op: "reload"})
	return err
}

// PoolRestartCmd restarts one server.
type PoolRestartCmd struct {
	Server string `arg:"" help:"Server name."`
}

func (c *PoolRestartCmd) Run(cli *CLI, p *PoolCmd) error {
	socketPath, err := paths.SocketPath(p.Role)
	if err != nil {
		return err
	}
	_, err = poolRequest(socketPath, pool.Request{Op: "restart_server", Server: c.Server})
	return err
}

// PoolLogsCmd shows one server's recently captured stderr lines.
type PoolLogsCmd struct {
	Server string `arg:"" help:"Server name."`
	Lines  int    `short:"n" help:"Number of lines to show." default:"50"`
}

func (c *PoolLogsCmd) Run(cli *CLI, p *PoolCmd) error {
	socketPath, err := paths.SocketPath(p.Role)
	if err != nil {
		return err
	}
	resp, err := poolRequest(socketPath, pool.Request{Op: "logs", Server: c.Server, Lines: c.Lines})
	if err != nil {
		return err
	}
	lines, _ := resp.Result.([]any)
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}

// PoolRegistryCmd groups catalog management subcommands. These act
// directly on the on-disk registry files; they do not require a
// running daemon, since installing a server is independent of warming
// it.
type PoolRegistryCmd struct {
	List      PoolRegistryListCmd      `cmd:"" help:"List catalog entries."`
	Search    PoolRegistrySearchCmd    `cmd:"" help:"Search the catalog by name, tool, or description."`
	Info      PoolRegistryInfoCmd      `cmd:"" help:"Show one entry's full descriptor."`
	Tools     PoolRegistryToolsCmd     `cmd:"" help:"List an entry's advertised tool names."`
	Install   PoolRegistryInstallCmd   `cmd:"" help:"Install a server (builtin name, npm:pkg, or github:owner/repo)."`
	Uninstall PoolRegistryUninstallCmd `cmd:"" help:"Remove a non-builtin entry."`
	Enable    PoolRegistryEnableCmd    `cmd:"" help:"Mark an entry enabled."`
	Disable   PoolRegistryDisableCmd   `cmd:"" help:"Mark an entry disabled."`
}

// PoolRegistryListCmd lists catalog entries, optionally filtered.
type PoolRegistryListCmd struct {
	Category    string `help:"Restrict to a single category."`
	EnabledOnly bool   `name:"enabled-only" help:"Only show enabled entries."`
}

func (c *PoolRegistryListCmd) Run(cli *CLI) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	return printJSON(registry.List(c.Category, c.EnabledOnly))
}

// PoolRegistrySearchCmd searches the catalog by substring.
type PoolRegistrySearchCmd struct {
	Query string `arg:"" help:"Search term."`
}

func (c *PoolRegistrySearchCmd) Run(cli *CLI) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	return printJSON(registry.Search(c.Query))
}

// PoolRegistryInfoCmd shows one entry in full.
type PoolRegistryInfoCmd struct {
	Name string `arg:"" help:"Entry name."`
}

func (c *PoolRegistryInfoCmd) Run(cli *CLI) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	d, ok := registry.Get(c.Name)
	if !ok {
		return fmt.Errorf("%w: %s", pool.ErrUnknownServer, c.Name)
	}
	return printJSON(d)
}

// PoolRegistryToolsCmd lists a catalog entry's statically declared
// tool names. For the tools a *running* server actually advertises,
// use `pool status` against a warmed daemon instead.
type PoolRegistryToolsCmd struct {
	Name string `arg:"" help:"Entry name."`
}

func (c *PoolRegistryToolsCmd) Run(cli *CLI) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	d, ok := registry.Get(c.Name)
	if !ok {
		return fmt.Errorf("%w: %s", pool.ErrUnknownServer, c.Name)
	}
	for _, t := range d.Tools {
		fmt.Println(t)
	}
	return nil
}

// PoolRegistryInstallCmd installs a new catalog entry.
type PoolRegistryInstallCmd struct {
	Name string `arg:"" help:"builtin name, npm:package, or github:owner/repo."`
}

func (c *PoolRegistryInstallCmd) Run(cli *CLI) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	d, err := registry.Install(c.Name)
	if err != nil {
		return err
	}
	return printJSON(d)
}

// PoolRegistryUninstallCmd removes a non-builtin entry.
type PoolRegistryUninstallCmd struct {
	Name string `arg:"" help:"Entry name."`
}

func (c *PoolRegistryUninstallCmd) Run(cli *CLI) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	return registry.Uninstall(c.Name)
}

// PoolRegistryEnableCmd marks an entry enabled.
type PoolRegistryEnableCmd struct {
	Name string `arg:"" help:"Entry name."`
}

func (c *PoolRegistryEnableCmd) Run(cli *CLI) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	return registry.Enable(c.Name)
}

// PoolRegistryDisableCmd marks an entry disabled.
type PoolRegistryDisableCmd struct {
	Name string `arg:"" help:"Entry name."`
}

func (c *PoolRegistryDisableCmd) Run(cli *CLI) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	return registry.Disable(c.Name)
}
