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

// Command daedalos is the CLI for the Daedalos developer-assistance
// toolkit: content-addressed undo, a supervision gate, on-disk
// workspaces, a process-pool daemon, and iterate-until-passing loops.
//
// Usage:
//
//	daedalos loop start "fix the failing test" --promise "go test ./..."
//	daedalos undo timeline
//	daedalos gate level
//	daedalos pool start --role tool-hub
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Loop     LoopCmd     `cmd:"" help:"Run and manage iterate-until-promise loops."`
	Undo     UndoCmd     `cmd:"" help:"Inspect, restore, and serve the file-change timeline."`
	Gate     GateCmd     `cmd:"" help:"Evaluate and configure the supervision gate."`
	Pool     PoolCmd     `cmd:"" help:"Manage the process-pool daemon and MCP server registry."`
	Workflow WorkflowCmd `cmd:"" help:"Run and list multi-loop workflow definitions."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for a config kind."`

	LogLevel string `help:"Log level (debug, info, warn, error)."`
	LogFile  string `help:"Log file path (empty = stderr)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("daedalos version %s\n", version)
	return nil
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("daedalos"),
		kong.Description("Backup, gating, and iterate-until-passing loops for AI-driven code changes."),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "daedalos: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
