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
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	cli := &CLI{}
	parser, err := kong.New(cli, kong.Name("daedalos"))
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	require.NoError(t, err)
	return cli, kctx
}

func TestLoopStartParsing(t *testing.T) {
	cli, _ := parse(t, "loop", "start", "fix the failing test", "--promise", "go test ./...", "-n", "5", "--agent", "aider")
	require.Equal(t, "fix the failing test", cli.Loop.Start.Task)
	require.Equal(t, "go test ./...", cli.Loop.Start.Promise)
	require.Equal(t, 5, cli.Loop.Start.Iterations)
	require.Equal(t, "aider", cli.Loop.Start.Agent)
	require.Equal(t, 10*time.Minute, cli.Loop.Start.Timeout)
}

func TestLoopStartBestOfParsing(t *testing.T) {
	cli, _ := parse(t, "loop", "start", "task", "--promise", "cmd", "--best-of", "3", "--manual")
	require.Equal(t, 3, cli.Loop.Start.BestOf)
	require.True(t, cli.Loop.Start.Manual)
}

func TestUndoTimelineParsing(t *testing.T) {
	cli, _ := parse(t, "undo", "timeline", "-n", "10", "--path", "main.go")
	require.Equal(t, 10, cli.Undo.Timeline.Limit)
	require.Equal(t, "main.go", cli.Undo.Timeline.Path)
}

func TestUndoPruneRequiresRetainNewest(t *testing.T) {
	cli := &CLI{}
	parser, err := kong.New(cli, kong.Name("daedalos"))
	require.NoError(t, err)
	_, err = parser.Parse([]string{"undo", "prune"})
	require.Error(t, err)
}

func TestGateCheckParsing(t *testing.T) {
	cli, _ := parse(t, "gate", "check", "file_delete", `{"path":"a.txt"}`, "--source", "agent")
	require.Equal(t, "file_delete", cli.Gate.Check.Gate)
	require.Equal(t, `{"path":"a.txt"}`, cli.Gate.Check.Context)
	require.Equal(t, "agent", cli.Gate.Check.Source)
}

func TestGateSetParsing(t *testing.T) {
	cli, _ := parse(t, "gate", "set", "git_push", "deny")
	require.Equal(t, "git_push", cli.Gate.Set.Gate)
	require.Equal(t, "deny", cli.Gate.Set.Action)
}

func TestPoolStartRoleParsing(t *testing.T) {
	cli, _ := parse(t, "pool", "--role", "lsp", "start")
	require.Equal(t, "lsp", cli.Pool.Role)
}

func TestPoolRestartParsing(t *testing.T) {
	cli, _ := parse(t, "pool", "restart", "filesystem")
	require.Equal(t, "filesystem", cli.Pool.Restart.Server)
}

func TestPoolEnsureParsing(t *testing.T) {
	cli, _ := parse(t, "pool", "--role", "lsp", "ensure", "go", "--root", "/src/proj")
	require.Equal(t, "lsp", cli.Pool.Role)
	require.Equal(t, "go", cli.Pool.Ensure.Language)
	require.Equal(t, "/src/proj", cli.Pool.Ensure.Root)
}

func TestPoolQueryParsing(t *testing.T) {
	cli, _ := parse(t, "pool", "--role", "lsp", "query", "go", "textDocument/hover", "--params", `{"position":{"line":0}}`)
	require.Equal(t, "go", cli.Pool.Query.Language)
	require.Equal(t, "textDocument/hover", cli.Pool.Query.Method)
	require.Equal(t, `{"position":{"line":0}}`, cli.Pool.Query.Params)
}

func TestPoolRegistryInstallParsing(t *testing.T) {
	cli, _ := parse(t, "pool", "registry", "install", "npm:@modelcontextprotocol/server-fetch")
	require.Equal(t, "npm:@modelcontextprotocol/server-fetch", cli.Pool.Registry.Install.Name)
}

func TestWorkflowRunParsing(t *testing.T) {
	cli, _ := parse(t, "workflow", "run", "build.yaml", "--var", "target=prod", "--var", "retries=3")
	// File is a kong "path" argument, so a relative name is made absolute.
	want, err := filepath.Abs("build.yaml")
	require.NoError(t, err)
	require.Equal(t, want, cli.Workflow.Run.File)
	require.Equal(t, []string{"target=prod", "retries=3"}, cli.Workflow.Run.Var)
}

func TestSchemaKindEnum(t *testing.T) {
	cli, _ := parse(t, "schema", "pool")
	require.Equal(t, "pool", cli.Schema.Kind)

	cli = &CLI{}
	parser, err := kong.New(cli, kong.Name("daedalos"))
	require.NoError(t, err)
	_, err = parser.Parse([]string{"schema", "bogus"})
	require.Error(t, err)
}
