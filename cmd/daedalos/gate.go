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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/daedalos/daedalos/pkg/gate"
	"github.com/daedalos/daedalos/pkg/paths"
)

// GateCmd groups the supervision-gate subcommands.
type GateCmd struct {
	Check   GateCheckCmd   `cmd:"" help:"Evaluate one gate and print the decision."`
	Level   GateLevelCmd   `cmd:"" help:"Show or set the effective supervision level."`
	Set     GateSetCmd     `cmd:"" help:"Override a single gate's action."`
	Config  GateConfigCmd  `cmd:"" help:"Print the resolved gate configuration."`
	History GateHistoryCmd `cmd:"" help:"Show recent audit log entries."`
}

func gateConfigPath() (string, error) {
	dir, err := paths.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gate.yaml"), nil
}

// gateProjectConfigPath returns the project-local gate config path, a
// ".daedalos/gate.yaml" next to the current working directory. Projects
// that want to tighten (never loosen) the user-global supervision level
// for their own tree commit this file alongside their source.
func gateProjectConfigPath() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve project gate config: %w", err)
	}
	return filepath.Join(wd, ".daedalos", "gate.yaml"), nil
}

func gateAuditDir() (string, error) {
	dir, err := paths.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gates"), nil
}

// loadGateEngine resolves the effective gate config for the current
// working directory: the user-global config merged with any
// project-local one, with EffectiveLevel enforcing that the project can
// only tighten the user's level, never loosen it. The project-local
// file's per-gate overrides are layered over the user-global ones, the
// project's entry winning for a gate both set; every other setting,
// autonomy limits included, comes from the user-global config alone.
func loadGateEngine() (*gate.Engine, error) {
	cfgPath, err := gateConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := gate.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	projectPath, err := gateProjectConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(projectPath); statErr == nil {
		projectLevel, err := gate.ProjectLevel(projectPath)
		if err != nil {
			return nil, err
		}
		level, err := gate.EffectiveLevel(cfg.Level, projectLevel)
		if err != nil {
			return nil, err
		}
		cfg.Level = level

		projectCfg, err := gate.LoadConfig(projectPath)
		if err != nil {
			return nil, err
		}
		for g, a := range projectCfg.Overrides {
			if cfg.Overrides == nil {
				cfg.Overrides = make(map[gate.Gate]gate.Action)
			}
			cfg.Overrides[g] = a
		}
	}

	auditDir, err := gateAuditDir()
	if err != nil {
		return nil, err
	}
	audit := gate.NewAuditLog(auditDir)
	return gate.NewEngine(cfg, audit, gate.NewTerminalPrompter()), nil
}

// GateCheckCmd evaluates one gate request and prints the decision. An
// optional trailing JSON object is decoded over the request via
// mapstructure, so scripted callers can supply path/detail/source (or
// any future Request field) without the CLI needing a flag per field.
type GateCheckCmd struct {
	Gate    string `arg:"" help:"Gate name (e.g. file_delete, git_push, shell_command)."`
	Context string `arg:"" optional:"" help:"Optional JSON object merged into the gate request."`

	Path   string `help:"File path under consideration, for the sensitive-path override."`
	Detail string `help:"Human-readable detail for the audit log."`
	Source string `help:"Source label for the audit log." default:"cli"`
}

func (c *GateCheckCmd) Run(cli *CLI) error {
	engine, err := loadGateEngine()
	if err != nil {
		return err
	}

	req := gate.Request{
		Gate:      gate.Gate(c.Gate),
		Source:    c.Source,
		Path:      c.Path,
		Detail:    c.Detail,
		Timestamp: time.Now(),
	}
	if c.Context != "" {
		var raw map[string]any
		if err := json.Unmarshal([]byte(c.Context), &raw); err != nil {
			return fmt.Errorf("gate: parse context: %w", err)
		}
		if err := mapstructure.Decode(raw, &req); err != nil {
			return fmt.Errorf("gate: decode context: %w", err)
		}
	}

	result, err := engine.Evaluate(req)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// GateLevelCmd shows the configured supervision level, or sets a new
// one when an argument is given.
type GateLevelCmd struct {
	Level string `arg:"" optional:"" help:"New supervision level (autonomous, supervised, collaborative, assisted, manual)."`
}

func (c *GateLevelCmd) Run(cli *CLI) error {
	cfgPath, err := gateConfigPath()
	if err != nil {
		return err
	}
	cfg, err := gate.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	if c.Level == "" {
		fmt.Println(cfg.Level)
		return nil
	}
	lvl := gate.Level(c.Level)
	if _, err := lvl.Index(); err != nil {
		return err
	}
	cfg.Level = lvl
	return cfg.Save(cfgPath)
}

// GateSetCmd forces a single gate to a chosen action regardless of
// level, persisted as a config override.
type GateSetCmd struct {
	Gate   string `arg:"" help:"Gate name."`
	Action string `arg:"" help:"Action to force (allow, notify, approve, deny)."`
}

func (c *GateSetCmd) Run(cli *CLI) error {
	cfgPath, err := gateConfigPath()
	if err != nil {
		return err
	}
	cfg, err := gate.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Overrides == nil {
		cfg.Overrides = make(map[gate.Gate]gate.Action)
	}
	cfg.Overrides[gate.Gate(c.Gate)] = gate.Action(c.Action)
	return cfg.Save(cfgPath)
}

// GateConfigCmd prints the resolved level and every gate's effective
// action.
type GateConfigCmd struct{}

func (c *GateConfigCmd) Run(cli *CLI) error {
	cfgPath, err := gateConfigPath()
	if err != nil {
		return err
	}
	cfg, err := gate.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("level: %s\n", cfg.Level)
	fmt.Println("gates:")
	for _, g := range gate.AllGates {
		fmt.Printf("  %-16s %s\n", g, cfg.ActionFor(g))
	}
	return nil
}

// GateHistoryCmd shows recent audit log entries.
type GateHistoryCmd struct {
	Days  int    `help:"Number of calendar days to look back." default:"7"`
	Gate  string `help:"Restrict to a single gate name."`
	Limit int    `short:"n" help:"Maximum entries to show (0 = unbounded)." default:"50"`
}

func (c *GateHistoryCmd) Run(cli *CLI) error {
	auditDir, err := gateAuditDir()
	if err != nil {
		return err
	}
	audit := gate.NewAuditLog(auditDir)
	entries, err := audit.History(c.Days, gate.Gate(c.Gate), c.Limit)
	if err != nil {
		return err
	}
	return printJSON(entries)
}
