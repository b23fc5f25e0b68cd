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
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/daedalos/daedalos/pkg/gate"
)

// InstallSource names where a registry descriptor's command came from.
type InstallSource string

const (
	SourceBuiltin InstallSource = "builtin"
	SourceNPM     InstallSource = "npm"
	SourceGitHub  InstallSource = "github"
	SourceLocal   InstallSource = "local"
)

// Descriptor is catalog data — what *could* be warmed — distinct from
// the running Server record, which is runtime state.
type Descriptor struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Command      string            `yaml:"command"`
	Args         []string          `yaml:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Category     string            `yaml:"category,omitempty"`
	Tools        []string          `yaml:"tools,omitempty"`
	Resources    []string          `yaml:"resources,omitempty"`
	RequiresAuth bool              `yaml:"requires_auth,omitempty"`
	AuthEnvVars  []string          `yaml:"auth_env_vars,omitempty"`
	Source       InstallSource     `yaml:"source"`
	Enabled      bool              `yaml:"enabled"`
}

// builtinCatalog is the set of well-known MCP servers shipped as the
// registry's built-in entries.
func builtinCatalog() []Descriptor {
	return []Descriptor{
		{Name: "filesystem", Description: "Read/write access to a local directory tree",
			Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-filesystem"},
			Category: "core", Tools: []string{"read_file", "write_file", "list_directory"}, Source: SourceBuiltin, Enabled: true},
		{Name: "github", Description: "GitHub repository operations",
			Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-github"},
			Category: "vcs", RequiresAuth: true, AuthEnvVars: []string{"GITHUB_PERSONAL_ACCESS_TOKEN"}, Source: SourceBuiltin, Enabled: true},
		{Name: "memory", Description: "Persistent key-value scratch memory",
			Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-memory"},
			Category: "core", Source: SourceBuiltin, Enabled: true},
		{Name: "sqlite", Description: "Query a local SQLite database",
			Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-sqlite"},
			Category: "data", Source: SourceBuiltin, Enabled: false},
		{Name: "fetch", Description: "Fetch and convert web pages",
			Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-fetch"},
			Category: "web", Source: SourceBuiltin, Enabled: true},
		{Name: "brave-search", Description: "Web search via the Brave Search API",
			Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-brave-search"},
			Category: "web", RequiresAuth: true, AuthEnvVars: []string{"BRAVE_API_KEY"}, Source: SourceBuiltin, Enabled: false},
	}
}

// Registry merges the built-in catalog with user-installed entries
// persisted to installed.yaml, and enable/disable overrides persisted
// to a sibling state.yaml.
type Registry struct {
	mu      sync.Mutex
	dataDir string
	gate    *gate.Engine

	entries map[string]Descriptor
}

// NewRegistry loads (or seeds) a registry rooted at dataDir.
func NewRegistry(dataDir string, gateEngine *gate.Engine) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("pool: create registry dir: %w", err)
	}
	r := &Registry{dataDir: dataDir, gate: gateEngine, entries: make(map[string]Descriptor)}
	for _, d := range builtinCatalog() {
		r.entries[d.Name] = d
	}
	if err := r.loadInstalled(); err != nil {
		return nil, err
	}
	if err := r.loadState(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) installedPath() string { return filepath.Join(r.dataDir, "installed.yaml") }
func (r *Registry) statePath() string     { return filepath.Join(r.dataDir, "state.yaml") }

func (r *Registry) loadInstalled() error {
	data, err := os.ReadFile(r.installedPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pool: read installed.yaml: %w", err)
	}
	var installed []Descriptor
	if err := yaml.Unmarshal(data, &installed); err != nil {
		return fmt.Errorf("pool: parse installed.yaml: %w", err)
	}
	for _, d := range installed {
		r.entries[d.Name] = d
	}
	return nil
}

func (r *Registry) loadState() error {
	data, err := os.ReadFile(r.statePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pool: read state.yaml: %w", err)
	}
	var state map[string]bool
	if err := yaml.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("pool: parse state.yaml: %w", err)
	}
	for name, enabled := range state {
		if d, ok := r.entries[name]; ok {
			d.Enabled = enabled
			r.entries[name] = d
		}
	}
	return nil
}

func (r *Registry) saveState() error {
	state := make(map[string]bool, len(r.entries))
	for name, d := range r.entries {
		state[name] = d.Enabled
	}
	data, err := yaml.Marshal(state)
	if err != nil {
		return err
	}
	return os.WriteFile(r.statePath(), data, 0o644)
}

func (r *Registry) saveInstalled() error {
	var installed []Descriptor
	for _, d := range r.entries {
		if d.Source != SourceBuiltin {
			installed = append(installed, d)
		}
	}
	data, err := yaml.Marshal(installed)
	if err != nil {
		return err
	}
	return os.WriteFile(r.installedPath(), data, 0o644)
}

// List returns every descriptor, optionally filtered by category
// and/or enabled-only.
func (r *Registry) List(category string, enabledOnly bool) []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Descriptor
	for _, d := range r.entries {
		if category != "" && d.Category != category {
			continue
		}
		if enabledOnly && !d.Enabled {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Search matches name, tool names, and description by substring.
func (r *Registry) Search(query string) []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := strings.ToLower(query)
	var out []Descriptor
	for _, d := range r.entries {
		if strings.Contains(strings.ToLower(d.Name), q) || strings.Contains(strings.ToLower(d.Description), q) {
			out = append(out, d)
			continue
		}
		for _, tool := range d.Tools {
			if strings.Contains(strings.ToLower(tool), q) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// Get returns one descriptor by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.entries[name]
	return d, ok
}

// Enable/Disable flip a descriptor's enabled flag and persist state.yaml.
func (r *Registry) Enable(name string) error  { return r.setEnabled(name, true) }
func (r *Registry) Disable(name string) error { return r.setEnabled(name, false) }

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	d, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	d.Enabled = enabled
	r.entries[name] = d
	r.mu.Unlock()
	return r.saveState()
}

// Install adds a new descriptor from a builtin name, an npm:-prefixed
// package, or a github:-prefixed repo slug. Installation shells out to
// `npm install -g` or `git clone` respectively, so it is gated through
// shell_command before any process is spawned.
func (r *Registry) Install(name string) (Descriptor, error) {
	source, ref, _ := strings.Cut(name, ":")
	var d Descriptor

	switch source {
	case "npm":
		d = Descriptor{Name: ref, Source: SourceNPM, Command: "npx", Args: []string{"-y", ref}, Enabled: true}
	case "github":
		d = Descriptor{Name: ref, Source: SourceGitHub, Enabled: true}
	default:
		builtin, ok := find(builtinCatalog(), name)
		if !ok {
			return Descriptor{}, fmt.Errorf("pool: %q is not a builtin, npm:, or github: reference", name)
		}
		d = builtin
	}

	if err := r.gateInstall(d); err != nil {
		return Descriptor{}, err
	}

	if d.Source == SourceGitHub {
		cloneDir := filepath.Join(r.dataDir, "installed", d.Name)
		cmd := exec.Command("git", "clone", "https://github.com/"+ref+".git", cloneDir)
		if out, err := cmd.CombinedOutput(); err != nil {
			return Descriptor{}, fmt.Errorf("pool: git clone %s: %w: %s", ref, err, out)
		}
		d.Command = cloneDir
	} else if d.Source == SourceNPM {
		cmd := exec.Command("npm", "install", "-g", ref)
		if out, err := cmd.CombinedOutput(); err != nil {
			return Descriptor{}, fmt.Errorf("pool: npm install -g %s: %w: %s", ref, err, out)
		}
	}

	r.mu.Lock()
	r.entries[d.Name] = d
	r.mu.Unlock()
	if err := r.saveInstalled(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// gateInstall consults the shell_command gate before Install shells
// out to npm or git.
func (r *Registry) gateInstall(d Descriptor) error {
	if r.gate == nil {
		return nil
	}
	result, err := r.gate.Evaluate(gate.Request{
		Gate:      gate.GateShellCommand,
		Source:    "pool.registry.install",
		Detail:    fmt.Sprintf("install MCP server %q (%s)", d.Name, d.Source),
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	if !result.Allowed {
		return fmt.Errorf("pool: install of %q denied by gate: %s", d.Name, result.Reason)
	}
	return nil
}

// Uninstall removes a non-builtin descriptor.
func (r *Registry) Uninstall(name string) error {
	r.mu.Lock()
	d, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	if d.Source == SourceBuiltin {
		r.mu.Unlock()
		return fmt.Errorf("pool: %q is a builtin and cannot be uninstalled", name)
	}
	delete(r.entries, name)
	r.mu.Unlock()
	return r.saveInstalled()
}

func find(descs []Descriptor, name string) (Descriptor, bool) {
	for _, d := range descs {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}
