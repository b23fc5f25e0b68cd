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

package gate

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Autonomy holds the non-enforced per-run limits. Evaluating these never
// blocks anything by itself; CheckLimits returns a reason string that
// callers must check and act on.
type Autonomy struct {
	MaxIterations   int      `yaml:"max_iterations,omitempty"`
	MaxFileChanges  int      `yaml:"max_file_changes,omitempty"`
	MaxLinesChanged int      `yaml:"max_lines_changed,omitempty"`
	SensitivePaths  []string `yaml:"sensitive_paths,omitempty"`
}

// Config is the on-disk shape of a gate policy document: a base level,
// per-gate action overrides, and autonomy limits.
type Config struct {
	Level     Level           `yaml:"level"`
	Gates     map[Gate]Action `yaml:"gates,omitempty"`
	Autonomy  Autonomy        `yaml:"autonomy,omitempty"`
	Overrides map[Gate]Action `yaml:"overrides,omitempty"`
}

// SetDefaults fills in an empty config with sane defaults, matching the
// layered-default idiom the config package uses elsewhere: explicit
// value > config file > built-in default.
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = LevelSupervised
	}
	if c.Autonomy.MaxIterations == 0 {
		c.Autonomy.MaxIterations = 20
	}
	if c.Autonomy.MaxFileChanges == 0 {
		c.Autonomy.MaxFileChanges = 50
	}
	if c.Autonomy.MaxLinesChanged == 0 {
		c.Autonomy.MaxLinesChanged = 2000
	}
	if len(c.Autonomy.SensitivePaths) == 0 {
		c.Autonomy.SensitivePaths = []string{
			"*.env", ".env.*", "*_key", "*_secret", "id_rsa", "id_ed25519", "*.pem",
		}
	}
}

// LoadConfig reads a YAML gate config from path. A missing file returns
// a defaulted Config rather than an error — gate evaluation must work
// even before the user has written one.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.SetDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read gate config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse gate config %q: %w", path, err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// Save writes the config back to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal gate config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write gate config %q: %w", path, err)
	}
	return nil
}

// ActionFor resolves the effective action for a gate, applying the
// config's overrides on top of the level's defaults.
func (c *Config) ActionFor(g Gate) Action {
	if a, ok := c.Overrides[g]; ok {
		return a
	}
	if a, ok := c.Gates[g]; ok {
		return a
	}
	if table, ok := defaultActions[c.Level]; ok {
		if a, ok := table[g]; ok {
			return a
		}
	}
	return ActionApprove
}

// ProjectLevel reads just the "level" field out of a project-local gate
// config at path, without applying SetDefaults: callers merging it with
// a user-global level via EffectiveLevel need to know whether the
// project file actually set a level, not see it silently defaulted to
// LevelSupervised. A missing file or a file with no level set both
// return "".
func ProjectLevel(path string) (Level, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read project gate config %q: %w", path, err)
	}
	var raw struct {
		Level Level `yaml:"level"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("parse project gate config %q: %w", path, err)
	}
	return raw.Level, nil
}

// EffectiveLevel merges a user-global config with a project-local one.
// The project-local config may only tighten the effective level: the
// returned level's Index is never less than the user level's Index.
func EffectiveLevel(user, project Level) (Level, error) {
	userIdx, err := user.Index()
	if err != nil {
		return "", err
	}
	if project == "" {
		return user, nil
	}
	projectIdx, err := project.Index()
	if err != nil {
		return "", err
	}
	if projectIdx < userIdx {
		return user, nil
	}
	return project, nil
}

// MatchesSensitivePath reports whether path matches any configured
// sensitive-path glob, checked against both the full path and basename.
func (c *Config) MatchesSensitivePath(path string) bool {
	if path == "" {
		return false
	}
	base := filepath.Base(path)
	for _, pattern := range c.Autonomy.SensitivePaths {
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// LimitReason checks per-run counters against the configured autonomy
// caps and returns a non-empty reason if any cap is exceeded. Callers
// are responsible for checking this themselves before continuing; it
// is advisory, not enforced by the gate engine.
func (c *Config) LimitReason(iterations, fileChanges, linesChanged int) string {
	switch {
	case c.Autonomy.MaxIterations > 0 && iterations > c.Autonomy.MaxIterations:
		return fmt.Sprintf("exceeded max_iterations (%d)", c.Autonomy.MaxIterations)
	case c.Autonomy.MaxFileChanges > 0 && fileChanges > c.Autonomy.MaxFileChanges:
		return fmt.Sprintf("exceeded max_file_changes (%d)", c.Autonomy.MaxFileChanges)
	case c.Autonomy.MaxLinesChanged > 0 && linesChanged > c.Autonomy.MaxLinesChanged:
		return fmt.Sprintf("exceeded max_lines_changed (%d)", c.Autonomy.MaxLinesChanged)
	default:
		return ""
	}
}
