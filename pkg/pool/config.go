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
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of a process-pool daemon's YAML config,
// matching the layered-default idiom the gate package's Config uses:
// explicit value > config file > built-in default.
type Config struct {
	MaxServers         int                     `yaml:"max_servers,omitempty"`
	MemoryLimitMB      int                     `yaml:"memory_limit_mb,omitempty"`
	IdleTimeoutMinutes int                     `yaml:"idle_timeout_minutes,omitempty"`
	WarmupOnStart      bool                    `yaml:"warmup_on_start,omitempty"`
	Servers            map[string]ServerConfig `yaml:"servers,omitempty"`
}

// SetDefaults fills in an empty config with the same defaults
// NewSupervisor applies, so a daemon started against a missing config
// file behaves identically to one started with an explicit but empty
// document.
func (c *Config) SetDefaults() {
	if c.MaxServers == 0 {
		c.MaxServers = 8
	}
	if c.IdleTimeoutMinutes == 0 {
		c.IdleTimeoutMinutes = 30
	}
}

// LoadConfig reads a YAML pool config from path. A missing file
// returns a defaulted Config rather than an error, so `pool start`
// works before the user has written one.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.SetDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pool config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse pool config %q: %w", path, err)
	}
	for name, sc := range cfg.Servers {
		sc.Name = name
		cfg.Servers[name] = sc
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
		return fmt.Errorf("marshal pool config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pool config %q: %w", path, err)
	}
	return nil
}
