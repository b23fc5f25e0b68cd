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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrompter struct {
	ok    bool
	noTTY bool
}

func (s stubPrompter) Confirm(string) (bool, bool) { return s.ok, s.noTTY }

func newTestConfig(level Level) *Config {
	cfg := &Config{Level: level}
	cfg.SetDefaults()
	return cfg
}

func TestEvaluate_Allow(t *testing.T) {
	cfg := newTestConfig(LevelAutonomous)
	eng := NewEngine(cfg, NewAuditLog(t.TempDir()), nil)

	res, err := eng.Evaluate(Request{Gate: GateFileCreate, Source: "test"})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, ActionAllow, res.Action)
}

func TestEvaluate_Deny(t *testing.T) {
	cfg := newTestConfig(LevelManual)
	eng := NewEngine(cfg, NewAuditLog(t.TempDir()), nil)

	res, err := eng.Evaluate(Request{Gate: GateFileDelete, Source: "test"})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, ActionDeny, res.Action)
}

func TestEvaluate_ApproveNonInteractive(t *testing.T) {
	cfg := newTestConfig(LevelAssisted)
	eng := NewEngine(cfg, NewAuditLog(t.TempDir()), nil)

	res, err := eng.Evaluate(Request{Gate: GateGitCommit, Source: "test"})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonNonInteractive, res.Reason)
}

func TestEvaluate_ApproveInteractive(t *testing.T) {
	cfg := newTestConfig(LevelAssisted)
	eng := NewEngine(cfg, NewAuditLog(t.TempDir()), stubPrompter{ok: true})

	res, err := eng.Evaluate(Request{Gate: GateGitCommit, Source: "test"})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, ApproverUser, res.Approver)
}

func TestEvaluate_SensitivePathOverride(t *testing.T) {
	cfg := newTestConfig(LevelAutonomous)
	eng := NewEngine(cfg, NewAuditLog(t.TempDir()), nil)

	res, err := eng.Evaluate(Request{Gate: GateFileModify, Source: "test", Path: "/repo/.env"})
	require.NoError(t, err)
	// autonomous's sensitive_file action is "approve", overriding file_modify's "allow"
	assert.Equal(t, ActionApprove, res.Action)
	assert.False(t, res.Allowed)
}

func TestEffectiveLevel_ProjectCanOnlyTighten(t *testing.T) {
	lvl, err := EffectiveLevel(LevelSupervised, LevelAutonomous)
	require.NoError(t, err)
	assert.Equal(t, LevelSupervised, lvl, "project config may not loosen the user level")

	lvl, err = EffectiveLevel(LevelSupervised, LevelManual)
	require.NoError(t, err)
	assert.Equal(t, LevelManual, lvl, "project config may tighten the user level")
}

func TestAuditLog_History(t *testing.T) {
	dir := t.TempDir()
	log := NewAuditLog(dir)
	require.NoError(t, log.Append(AuditEntry{Gate: GateFileDelete, Action: ActionDeny}))
	require.NoError(t, log.Append(AuditEntry{Gate: GateGitCommit, Action: ActionAllow}))

	entries, err := log.History(7, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = log.History(7, GateFileDelete, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, GateFileDelete, entries[0].Gate)
}

func TestLoadConfig_MissingFileDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, LevelSupervised, cfg.Level)
	assert.NotEmpty(t, cfg.Autonomy.SensitivePaths)
}

func TestLimitReason(t *testing.T) {
	cfg := newTestConfig(LevelSupervised)
	cfg.Autonomy.MaxIterations = 5
	assert.Equal(t, "", cfg.LimitReason(5, 0, 0))
	assert.Contains(t, cfg.LimitReason(6, 0, 0), "max_iterations")
}
