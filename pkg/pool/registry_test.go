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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryBuiltinCatalogLoaded(t *testing.T) {
	r, err := NewRegistry(t.TempDir(), nil)
	require.NoError(t, err)

	_, ok := r.Get("filesystem")
	require.True(t, ok)
	_, ok = r.Get("brave-search")
	require.True(t, ok)
}

func TestRegistryEnableDisablePersists(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir, nil)
	require.NoError(t, err)

	require.NoError(t, r.Enable("sqlite"))
	d, ok := r.Get("sqlite")
	require.True(t, ok)
	require.True(t, d.Enabled)

	r2, err := NewRegistry(dir, nil)
	require.NoError(t, err)
	d2, ok := r2.Get("sqlite")
	require.True(t, ok)
	require.True(t, d2.Enabled)
}

func TestRegistrySearchMatchesToolName(t *testing.T) {
	r, err := NewRegistry(t.TempDir(), nil)
	require.NoError(t, err)

	results := r.Search("read_file")
	require.NotEmpty(t, results)
	require.Equal(t, "filesystem", results[0].Name)
}

func TestRegistryUninstallRefusesBuiltin(t *testing.T) {
	r, err := NewRegistry(t.TempDir(), nil)
	require.NoError(t, err)
	err = r.Uninstall("filesystem")
	require.Error(t, err)
}
