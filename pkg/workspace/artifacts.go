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

package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

func (w *Workspace) artifactPath(name string) (string, error) {
	clean := filepath.Base(name)
	if clean == "." || clean == string(filepath.Separator) || clean == "" {
		return "", fmt.Errorf("workspace: invalid artifact name %q", name)
	}
	return filepath.Join(w.dir, "artifacts", clean), nil
}

// SaveArtifact writes raw bytes to a named artifact, overwriting any
// prior content under that name.
func (w *Workspace) SaveArtifact(name string, data []byte) error {
	path, err := w.artifactPath(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save artifact %q: %w", name, err)
	}
	return nil
}

// GetArtifact reads back a named artifact's bytes.
func (w *Workspace) GetArtifact(name string) ([]byte, error) {
	path, err := w.artifactPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("get artifact %q: %w", name, err)
	}
	return data, nil
}

// ListArtifacts returns the names of all saved artifacts, sorted.
func (w *Workspace) ListArtifacts() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(w.dir, "artifacts"))
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
