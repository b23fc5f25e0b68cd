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

	"github.com/invopop/jsonschema"

	"github.com/daedalos/daedalos/pkg/gate"
	"github.com/daedalos/daedalos/pkg/pool"
	"github.com/daedalos/daedalos/pkg/workflow"
)

// SchemaCmd generates JSON Schema for one of Daedalos's YAML config
// kinds, for editors and config-builder UIs to validate against.
type SchemaCmd struct {
	Kind    string `arg:"" enum:"gate,pool,workflow" help:"Config kind (gate, pool, workflow)."`
	Compact bool   `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	var schema *jsonschema.Schema
	switch c.Kind {
	case "gate":
		schema = reflector.Reflect(&gate.Config{})
		schema.ID = "https://daedalos.dev/schemas/gate.json"
		schema.Title = "Daedalos Gate Configuration Schema"
		schema.Description = "Supervision level, per-gate overrides, and autonomy limits."
	case "pool":
		schema = reflector.Reflect(&pool.Config{})
		schema.ID = "https://daedalos.dev/schemas/pool.json"
		schema.Title = "Daedalos Process Pool Configuration Schema"
		schema.Description = "Process-pool daemon resource limits and warmed server list."
	case "workflow":
		schema = reflector.Reflect(&workflow.Definition{})
		schema.ID = "https://daedalos.dev/schemas/workflow.json"
		schema.Title = "Daedalos Workflow Definition Schema"
		schema.Description = "Multi-loop workflow document: loops, dependencies, and hooks."
	default:
		return fmt.Errorf("schema: unknown kind %q", c.Kind)
	}

	schema.Version = "http://json-schema.org/draft-07/schema#"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("schema: encode: %w", err)
	}
	return nil
}
