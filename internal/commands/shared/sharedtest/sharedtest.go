// Copyright 2025 Tom Barlow
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

// Package sharedtest builds throwaway pipewright workspaces for command tests.
package sharedtest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/tombee/pipewright/internal/cli"
	"github.com/tombee/pipewright/internal/commands/shared"
)

// Config is a workspace config with two local steps and a contoso rule
// set that swaps the docker registry.
const Config = `identity:
  tenant: contoso
module_loader:
  use_local: "*"
  local_steps_folder: steps
modules:
  manifest:
    - key: prep
      name: data_prep
      yaml: prep/spec.yaml
    - key: train
      name: train
      yaml: train/spec.yaml
tenant_overrides:
  allow_override: true
  mapping:
    contoso:
      environment.docker.image:
        "prod.azurecr.io/(.*)": "dev.azurecr.io/\\1"
run:
  experiment_name: nightly
`

// PrepSpec is a linux command step.
const PrepSpec = `name: data_prep
type: CommandComponent
environment:
  docker:
    image: prod.azurecr.io/prep:3
inputs:
  raw:
    type: path
outputs:
  cleaned:
    type: path
`

// TrainSpec is a windows command step.
const TrainSpec = `name: train
type: CommandComponent
environment:
  os: Windows
inputs:
  - name: data
outputs:
  - name: model
`

// Workspace is a temp directory holding a config file and a steps folder.
type Workspace struct {
	Dir        string
	ConfigPath string
	StepsDir   string
}

// NewWorkspace writes Config, PrepSpec and TrainSpec under a temp dir.
func NewWorkspace(t *testing.T) *Workspace {
	t.Helper()
	for _, key := range []string{"PIPEWRIGHT_TENANT", "PIPEWRIGHT_STEPS_DIR", "PIPEWRIGHT_CONFIG_DIR", "PIPEWRIGHT_CONFIG"} {
		t.Setenv(key, "")
	}
	t.Setenv("PIPEWRIGHT_NON_INTERACTIVE", "true")

	dir := t.TempDir()
	ws := &Workspace{
		Dir:        dir,
		ConfigPath: filepath.Join(dir, "pipewright.yaml"),
		StepsDir:   filepath.Join(dir, "steps"),
	}
	ws.Write(t, "pipewright.yaml", Config)
	ws.Write(t, "steps/prep/spec.yaml", PrepSpec)
	ws.Write(t, "steps/train/spec.yaml", TrainSpec)
	return ws
}

// Write creates rel under the workspace.
func (ws *Workspace) Write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(ws.Dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// Read returns the content of rel.
func (ws *Workspace) Read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ws.Dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

// Execute runs cmd under a fresh root command with --config pointing at
// the workspace. Command and JSON output are both captured.
func (ws *Workspace) Execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	root := cli.NewRootCommand()
	root.AddCommand(cmd)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	restore := shared.SetOutputForTest(&out)
	defer restore()

	root.SetArgs(append([]string{"--config", ws.ConfigPath}, args...))
	err := root.Execute()
	return out.String(), err
}
