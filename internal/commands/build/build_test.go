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

package build

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/pipewright/internal/commands/shared"
	"github.com/tombee/pipewright/internal/commands/shared/sharedtest"
	"github.com/tombee/pipewright/internal/specpatch"
)

type exported struct {
	ExperimentName string            `json:"experiment_name"`
	Tags           map[string]string `json:"tags"`
	Steps          []struct {
		Key      string         `json:"key"`
		Category string         `json:"category"`
		Settings map[string]any `json:"settings"`
	} `json:"steps"`
	Override struct {
		Applied bool   `json:"applied"`
		Tenant  string `json:"tenant"`
		Specs   int    `json:"specs"`
	} `json:"override"`
}

func TestBuildExportsToStdout(t *testing.T) {
	ws := sharedtest.NewWorkspace(t)
	shared.SetVersion("0.9.0", "abc", "today")
	defer shared.SetVersion("dev", "unknown", "unknown")

	out, err := ws.Execute(t, NewCommand(), "build", "--set", "train.node_count=3", "--set", "train.mpi_flag=on")
	require.NoError(t, err)

	var result exported
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	assert.Equal(t, "nightly", result.ExperimentName)
	assert.Equal(t, "0.9.0", result.Tags["pipewright"])
	require.Len(t, result.Steps, 2)
	assert.Equal(t, "linux", result.Steps[0].Category)
	assert.Equal(t, "windows", result.Steps[1].Category)
	assert.Equal(t, "on", result.Steps[1].Settings["mpi_flag"])

	assert.True(t, result.Override.Applied)
	assert.Equal(t, "contoso", result.Override.Tenant)
	assert.Equal(t, 2, result.Override.Specs)

	assert.Equal(t, sharedtest.PrepSpec, ws.Read(t, filepath.Join("steps", "prep", "spec.yaml")))
	journals, err := specpatch.FindJournals(ws.StepsDir)
	require.NoError(t, err)
	assert.Empty(t, journals)
}

func TestBuildExportsToFile(t *testing.T) {
	ws := sharedtest.NewWorkspace(t)
	export := filepath.Join(ws.Dir, "pipeline.json")

	_, err := ws.Execute(t, NewCommand(), "build", "--export", export, "--gpu", "prep")
	require.NoError(t, err)

	var result exported
	require.NoError(t, json.Unmarshal([]byte(ws.Read(t, "pipeline.json")), &result))
	require.Len(t, result.Steps, 2)
	assert.Equal(t, "gpu-cluster", result.Steps[0].Settings["target"])
}

func TestBuildWritesMetricsAndTraces(t *testing.T) {
	ws := sharedtest.NewWorkspace(t)
	metrics := filepath.Join(ws.Dir, "build.prom")
	traces := filepath.Join(ws.Dir, "traces.json")
	ws.Write(t, "pipewright.yaml", ws.Read(t, "pipewright.yaml")+`
tracing:
  enabled: true
  exporter: console
  output: `+traces+`
`)

	_, err := ws.Execute(t, NewCommand(), "build", "--metrics-file", metrics)
	require.NoError(t, err)

	prom := ws.Read(t, "build.prom")
	assert.Contains(t, prom, "pipewright_runsettings_resolutions_total")
	assert.Contains(t, prom, "pipewright_spec_transactions_total")

	spans := ws.Read(t, "traces.json")
	assert.Contains(t, spans, `"Name":"pipeline.build"`)
	assert.Contains(t, spans, `"Name":"specpatch.override"`)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"gpu for unknown step", []string{"build", "--gpu", "nope"}, shared.ExitInvalidStep},
		{"windows gpu step", []string{"build", "--gpu", "train"}, shared.ExitInvalidStep},
		{"bad set", []string{"build", "--set", "node_count=3"}, shared.ExitInvalidStep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := sharedtest.NewWorkspace(t)
			_, err := ws.Execute(t, NewCommand(), tt.args...)
			require.Error(t, err)
			var exitErr *shared.ExitError
			require.True(t, errors.As(err, &exitErr))
			assert.Equal(t, tt.code, exitErr.Code)

			// specs are restored whatever happened
			assert.Equal(t, sharedtest.PrepSpec, ws.Read(t, filepath.Join("steps", "prep", "spec.yaml")))
		})
	}
}

func TestStepOptions(t *testing.T) {
	opts, err := stepOptions([]string{"score.node_count=4", "score.target=big", "prep.input_mode=download"})
	require.NoError(t, err)
	require.Len(t, opts, 2)
	require.NotNil(t, opts["score"].NodeCount)
	assert.Equal(t, 4, *opts["score"].NodeCount)
	assert.Equal(t, "big", opts["score"].Target)
	assert.Equal(t, "download", opts["prep"].InputMode)

	for _, bad := range []string{"node_count=4", ".x=1", "a=1.5", "score.node_count=many"} {
		_, err := stepOptions([]string{bad})
		assert.Error(t, err, bad)
	}
}
