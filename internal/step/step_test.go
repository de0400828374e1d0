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

package step

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const parallelSpec = `
name: score
namespace: team
type: ParallelComponent
environment:
  os: Linux
inputs:
  model:
    type: path
  data:
    type: path
outputs:
  scores:
    type: path
`

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    *Instance
		wantIn  []string
		wantOut []string
		errText string
	}{
		{
			name:    "mapping ports keep declaration order",
			spec:    parallelSpec,
			want:    &Instance{Name: "team://score", Type: TypeParallel, OS: "Linux"},
			wantIn:  []string{"model", "data"},
			wantOut: []string{"scores"},
		},
		{
			name: "list ports and default type",
			spec: `
name: convert
environment: {os: Windows}
inputs:
  - name: raw
outputs:
  - name: converted
  - name: log
`,
			want:    &Instance{Name: "convert", Type: TypeCommand, OS: "Windows"},
			wantIn:  []string{"raw"},
			wantOut: []string{"converted", "log"},
		},
		{
			name: "no environment and no ports",
			spec: "name: q\ntype: ScopeComponent\n",
			want: &Instance{Name: "q", Type: TypeQuery},
		},
		{
			name:    "missing name",
			spec:    "type: SweepComponent\n",
			errText: "no name",
		},
		{
			name:    "port without name",
			spec:    "name: x\ninputs:\n  - type: path\n",
			errText: "needs a name",
		},
		{
			name:    "scalar ports",
			spec:    "name: x\noutputs: nope\n",
			errText: "mapping or a list",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := ParseSpec([]byte(tt.spec))
			if tt.errText != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errText)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Name, inst.StepName())
			assert.Equal(t, tt.want.Type, inst.StepType())
			assert.Equal(t, tt.want.OS, inst.EnvironmentOS())
			assert.Equal(t, tt.wantIn, portList(inst.Inputs()))
			assert.Equal(t, tt.wantOut, portList(inst.Outputs()))
		})
	}
}

func portList(ports []*Port) []string {
	var names []string
	for _, p := range ports {
		names = append(names, p.Name)
	}
	return names
}

func TestLoadSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(parallelSpec), 0644))

	inst, err := LoadSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "team://score", inst.Name)
	assert.NotNil(t, inst.Input("data"))
	assert.Nil(t, inst.Input("scores"))

	_, err = LoadSpec(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPortConfigure(t *testing.T) {
	p := &Port{Name: "out", Mode: "mount"}
	p.Configure("", "")
	assert.Equal(t, "mount", p.Mode)
	assert.Empty(t, p.Datastore)

	p.Configure("upload", "store")
	assert.Equal(t, "upload", p.Mode)
	assert.Equal(t, "store", p.Datastore)
}

func TestIsWindows(t *testing.T) {
	assert.True(t, IsWindows(NewInstance("a", TypeCommand, "windows", nil, nil)))
	assert.True(t, IsWindows(NewInstance("a", TypeCommand, "Windows", nil, nil)))
	assert.False(t, IsWindows(NewInstance("a", TypeCommand, "Linux", nil, nil)))
	assert.False(t, IsWindows(NewInstance("a", TypeCommand, "", nil, nil)))
}

func TestSettingsFlatten(t *testing.T) {
	one := 1
	s := &Settings{}
	s.Configure("cpu", map[string]any{"priority": 5})
	s.ResourceLayout = &ResourceLayout{NodeCount: 1, ProcessCountPerNode: &one}
	s.Parallel = &Parallel{
		NodeCount:      4,
		MiniBatchSize:  "10MB",
		RunMaxTry:      3,
		ErrorThreshold: -1,
		Extras:         map[string]any{"logging_level": "DEBUG"},
	}
	s.Sweep = &Sweep{Algorithm: "random", Limits: SweepLimits{MaxTotalTrials: 8}}

	flat := s.Flatten()
	assert.Equal(t, "cpu", flat["target"])
	assert.Equal(t, 5, flat["priority"])
	assert.Equal(t, 1, flat["resource_layout.process_count_per_node"])
	assert.Equal(t, "10MB", flat["parallel.mini_batch_size"])
	assert.Equal(t, "DEBUG", flat["parallel.logging_level"])
	assert.NotContains(t, flat, "parallel.process_count_per_node")
	assert.Equal(t, "random", flat["sweep.algorithm"])
	assert.Equal(t, 8, flat["sweep.limits.max_total_trials"])
	assert.NotContains(t, flat, "sweep.objective.goal")

	keys := SortedKeys(flat)
	assert.Equal(t, "parallel.error_threshold", keys[0])
}

func TestSettingsExtrasWinOverFixedFields(t *testing.T) {
	s := &Settings{}
	s.Configure("cpu", map[string]any{"target": "override"})
	assert.Equal(t, "cpu", s.Target)
	assert.Equal(t, "override", s.Flatten()["target"])
}
