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

package profile

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/pipewright/internal/step"
)

var _ pflag.Value = (*TriState)(nil)

func TestParseTriState(t *testing.T) {
	tests := []struct {
		in      string
		want    TriState
		wantErr bool
	}{
		{"", Auto, false},
		{"auto", Auto, false},
		{"TRUE", True, false},
		{"false", False, false},
		{"0", False, false},
		{"maybe", Auto, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTriState(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTriStateFlag(t *testing.T) {
	var spark TriState
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Var(&spark, "spark", "")

	require.NoError(t, fs.Parse([]string{"--spark=true"}))
	assert.Equal(t, True, spark)
	assert.Equal(t, "true", fs.Lookup("spark").Value.String())

	assert.Error(t, fs.Parse([]string{"--spark=sometimes"}))
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		typ   string
		os    string
		flags Flags
		want  Category
		check func(t *testing.T, p Profile)
	}{
		{
			name: "plain command on linux",
			typ:  step.TypeCommand,
			os:   "Linux",
			want: CategoryLinux,
		},
		{
			name: "windows environment",
			typ:  step.TypeCommand,
			os:   "Windows",
			want: CategoryWindows,
		},
		{
			name: "parallel tag",
			typ:  step.TypeParallel,
			os:   "Linux",
			want: CategoryParallel,
		},
		{
			name: "parallel beats windows",
			typ:  step.TypeParallel,
			os:   "windows",
			want: CategoryParallel,
			check: func(t *testing.T, p Profile) {
				assert.True(t, p.Windows)
			},
		},
		{
			name: "spark tag never windows",
			typ:  step.TypeSpark,
			os:   "windows",
			want: CategorySpark,
			check: func(t *testing.T, p Profile) {
				assert.False(t, p.Windows)
			},
		},
		{
			name: "sweep tag",
			typ:  step.TypeSweep,
			want: CategorySweep,
		},
		{
			name: "query tag",
			typ:  step.TypeQuery,
			want: CategoryQuery,
		},
		{
			name: "transfer tag",
			typ:  step.TypeDataTransfer,
			want: CategoryTransfer,
		},
		{
			name: "distributed tag resolves mpi on the linux strategy",
			typ:  step.TypeDistributed,
			os:   "Linux",
			want: CategoryLinux,
			check: func(t *testing.T, p Profile) {
				assert.True(t, p.MPI)
			},
		},
		{
			name:  "explicit false suppresses detection",
			typ:   step.TypeParallel,
			flags: Flags{Parallel: False},
			want:  CategoryLinux,
		},
		{
			name:  "explicit true forces engine",
			typ:   step.TypeCommand,
			flags: Flags{Query: True},
			want:  CategoryQuery,
		},
		{
			name:  "explicit windows on spark step",
			typ:   step.TypeSpark,
			flags: Flags{Windows: True},
			want:  CategoryWindows,
		},
		{
			name:  "gpu passes through",
			typ:   step.TypeCommand,
			flags: Flags{GPU: true},
			want:  CategoryLinux,
			check: func(t *testing.T, p Profile) {
				assert.True(t, p.GPU)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := step.NewInstance("s", tt.typ, tt.os, nil, nil)
			p := Detect(inst, tt.flags, nil)
			assert.Equal(t, tt.want, p.Category())
			if tt.check != nil {
				tt.check(t, p)
			}
		})
	}
}

func TestCategoryPrecedence(t *testing.T) {
	all := Profile{Spark: true, Windows: true, Parallel: true, Query: true, Transfer: true, Sweep: true}
	assert.Equal(t, CategoryParallel, all.Category())

	all.Parallel = false
	assert.Equal(t, CategorySweep, all.Category())
	all.Sweep = false
	assert.Equal(t, CategoryWindows, all.Category())
	all.Windows = false
	assert.Equal(t, CategorySpark, all.Category())
	all.Spark = false
	assert.Equal(t, CategoryQuery, all.Category())
	all.Query = false
	assert.Equal(t, CategoryTransfer, all.Category())
	all.Transfer = false
	assert.Equal(t, CategoryLinux, all.Category())
}
