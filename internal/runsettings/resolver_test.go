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

package runsettings

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/pipewright/internal/config"
	"github.com/tombee/pipewright/internal/manifest"
	"github.com/tombee/pipewright/internal/profile"
	"github.com/tombee/pipewright/internal/step"
	pwerrors "github.com/tombee/pipewright/pkg/errors"
)

func testConfig(useLocal string) *config.Config {
	cfg := config.Default()
	cfg.Compute.LinuxCPUDCTarget = "linux-cpu-dc"
	cfg.Compute.LinuxCPUProdTarget = "linux-cpu-prod"
	cfg.Compute.LinuxGPUDCTarget = "linux-gpu-dc"
	cfg.Compute.LinuxGPUProdTarget = "linux-gpu-prod"
	cfg.Compute.WindowsCPUDCTarget = "win-cpu-dc"
	cfg.Compute.WindowsCPUProdTarget = "win-cpu-prod"
	cfg.Compute.CompliantDatastore = "compliant"
	cfg.Compute.NoncompliantDatastore = "noncompliant"
	cfg.ModuleLoader.UseLocal = useLocal
	cfg.Modules.Manifest = []config.ManifestEntry{
		{Key: "prep", Name: "prep"},
		{Key: "train", Name: "train", Namespace: "team"},
		{Key: "score", Name: "score"},
		{Key: "spark", Name: "spark"},
		{Key: "sweep", Name: "sweep"},
		{Key: "query", Name: "query"},
		{Key: "copy", Name: "copy"},
		{Key: "anon", Spec: "anon/spec.yaml"},
	}
	return cfg
}

func newResolver(t *testing.T, useLocal string) *Resolver {
	t.Helper()
	cfg := testConfig(useLocal)
	m, err := manifest.New(cfg, nil)
	require.NoError(t, err)
	return New(cfg, m, nil)
}

func newStep(name, typ, os string) *step.Instance {
	return step.NewInstance(name, typ, os, []string{"in_a", "in_b"}, []string{"out"})
}

func TestApplyDispatch(t *testing.T) {
	tests := []struct {
		key  string
		inst *step.Instance
		want profile.Category
	}{
		{"prep", newStep("prep", step.TypeCommand, "Linux"), profile.CategoryLinux},
		{"prep", newStep("prep", step.TypeCommand, "Windows"), profile.CategoryWindows},
		{"score", newStep("score", step.TypeParallel, "Windows"), profile.CategoryParallel},
		{"spark", newStep("spark", step.TypeSpark, ""), profile.CategorySpark},
		{"sweep", newStep("sweep", step.TypeSweep, ""), profile.CategorySweep},
		{"query", newStep("query", step.TypeQuery, ""), profile.CategoryQuery},
		{"copy", newStep("copy", step.TypeDataTransfer, ""), profile.CategoryTransfer},
		{"train", newStep("team://train", step.TypeDistributed, "Linux"), profile.CategoryLinux},
	}
	for _, tt := range tests {
		t.Run(string(tt.want)+"/"+tt.inst.Type, func(t *testing.T) {
			r := newResolver(t, "")
			got, err := r.Apply(tt.key, tt.inst, profile.Flags{}, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetSelection(t *testing.T) {
	tests := []struct {
		name     string
		useLocal string
		inst     *step.Instance
		flags    profile.Flags
		opts     Options
		want     string
	}{
		{"registered linux cpu", "", newStep("prep", step.TypeCommand, "Linux"), profile.Flags{}, Options{}, "linux-cpu-prod"},
		{"local linux cpu", "*", newStep("prep", step.TypeCommand, "Linux"), profile.Flags{}, Options{}, "linux-cpu-dc"},
		{"local linux gpu", "prep", newStep("prep", step.TypeCommand, "Linux"), profile.Flags{GPU: true}, Options{}, "linux-gpu-dc"},
		{"registered linux gpu", "!prep", newStep("prep", step.TypeCommand, "Linux"), profile.Flags{GPU: true}, Options{}, "linux-gpu-prod"},
		{"local windows", "*", newStep("prep", step.TypeCommand, "windows"), profile.Flags{}, Options{}, "win-cpu-dc"},
		{"registered windows", "", newStep("prep", step.TypeCommand, "windows"), profile.Flags{}, Options{}, "win-cpu-prod"},
		{"local parallel windows", "*", newStep("score", step.TypeParallel, "windows"), profile.Flags{}, Options{}, "win-cpu-dc"},
		{"registered sweep gpu", "", newStep("sweep", step.TypeSweep, ""), profile.Flags{GPU: true}, Options{}, "linux-gpu-prod"},
		{"explicit target wins", "*", newStep("prep", step.TypeCommand, "Linux"), profile.Flags{}, Options{Target: "mine"}, "mine"},
		{"spark default target", "", newStep("spark", step.TypeSpark, ""), profile.Flags{}, Options{}, "hdi-cluster"},
		{"transfer default target", "", newStep("copy", step.TypeDataTransfer, ""), profile.Flags{}, Options{}, "data-factory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(t, tt.useLocal)
			_, err := r.Apply(tt.inst.Name, tt.inst, tt.flags, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tt.inst.RunSettings().Target)
		})
	}
}

func TestWindowsGPUIsInvalid(t *testing.T) {
	for _, useLocal := range []string{"", "*"} {
		for _, typ := range []string{step.TypeCommand, step.TypeParallel, step.TypeSweep} {
			t.Run(useLocal+typ, func(t *testing.T) {
				r := newResolver(t, useLocal)
				inst := newStep("prep", typ, "Linux")
				flags := profile.Flags{GPU: true, Windows: profile.True}

				_, err := r.Apply("prep", inst, flags, Options{})
				var invalid *pwerrors.InvalidConfigurationError
				require.True(t, errors.As(err, &invalid), "got %v", err)
				assert.Equal(t, "prep", invalid.StepKey)

				// nothing was written
				assert.Equal(t, step.Settings{}, *inst.RunSettings())
				assert.Empty(t, inst.Outputs()[0].Datastore)
			})
		}
	}
}

func TestMPILayout(t *testing.T) {
	r := newResolver(t, "")

	inst := newStep("prep", step.TypeCommand, "Linux")
	_, err := r.Apply("prep", inst, profile.Flags{MPI: profile.True}, Options{})
	require.NoError(t, err)
	rl := inst.RunSettings().ResourceLayout
	require.NotNil(t, rl)
	assert.Equal(t, 1, rl.NodeCount)
	require.NotNil(t, rl.ProcessCountPerNode)
	assert.Equal(t, 1, *rl.ProcessCountPerNode)

	nodes := 4
	inst = newStep("prep", step.TypeCommand, "windows")
	_, err = r.Apply("prep", inst, profile.Flags{MPI: profile.True}, Options{NodeCount: &nodes})
	require.NoError(t, err)
	rl = inst.RunSettings().ResourceLayout
	assert.Equal(t, 4, rl.NodeCount)
	require.NotNil(t, rl.ProcessCountPerNode)
	assert.Equal(t, 1, *rl.ProcessCountPerNode)

	inst = newStep("prep", step.TypeCommand, "Linux")
	_, err = r.Apply("prep", inst, profile.Flags{}, Options{})
	require.NoError(t, err)
	assert.Nil(t, inst.RunSettings().ResourceLayout)
}

func TestDefaultModes(t *testing.T) {
	r := newResolver(t, "")

	inst := newStep("prep", step.TypeCommand, "Linux")
	_, err := r.Apply("prep", inst, profile.Flags{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "mount", inst.Input("in_a").Mode)
	assert.Equal(t, "mount", inst.Output("out").Mode)
	assert.Equal(t, "compliant", inst.Output("out").Datastore)

	inst = newStep("prep", step.TypeCommand, "Windows")
	_, err = r.Apply("prep", inst, profile.Flags{}, Options{OutputMode: "mount"})
	require.NoError(t, err)
	assert.Equal(t, "download", inst.Input("in_b").Mode)
	assert.Equal(t, "mount", inst.Output("out").Mode)
}

func TestParallel(t *testing.T) {
	r := newResolver(t, "")

	inst := newStep("score", step.TypeParallel, "Linux")
	_, err := r.Apply("score", inst, profile.Flags{}, Options{Extras: map[string]any{"logging_level": "DEBUG"}})
	require.NoError(t, err)

	p := inst.RunSettings().Parallel
	require.NotNil(t, p)
	assert.Equal(t, 10, p.NodeCount)
	assert.Nil(t, p.ProcessCountPerNode)
	assert.Equal(t, "1", p.MiniBatchSize)
	assert.Equal(t, 10800, p.RunInvocationTimeout)
	assert.Equal(t, 3, p.RunMaxTry)
	assert.Equal(t, -1, p.ErrorThreshold)
	assert.Equal(t, "DEBUG", p.Extras["logging_level"])
	assert.Empty(t, inst.RunSettings().Extras)

	// modes untouched without an explicit request
	assert.Empty(t, inst.Input("in_a").Mode)
	assert.Empty(t, inst.Output("out").Datastore)

	threshold, procs := 5, 2
	inst = newStep("score", step.TypeParallel, "Linux")
	_, err = r.Apply("score", inst, profile.Flags{}, Options{
		MiniBatchSize:       "10MB",
		ErrorThreshold:      &threshold,
		ProcessCountPerNode: &procs,
		InputMode:           "download",
	})
	require.NoError(t, err)
	p = inst.RunSettings().Parallel
	assert.Equal(t, "10MB", p.MiniBatchSize)
	assert.Equal(t, 5, p.ErrorThreshold)
	assert.Equal(t, 2, *p.ProcessCountPerNode)
	assert.Equal(t, "download", inst.Input("in_b").Mode)

	inst = newStep("score", step.TypeParallel, "Linux")
	_, err = r.Apply("score", inst, profile.Flags{}, Options{MiniBatchSize: 64})
	require.NoError(t, err)
	assert.Equal(t, "64", inst.RunSettings().Parallel.MiniBatchSize)

	bad := -2
	inst = newStep("score", step.TypeParallel, "Linux")
	_, err = r.Apply("score", inst, profile.Flags{}, Options{ErrorThreshold: &bad})
	var verr *pwerrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "error_threshold", verr.Field)
	assert.Nil(t, inst.RunSettings().Parallel)
	assert.Empty(t, inst.RunSettings().Target)
}

func TestSpark(t *testing.T) {
	cfg := testConfig("")
	cfg.Compute.HDIConf = map[string]any{
		"spark": map[string]any{"sql": map[string]any{"shuffle": map[string]any{"partitions": 64}}},
	}
	m, err := manifest.New(cfg, nil)
	require.NoError(t, err)
	r := New(cfg, m, nil)

	inst := newStep("spark", step.TypeSpark, "")
	_, err = r.Apply("spark", inst, profile.Flags{}, Options{})
	require.NoError(t, err)

	sp := inst.RunSettings().Spark
	require.NotNil(t, sp)
	assert.Equal(t, "2g", sp.DriverMemory)
	assert.Equal(t, 2, sp.NumberExecutors)
	assert.Equal(t, 64, sp.Conf["spark.sql.shuffle.partitions"])
	assert.Equal(t, "1", sp.Conf["spark.yarn.maxAppAttempts"])

	// outputs always get the datastore, inputs only with a mode
	assert.Equal(t, "compliant", inst.Output("out").Datastore)
	assert.Empty(t, inst.Output("out").Mode)
	assert.Empty(t, inst.Input("in_a").Mode)

	// caller conf replaces configured conf
	cores := 8
	inst = newStep("spark", step.TypeSpark, "")
	_, err = r.Apply("spark", inst, profile.Flags{}, Options{
		Conf:          `{"spark.yarn.maxAppAttempts": "3"}`,
		ExecutorCores: &cores,
	})
	require.NoError(t, err)
	sp = inst.RunSettings().Spark
	assert.Equal(t, "3", sp.Conf["spark.yarn.maxAppAttempts"])
	assert.NotContains(t, sp.Conf, "spark.sql.shuffle.partitions")
	assert.Equal(t, 8, sp.ExecutorCores)

	badMem := "a lot"
	inst = newStep("spark", step.TypeSpark, "")
	_, err = r.Apply("spark", inst, profile.Flags{}, Options{DriverMemory: &badMem})
	assert.Error(t, err)
	assert.Nil(t, inst.RunSettings().Spark)

	inst = newStep("spark", step.TypeSpark, "")
	_, err = r.Apply("spark", inst, profile.Flags{}, Options{Conf: "{not json"})
	assert.Error(t, err)
}

func TestMergeSparkConf(t *testing.T) {
	defaults := map[string]any{"a": 1, "b": 2}

	merged, err := MergeSparkConf(defaults, map[string]any{"b": 5, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": 5, "c": 3}, merged)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, defaults)

	merged, err = MergeSparkConf(defaults, `{"b": 5, "c": 3}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": float64(5), "c": float64(3)}, merged)

	merged, err = MergeSparkConf(map[string]any{"x.y.z": "old", "x.y.w": "keep"},
		map[string]any{"x": map[string]any{"y": map[string]any{"z": "new"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x.y.z": "new", "x.y.w": "keep"}, merged)

	// a JSON string is taken as is; nested objects are not flattened
	merged, err = MergeSparkConf(map[string]any{"x.y.z": "old"}, `{"x": {"y": {"z": "new"}}}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"x.y.z": "old",
		"x":     map[string]any{"y": map[string]any{"z": "new"}},
	}, merged)

	merged, err = MergeSparkConf(defaults, nil)
	require.NoError(t, err)
	assert.Equal(t, defaults, merged)

	_, err = MergeSparkConf(defaults, 42)
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	r := newResolver(t, "")

	inst := newStep("sweep", step.TypeSweep, "")
	_, err := r.Apply("sweep", inst, profile.Flags{}, Options{})
	require.NoError(t, err)
	assert.Nil(t, inst.RunSettings().ResourceLayout)
	assert.Equal(t, step.Sweep{}, *inst.RunSettings().Sweep)
	assert.Empty(t, inst.Output("out").Datastore)

	nodes := 2
	inst = newStep("sweep", step.TypeSweep, "")
	_, err = r.Apply("sweep", inst, profile.Flags{}, Options{
		NodeCount:      &nodes,
		Algorithm:      "bayesian",
		PrimaryMetric:  "auc",
		Goal:           "maximize",
		PolicyType:     "bandit",
		SlackFactor:    0.1,
		MaxTotalTrials: 20,
		TimeoutMinutes: 60,
	})
	require.NoError(t, err)
	s := inst.RunSettings()
	assert.Equal(t, 2, s.ResourceLayout.NodeCount)
	assert.Nil(t, s.ResourceLayout.ProcessCountPerNode)
	assert.Equal(t, "bayesian", s.Sweep.Algorithm)
	assert.Equal(t, "auc", s.Sweep.Objective.PrimaryMetric)
	assert.Equal(t, "maximize", s.Sweep.Objective.Goal)
	assert.Equal(t, "bandit", s.Sweep.EarlyTermination.PolicyType)
	assert.Equal(t, 0.1, s.Sweep.EarlyTermination.SlackFactor)
	assert.Zero(t, s.Sweep.EarlyTermination.SlackAmount)
	assert.Equal(t, 20, s.Sweep.Limits.MaxTotalTrials)
	assert.Equal(t, 60, s.Sweep.Limits.TimeoutMinutes)
}

func TestQueryAndTransfer(t *testing.T) {
	r := newResolver(t, "")

	inst := newStep("query", step.TypeQuery, "")
	_, err := r.Apply("query", inst, profile.Flags{}, Options{AccountName: "adla", Params: "-tokens 10"})
	require.NoError(t, err)
	assert.Equal(t, "noncompliant", inst.Output("out").Datastore)
	assert.Equal(t, "adla", inst.RunSettings().Query.AccountName)
	assert.Equal(t, "-tokens 10", inst.RunSettings().Query.Params)

	inst = newStep("copy", step.TypeDataTransfer, "")
	_, err = r.Apply("copy", inst, profile.Flags{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "compliant", inst.Output("out").Datastore)

	notCompliant := false
	inst = newStep("copy", step.TypeDataTransfer, "")
	_, err = r.Apply("copy", inst, profile.Flags{}, Options{Compliant: &notCompliant, OutputMode: "upload"})
	require.NoError(t, err)
	assert.Equal(t, "noncompliant", inst.Output("out").Datastore)
	assert.Equal(t, "upload", inst.Output("out").Mode)
}

func TestExtrasLastWriteWins(t *testing.T) {
	r := newResolver(t, "")
	inst := newStep("prep", step.TypeCommand, "Linux")
	_, err := r.Apply("prep", inst, profile.Flags{}, Options{Extras: map[string]any{"target": "sneaky", "priority": 1}})
	require.NoError(t, err)

	flat := inst.RunSettings().Flatten()
	assert.Equal(t, "sneaky", flat["target"])
	assert.Equal(t, 1, flat["priority"])
}

func TestConsistencyCheck(t *testing.T) {
	r := newResolver(t, "")

	_, err := r.Apply("train", newStep("team://train", step.TypeCommand, "Linux"), profile.Flags{}, Options{})
	assert.NoError(t, err)

	_, err = r.Apply("train", newStep("train", step.TypeCommand, "Linux"), profile.Flags{}, Options{})
	assert.NoError(t, err)

	// "ns://foo" does not match an entry without a namespace
	inst := newStep("ns://prep", step.TypeCommand, "Linux")
	_, err = r.Apply("prep", inst, profile.Flags{}, Options{})
	var mismatch *pwerrors.ManifestConsistencyError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "prep", mismatch.StepKey)
	assert.Empty(t, inst.RunSettings().Target)

	_, err = r.Apply("prep", newStep("score", step.TypeCommand, "Linux"), profile.Flags{}, Options{})
	assert.True(t, errors.As(err, &mismatch))

	// entries without a name are not checked
	_, err = r.Apply("anon", newStep("whatever", step.TypeCommand, "Linux"), profile.Flags{}, Options{})
	assert.NoError(t, err)

	var lookup *pwerrors.LookupError
	_, err = r.Apply("missing", newStep("missing", step.TypeCommand, "Linux"), profile.Flags{}, Options{})
	assert.True(t, errors.As(err, &lookup))
}

func TestApplySmart(t *testing.T) {
	r := newResolver(t, "")

	key, category, err := r.ApplySmart(newStep("team://train", step.TypeParallel, "Linux"), profile.Flags{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "train", key)
	assert.Equal(t, profile.CategoryParallel, category)

	_, _, err = r.ApplySmart(newStep("nobody", step.TypeCommand, "Linux"), profile.Flags{}, Options{})
	var lookup *pwerrors.LookupError
	assert.True(t, errors.As(err, &lookup))
}

func TestParseAssignments(t *testing.T) {
	opts, err := ParseAssignments([]string{
		"node_count=4",
		"mini_batch_size=10MB",
		"error_threshold=-1",
		"compliant=false",
		"slack_factor=0.2",
		"target=gpu-x",
		"logging_level=DEBUG",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, *opts.NodeCount)
	assert.Equal(t, "10MB", opts.MiniBatchSize)
	assert.Equal(t, -1, *opts.ErrorThreshold)
	assert.False(t, *opts.Compliant)
	assert.Equal(t, 0.2, opts.SlackFactor)
	assert.Equal(t, "gpu-x", opts.Target)
	assert.Equal(t, "DEBUG", opts.Extras["logging_level"])

	_, err = ParseAssignments([]string{"node_count=many"})
	assert.Error(t, err)

	_, err = ParseAssignments([]string{"novalue"})
	assert.Error(t, err)
}
