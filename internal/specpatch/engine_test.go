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

package specpatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tombee/pipewright/internal/config"
	pwerrors "github.com/tombee/pipewright/pkg/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func readTree(t *testing.T, path string) map[string]any {
	t.Helper()
	var tree map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(readFile(t, path)), &tree))
	return tree
}

func rule(path string, pairs ...any) config.Rule {
	r := config.Rule{Path: path}
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Replacements = append(r.Replacements, config.Replacement{Key: pairs[i].(string), Value: pairs[i+1]})
	}
	return r
}

func TestRoundTripDiscard(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "step", "spec.yaml")
	original := "# compute\nx:\n    y: prod-cluster   # cluster name\nname: step\n"
	writeFile(t, spec, original)

	engine := New(Config{Tenant: "contoso", StepsDir: dir}, nil)
	rules := config.TenantRules{Tenant: "contoso", Rules: []config.Rule{rule("x.y", "prod-cluster", "dev-cluster")}}

	journal, reports, err := engine.Apply(context.Background(), []Target{{Key: "step", SpecPath: spec, Local: true}}, rules)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, PatchApplied, reports[0].Rules[0].Outcome)

	tree := readTree(t, spec)
	assert.Equal(t, "dev-cluster", tree["x"].(map[string]any)["y"])
	assert.Contains(t, readFile(t, spec), "# cluster name")
	assert.Equal(t, original, readFile(t, BackupPath(spec)))

	txns := journal.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, StateCommitted, txns[0].State)
	assert.FileExists(t, journal.Path())

	require.NoError(t, journal.Recover(false, nil))
	assert.Equal(t, original, readFile(t, spec))
	assert.NoFileExists(t, BackupPath(spec))
	assert.NoFileExists(t, TenantPath(spec, "contoso"))
	assert.NoFileExists(t, journal.Path())
	assert.Equal(t, 0, journal.Pending())

	// draining twice is a no-op
	require.NoError(t, journal.Recover(false, nil))
	assert.Equal(t, original, readFile(t, spec))
}

func TestRecoverKeep(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "spec.yaml")
	includes := filepath.Join(dir, "spec.additional_includes")
	original := "x:\n  y: prod-cluster\n"
	writeFile(t, spec, original)
	writeFile(t, includes, "../shared\n")

	engine := New(Config{Tenant: "contoso"}, nil)
	rules := config.TenantRules{Rules: []config.Rule{rule("x.y", "prod-cluster", "dev-cluster")}}
	journal, _, err := engine.Apply(context.Background(), []Target{{Key: "s", SpecPath: spec, Local: true}}, rules)
	require.NoError(t, err)
	assert.Empty(t, journal.Path())

	require.NoError(t, journal.Recover(true, nil))
	assert.Equal(t, original, readFile(t, spec))

	kept := filepath.Join(dir, "spec_contoso.yaml")
	assert.Equal(t, "dev-cluster", readTree(t, kept)["x"].(map[string]any)["y"])
	assert.Equal(t, "../shared\n", readFile(t, filepath.Join(dir, "spec_contoso.additional_includes")))
	assert.Equal(t, StateKept, journal.Transactions()[0].State)
}

func TestRegisteredStepsUntouched(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "remote.yaml")
	writeFile(t, spec, "x:\n  y: prod-cluster\n")

	engine := New(Config{Tenant: "contoso", StepsDir: dir}, nil)
	rules := config.TenantRules{Rules: []config.Rule{rule("x.y", "prod-cluster", "dev-cluster")}}
	journal, reports, err := engine.Apply(context.Background(), []Target{{Key: "remote", SpecPath: spec, Local: false}}, rules)
	require.NoError(t, err)

	assert.Empty(t, reports)
	assert.Equal(t, 0, journal.Len())
	assert.NoFileExists(t, BackupPath(spec))
	assert.NoFileExists(t, journal.Path())
	assert.Equal(t, "x:\n  y: prod-cluster\n", readFile(t, spec))
}

func TestRules(t *testing.T) {
	const spec = `name: step
environment:
  docker:
    image: prod.azurecr.io/team/image:1.2
  os: Linux
tags:
  owner: team-a
  contact: a@example.com
count: 3
`
	tests := []struct {
		name    string
		rule    config.Rule
		outcome Outcome
		check   func(t *testing.T, tree map[string]any)
	}{
		{
			name:    "regex with group reference",
			rule:    rule("environment.docker.image", `prod\.azurecr\.io/(.*)`, `dev.azurecr.io/\1`),
			outcome: PatchApplied,
			check: func(t *testing.T, tree map[string]any) {
				env := tree["environment"].(map[string]any)
				assert.Equal(t, "dev.azurecr.io/team/image:1.2", env["docker"].(map[string]any)["image"])
			},
		},
		{
			name:    "exact value wins over patterns",
			rule:    rule("$.environment.os", "L.*", "Pattern", "Linux", "Exact"),
			outcome: PatchApplied,
			check: func(t *testing.T, tree map[string]any) {
				assert.Equal(t, "Exact", tree["environment"].(map[string]any)["os"])
			},
		},
		{
			name:    "first matching pattern in declaration order",
			rule:    rule("environment.os", "Lin", "first", "Li", "second"),
			outcome: PatchApplied,
			check: func(t *testing.T, tree map[string]any) {
				assert.Equal(t, "firstux", tree["environment"].(map[string]any)["os"])
			},
		},
		{
			name:    "pattern must match at the start",
			rule:    rule("environment.os", "inux", "x"),
			outcome: PatchUnmatched,
		},
		{
			name:    "object rule writes existing sub-keys",
			rule:    rule("tags", "owner", "team-b", "missing", "ignored"),
			outcome: PatchApplied,
			check: func(t *testing.T, tree map[string]any) {
				tags := tree["tags"].(map[string]any)
				assert.Equal(t, "team-b", tags["owner"])
				assert.Equal(t, "a@example.com", tags["contact"])
				assert.NotContains(t, tags, "missing")
			},
		},
		{
			name:    "nested object rule with dotted sub-key",
			rule:    rule("environment", "docker.image", "other:latest"),
			outcome: PatchApplied,
			check: func(t *testing.T, tree map[string]any) {
				env := tree["environment"].(map[string]any)
				assert.Equal(t, "other:latest", env["docker"].(map[string]any)["image"])
			},
		},
		{
			name:    "no match is skipped",
			rule:    rule("environment.conda.file", "a", "b"),
			outcome: PatchSkipped,
		},
		{
			name:    "unsupported type is skipped",
			rule:    rule("count", "3", "4"),
			outcome: PatchSkipped,
			check: func(t *testing.T, tree map[string]any) {
				assert.Equal(t, 3, tree["count"])
			},
		},
		{
			name:    "invalid path is skipped",
			rule:    rule("tags[*]", "a", "b"),
			outcome: PatchSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "spec.yaml")
			writeFile(t, path, spec)

			engine := New(Config{Tenant: "t"}, nil)
			journal, reports, err := engine.Apply(context.Background(),
				[]Target{{Key: "step", SpecPath: path, Local: true}},
				config.TenantRules{Rules: []config.Rule{tt.rule}})
			require.NoError(t, err)
			require.Len(t, reports, 1)
			assert.Equal(t, tt.outcome, reports[0].Rules[0].Outcome)

			if tt.check != nil {
				tt.check(t, readTree(t, path))
			}
			require.NoError(t, journal.Recover(false, nil))
			assert.Equal(t, spec, readFile(t, path))
		})
	}
}

func TestScrubRestrictedIndex(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "spec.yaml")
	conda := filepath.Join(dir, "env", "conda.yaml")
	reqs := filepath.Join(dir, "requirements.txt")

	condaContent := "name: env\ndependencies:\n  - pip:\n    - " + RestrictedIndexURL + "\n    - numpy\n"
	reqsContent := RestrictedIndexURL + "\npandas==2.0\n"
	specContent := `name: step
environment:
  conda:
    conda_dependencies_file: env/conda.yaml
    pip_requirements_file: requirements.txt
    conda_dependencies:
      dependencies:
        - python=3.10
        - pip:
            - "` + RestrictedIndexURL + `"
            - scipy
`
	writeFile(t, spec, specContent)
	writeFile(t, conda, condaContent)
	writeFile(t, reqs, reqsContent)

	engine := New(Config{Tenant: "fabrikam", StepsDir: dir}, nil)
	journal, reports, err := engine.Apply(context.Background(),
		[]Target{{Key: "step", SpecPath: spec, Local: true}},
		config.TenantRules{RemoveRestrictedIndex: true})
	require.NoError(t, err)
	assert.Equal(t, 2, reports[0].EnvFiles)

	newConda := filepath.Join(dir, "env", "conda_fabrikam.yaml")
	newReqs := filepath.Join(dir, "requirements_fabrikam.txt")
	assert.Equal(t, "name: env\ndependencies:\n  - pip:\n    - numpy\n", readFile(t, newConda))
	assert.Equal(t, "pandas==2.0\n", readFile(t, newReqs))
	assert.NoFileExists(t, conda)
	assert.FileExists(t, filepath.Join(dir, "env", "conda.yaml.not_used"))
	assert.FileExists(t, filepath.Join(dir, "requirements.txt.not_used"))

	env := readTree(t, spec)["environment"].(map[string]any)["conda"].(map[string]any)
	assert.Equal(t, "env/conda_fabrikam.yaml", env["conda_dependencies_file"])
	assert.Equal(t, "requirements_fabrikam.txt", env["pip_requirements_file"])
	deps := env["conda_dependencies"].(map[string]any)["dependencies"].([]any)
	assert.Equal(t, []any{"scipy"}, deps[1].(map[string]any)["pip"])

	require.Len(t, journal.Transactions()[0].EnvFiles, 2)

	require.NoError(t, journal.Recover(false, nil))
	assert.Equal(t, specContent, readFile(t, spec))
	assert.Equal(t, condaContent, readFile(t, conda))
	assert.Equal(t, reqsContent, readFile(t, reqs))
	assert.NoFileExists(t, newConda)
	assert.NoFileExists(t, newReqs)
}

func TestScrubKeepRetainsNewEnvFiles(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "spec.yaml")
	reqs := filepath.Join(dir, "requirements.txt")
	writeFile(t, spec, "environment:\n  conda:\n    pip_requirements_file: requirements.txt\n")
	writeFile(t, reqs, RestrictedIndexURL+"\nnumpy\n")

	engine := New(Config{Tenant: "fabrikam"}, nil)
	journal, _, err := engine.Apply(context.Background(),
		[]Target{{Key: "step", SpecPath: spec, Local: true}},
		config.TenantRules{RemoveRestrictedIndex: true})
	require.NoError(t, err)

	require.NoError(t, journal.Recover(true, nil))
	assert.Equal(t, "numpy\n", readFile(t, filepath.Join(dir, "requirements_fabrikam.txt")))
	assert.Equal(t, RestrictedIndexURL+"\nnumpy\n", readFile(t, reqs))
	kept := readTree(t, filepath.Join(dir, "spec_fabrikam.yaml"))
	conda := kept["environment"].(map[string]any)["conda"].(map[string]any)
	assert.Equal(t, "requirements_fabrikam.txt", conda["pip_requirements_file"])
}

func TestScrubSharedStemKeepsBackupsApart(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "step.yaml")
	reqs := filepath.Join(dir, "step.txt")
	specContent := "name: step\nenvironment:\n  conda:\n    pip_requirements_file: step.txt\n"
	reqsContent := RestrictedIndexURL + "\nnumpy\n"
	writeFile(t, spec, specContent)
	writeFile(t, reqs, reqsContent)

	engine := New(Config{Tenant: "fabrikam", StepsDir: dir}, nil)
	journal, reports, err := engine.Apply(context.Background(),
		[]Target{{Key: "step", SpecPath: spec, Local: true}},
		config.TenantRules{RemoveRestrictedIndex: true})
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].EnvFiles)

	assert.NotEqual(t, BackupPath(spec), BackupPath(reqs))
	assert.Equal(t, specContent, readFile(t, BackupPath(spec)))
	assert.Equal(t, reqsContent, readFile(t, BackupPath(reqs)))

	require.NoError(t, journal.Recover(false, nil))
	assert.Equal(t, specContent, readFile(t, spec))
	assert.Equal(t, reqsContent, readFile(t, reqs))
	assert.NoFileExists(t, BackupPath(spec))
	assert.NoFileExists(t, BackupPath(reqs))
	assert.NoFileExists(t, filepath.Join(dir, "step_fabrikam.txt"))
}

func TestScrubRefusesExistingEnvBackup(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "spec.yaml")
	reqs := filepath.Join(dir, "requirements.txt")
	specContent := "environment:\n  conda:\n    pip_requirements_file: requirements.txt\n"
	reqsContent := RestrictedIndexURL + "\nnumpy\n"
	writeFile(t, spec, specContent)
	writeFile(t, reqs, reqsContent)
	writeFile(t, BackupPath(reqs), "older original\n")

	engine := New(Config{Tenant: "fabrikam"}, nil)
	journal, _, err := engine.Apply(context.Background(),
		[]Target{{Key: "step", SpecPath: spec, Local: true}},
		config.TenantRules{RemoveRestrictedIndex: true})
	require.ErrorIs(t, err, ErrUnrecovered)
	assert.Empty(t, journal.Transactions()[0].EnvFiles)

	require.NoError(t, journal.Recover(false, nil))
	assert.Equal(t, specContent, readFile(t, spec))
	assert.Equal(t, reqsContent, readFile(t, reqs))
	assert.Equal(t, "older original\n", readFile(t, BackupPath(reqs)))
	assert.NoFileExists(t, filepath.Join(dir, "requirements_fabrikam.txt"))
}

func TestScrubWithoutIndexLeavesFilesAlone(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "spec.yaml")
	writeFile(t, spec, "environment:\n  conda:\n    pip_requirements_file: requirements.txt\n")
	writeFile(t, filepath.Join(dir, "requirements.txt"), "numpy\n")

	engine := New(Config{Tenant: "fabrikam"}, nil)
	journal, reports, err := engine.Apply(context.Background(),
		[]Target{{Key: "step", SpecPath: spec, Local: true}},
		config.TenantRules{RemoveRestrictedIndex: true})
	require.NoError(t, err)
	assert.Equal(t, 0, reports[0].EnvFiles)
	assert.NoFileExists(t, filepath.Join(dir, "requirements_fabrikam.txt"))
	require.NoError(t, journal.Recover(false, nil))
}

func TestApplyFailureKeepsRecordedTransactions(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good", "spec.yaml")
	broken := filepath.Join(dir, "broken", "spec.yaml")
	writeFile(t, good, "x:\n  y: prod-cluster\n")
	writeFile(t, broken, "environment:\n  conda:\n    pip_requirements_file: missing.txt\n")

	engine := New(Config{Tenant: "t", StepsDir: dir}, nil)
	rules := config.TenantRules{
		RemoveRestrictedIndex: true,
		Rules:                 []config.Rule{rule("x.y", "prod-cluster", "dev-cluster")},
	}
	journal, _, err := engine.Apply(context.Background(), []Target{
		{Key: "good", SpecPath: good, Local: true},
		{Key: "broken", SpecPath: broken, Local: true},
		{Key: "never", SpecPath: filepath.Join(dir, "never.yaml"), Local: true},
	}, rules)

	var patchErr *pwerrors.PatchError
	require.True(t, errors.As(err, &patchErr))
	assert.Equal(t, broken, patchErr.Path)

	txns := journal.Transactions()
	require.Len(t, txns, 2)
	assert.Equal(t, StateCommitted, txns[0].State)
	assert.Equal(t, StatePending, txns[1].State)

	// a crashed process leaves the journal behind for a later one
	found, err := FindJournals(dir)
	require.NoError(t, err)
	require.Equal(t, []string{journal.Path()}, found)

	loaded, err := LoadJournal(found[0])
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Pending())
	require.NoError(t, loaded.Recover(false, nil))

	assert.Equal(t, "x:\n  y: prod-cluster\n", readFile(t, good))
	assert.Equal(t, "environment:\n  conda:\n    pip_requirements_file: missing.txt\n", readFile(t, broken))
	assert.NoFileExists(t, BackupPath(broken))
	assert.NoFileExists(t, journal.Path())
}

func TestApplyRefusesUnrecoveredJournal(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "step", "spec.yaml")
	original := "x:\n  y: prod-cluster\n"
	writeFile(t, spec, original)
	targets := []Target{{Key: "step", SpecPath: spec, Local: true}}
	rules := config.TenantRules{Rules: []config.Rule{rule("x.y", "prod-cluster", "dev-cluster")}}

	// the first session is never recovered, as after a crash
	first, _, err := New(Config{Tenant: "contoso", StepsDir: dir}, nil).Apply(context.Background(), targets, rules)
	require.NoError(t, err)

	second, reports, err := New(Config{Tenant: "contoso", StepsDir: dir}, nil).Apply(context.Background(), targets, rules)
	require.ErrorIs(t, err, ErrUnrecovered)
	assert.Contains(t, err.Error(), first.Path())
	assert.Empty(t, reports)
	assert.Equal(t, 0, second.Len())
	assert.Equal(t, original, readFile(t, BackupPath(spec)))

	require.NoError(t, second.Recover(false, nil))
	assert.FileExists(t, first.Path())

	loaded, err := LoadJournal(first.Path())
	require.NoError(t, err)
	require.NoError(t, loaded.Recover(false, nil))
	assert.Equal(t, original, readFile(t, spec))
	require.NoError(t, CheckUnrecovered(dir))

	third, _, err := New(Config{Tenant: "contoso", StepsDir: dir}, nil).Apply(context.Background(), targets, rules)
	require.NoError(t, err)
	require.NoError(t, third.Recover(false, nil))
	assert.Equal(t, original, readFile(t, spec))
}

func TestApplyRefusesExistingBackup(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "spec.yaml")
	writeFile(t, spec, "x:\n  y: dev-cluster\n")
	writeFile(t, BackupPath(spec), "x:\n  y: prod-cluster\n")

	engine := New(Config{Tenant: "contoso"}, nil)
	journal, _, err := engine.Apply(context.Background(),
		[]Target{{Key: "step", SpecPath: spec, Local: true}},
		config.TenantRules{Rules: []config.Rule{rule("x.y", "dev-cluster", "test-cluster")}})

	var patchErr *pwerrors.PatchError
	require.True(t, errors.As(err, &patchErr))
	assert.ErrorIs(t, err, ErrUnrecovered)
	assert.Equal(t, 0, journal.Len())
	assert.Equal(t, "x:\n  y: dev-cluster\n", readFile(t, spec))
	assert.Equal(t, "x:\n  y: prod-cluster\n", readFile(t, BackupPath(spec)))
}

func TestCheckUnrecoveredUnreadableJournal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, JournalPath(dir, "broken"), "transactions: [")
	assert.ErrorIs(t, CheckUnrecovered(dir), ErrUnrecovered)
}

func TestBackupFailureRecordsNothing(t *testing.T) {
	engine := New(Config{Tenant: "t"}, nil)
	journal, _, err := engine.Apply(context.Background(),
		[]Target{{Key: "gone", SpecPath: filepath.Join(t.TempDir(), "spec.yaml"), Local: true}},
		config.TenantRules{})
	require.Error(t, err)
	assert.Equal(t, 0, journal.Len())
}

func TestLockExclusive(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	lock, err = AcquireLock(context.Background(), dir)
	require.NoError(t, err)
	assert.NoError(t, lock.Release())
	assert.NoError(t, lock.Release())
}

func TestLockTimesOutWhileHeld(t *testing.T) {
	dir := t.TempDir()
	held, err := AcquireLock(context.Background(), dir)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = AcquireLock(ctx, dir)
	require.Error(t, err)
	assert.Less(t, time.Since(start), lockTimeout)

	require.NoError(t, held.Release())
	lock, err := AcquireLock(context.Background(), dir)
	require.NoError(t, err)
	assert.NoError(t, lock.Release())
}
