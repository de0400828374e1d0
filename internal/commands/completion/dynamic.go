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

package completion

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/pipewright/internal/commands/shared"
	"github.com/tombee/pipewright/internal/config"
	"github.com/tombee/pipewright/internal/manifest"
	"github.com/tombee/pipewright/internal/specpatch"
)

// loadManifest loads the configuration quietly. Completion output must
// never carry log lines.
func loadManifest() (*config.Config, *manifest.Manifest, error) {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return nil, nil, err
	}
	m, err := manifest.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return nil, nil, err
	}
	return cfg, m, nil
}

// SafeCompletionWrapper wraps a completion function with panic recovery.
// Returns empty completion list on panic or error.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}

// CompleteStepKeys completes manifest step keys, described by their
// registered name and sourcing.
func CompleteStepKeys(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		_, m, err := loadManifest()
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var keys []string
		for _, entry := range m.Entries() {
			if !strings.HasPrefix(entry.Key, toComplete) {
				continue
			}
			sourcing := "registered"
			if m.IsLocal(entry.Key) {
				sourcing = "local"
			}
			keys = append(keys, entry.Key+"\t"+entry.QualifiedName()+" ("+sourcing+")")
		}
		return keys, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteStepKeyList completes the last item of a comma separated list of
// step keys, for slice flags such as --gpu.
func CompleteStepKeyList(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	prefix := ""
	if i := strings.LastIndex(toComplete, ","); i >= 0 {
		prefix, toComplete = toComplete[:i+1], toComplete[i+1:]
	}
	keys, directive := CompleteStepKeys(cmd, args, toComplete)
	for i, key := range keys {
		keys[i] = prefix + key
	}
	return keys, directive
}

// CompleteTenants completes the tenants of the override mapping.
func CompleteTenants(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		cfg, _, err := loadManifest()
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var tenants []string
		for _, rs := range cfg.TenantOverrides.Mapping {
			if strings.HasPrefix(rs.Tenant, toComplete) {
				tenants = append(tenants, rs.Tenant)
			}
		}
		return tenants, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteJournals completes the override journals left in the steps
// folder.
func CompleteJournals(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		_, m, err := loadManifest()
		if err != nil {
			return nil, cobra.ShellCompDirectiveDefault
		}
		paths, err := specpatch.FindJournals(m.StepsDir())
		if err != nil {
			return nil, cobra.ShellCompDirectiveDefault
		}
		var out []string
		for _, path := range paths {
			if strings.HasPrefix(path, toComplete) || strings.HasPrefix(filepath.Base(path), toComplete) {
				out = append(out, path)
			}
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteDataModes completes --input-mode and --output-mode values.
func CompleteDataModes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		modes := []string{
			"mount\tMount the datastore path",
			"download\tDownload inputs before the step starts",
			"upload\tUpload outputs after the step ends",
			"direct\tPass the datastore URI to the step",
		}
		return modes, cobra.ShellCompDirectiveNoFileComp
	})
}
