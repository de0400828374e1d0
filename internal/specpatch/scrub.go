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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tombee/pipewright/internal/jq"
)

// RestrictedIndexURL is the package index line removed from dependency
// files for tenants that cannot reach it.
const RestrictedIndexURL = "--index-url https://o365exchange.pkgs.visualstudio.com/_packaging/PolymerPythonPackages/pypi/simple/"

// dependencyFileFields are the spec fields referencing dependency files,
// relative to the spec's directory.
var dependencyFileFields = []jq.Path{
	{"environment", "conda", "conda_dependencies_file"},
	{"environment", "conda", "pip_requirements_file"},
}

var inlineDependenciesPath = jq.Path{"environment", "conda", "conda_dependencies", "dependencies"}

// scrubLines drops every line carrying the restricted index, including
// list items such as "- --index-url ...". found is false when there was
// nothing to drop.
func scrubLines(content string) (string, bool) {
	lines := strings.SplitAfter(content, "\n")
	kept := lines[:0]
	found := false
	for _, line := range lines {
		if strings.Contains(line, RestrictedIndexURL) {
			found = true
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, ""), found
}

// planEnvFile reads a referenced dependency file and, when it holds the
// restricted index, returns the change to make and the scrubbed content.
func planEnvFile(specDir, ref, tenant string) (*EnvFileChange, string, []byte, error) {
	original := filepath.Join(specDir, ref)
	data, err := os.ReadFile(original)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to read dependency file %s: %w", original, err)
	}
	scrubbed, found := scrubLines(string(data))
	if !found {
		return nil, "", nil, nil
	}

	ext := filepath.Ext(ref)
	stem := strings.TrimSuffix(ref, ext)
	newRef := stem + "_" + tenant + ext
	change := &EnvFileChange{
		OriginalPath: original,
		BackupPath:   BackupPath(original),
		NewPath:      filepath.Join(specDir, newRef),
	}
	return change, newRef, []byte(scrubbed), nil
}

// scrubInline removes the restricted index from inline pip lists. It
// reports the number of entries removed.
func scrubInline(doc *Document) int {
	deps, err := doc.Node(inlineDependenciesPath)
	if err != nil || deps.Kind != yaml.SequenceNode {
		return 0
	}
	removed := 0
	for _, dep := range deps.Content {
		if dep.Kind != yaml.MappingNode {
			continue
		}
		for i := 0; i+1 < len(dep.Content); i += 2 {
			if dep.Content[i].Value != "pip" || dep.Content[i+1].Kind != yaml.SequenceNode {
				continue
			}
			pip := dep.Content[i+1]
			kept := pip.Content[:0]
			for _, item := range pip.Content {
				if item.Kind == yaml.ScalarNode && strings.TrimSpace(item.Value) == RestrictedIndexURL {
					removed++
					continue
				}
				kept = append(kept, item)
			}
			pip.Content = kept
		}
	}
	return removed
}
