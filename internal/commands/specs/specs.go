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

package specs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr"
	"github.com/spf13/cobra"

	"github.com/tombee/pipewright/internal/commands/shared"
	"github.com/tombee/pipewright/internal/manifest"
	"github.com/tombee/pipewright/internal/step"
)

// SpecInfo describes one spec file found in the steps folder.
type SpecInfo struct {
	Path  string `json:"path" expr:"path"`
	Name  string `json:"name,omitempty" expr:"name"`
	Type  string `json:"type,omitempty" expr:"type"`
	Key   string `json:"key,omitempty" expr:"key"`
	Local bool   `json:"local" expr:"local"`
	Error string `json:"error,omitempty" expr:"error"`
}

// NewCommand creates the specs command with subcommands.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "specs",
		Short: "Inspect step spec files",
	}
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newWatchCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	var glob, filter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List spec files in the steps folder",
		Long: `List the spec files under the steps folder that match
module_loader.spec_glob (or --glob), with the manifest key each one
belongs to.

--filter takes a boolean expression over path, name, type, key, local
and error:

  pipewright specs list --filter 'local && type == "ParallelComponent"'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := shared.LoadEnv()
			if err != nil {
				return err
			}
			if glob == "" {
				glob = env.Config.ModuleLoader.SpecGlob
			}
			infos, err := Discover(env.Manifest, glob)
			if err != nil {
				return shared.NewExecutionError("failed to list specs", err)
			}
			if infos, err = Filter(infos, filter); err != nil {
				return shared.NewExecutionError("invalid --filter", err)
			}

			if shared.GetJSON() {
				return shared.EmitJSON(struct {
					shared.JSONResponse
					Specs []SpecInfo `json:"specs"`
				}{
					JSONResponse: shared.JSONResponse{Version: "1.0", Command: "specs list", Success: true},
					Specs:        infos,
				})
			}

			out := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintln(out, shared.RenderWarn(fmt.Sprintf("No spec files match %s in %s", glob, env.Manifest.StepsDir())))
				return nil
			}
			for _, info := range infos {
				switch {
				case info.Error != "":
					fmt.Fprintln(out, shared.RenderError(info.Path+": "+info.Error))
				case info.Key == "":
					fmt.Fprintf(out, "%s  %s %s\n", info.Path, info.Name, shared.RenderLabel("(not in manifest)"))
				default:
					sourcing := "registered"
					if info.Local {
						sourcing = "local"
					}
					fmt.Fprintf(out, "%s  %s %s\n", info.Path, info.Name, shared.RenderLabel(fmt.Sprintf("[%s, %s]", info.Key, sourcing)))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&glob, "glob", "", "Doublestar pattern relative to the steps folder")
	cmd.Flags().StringVar(&filter, "filter", "", "Only list specs matching this expression")

	return cmd
}

// Discover finds the spec files under the manifest's steps folder that
// match pattern and reads the identity of each.
func Discover(m *manifest.Manifest, pattern string) ([]SpecInfo, error) {
	root := m.StepsDir()
	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("invalid spec glob %q: %w", pattern, err)
	}

	infos := make([]SpecInfo, 0, len(matches))
	for _, rel := range matches {
		if isHidden(rel) {
			continue
		}
		info := SpecInfo{Path: filepath.FromSlash(rel)}
		inst, err := step.LoadSpec(filepath.Join(root, info.Path))
		if err != nil {
			info.Error = err.Error()
			infos = append(infos, info)
			continue
		}
		info.Name = inst.StepName()
		info.Type = inst.StepType()
		if key, err := m.KeyForName(inst.StepName()); err == nil {
			info.Key = key
			info.Local = m.IsLocal(key)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Filter keeps the specs for which expression evaluates to true. An empty
// expression keeps everything.
func Filter(infos []SpecInfo, expression string) ([]SpecInfo, error) {
	if strings.TrimSpace(expression) == "" {
		return infos, nil
	}
	program, err := expr.Compile(expression, expr.Env(SpecInfo{}), expr.AsBool())
	if err != nil {
		return nil, err
	}
	kept := make([]SpecInfo, 0, len(infos))
	for _, info := range infos {
		out, err := expr.Run(program, info)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", info.Path, err)
		}
		if out.(bool) {
			kept = append(kept, info)
		}
	}
	return kept, nil
}

// isHidden skips journals and other dot directories.
func isHidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if len(part) > 1 && part[0] == '.' {
			return true
		}
	}
	return false
}
