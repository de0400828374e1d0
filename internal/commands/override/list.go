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

package override

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tombee/pipewright/internal/commands/shared"
	"github.com/tombee/pipewright/internal/specpatch"
)

type journalSummary struct {
	Path      string    `json:"path"`
	Session   string    `json:"session"`
	Tenant    string    `json:"tenant"`
	CreatedAt time.Time `json:"created_at"`
	Pending   int       `json:"pending"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List override journals awaiting recovery",
		Long: `List the override journals left in the steps folder. A journal is only
left behind when a build was interrupted or failed to restore a spec.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := shared.LoadEnv()
			if err != nil {
				return err
			}
			summaries, err := listJournals(env.Manifest.StepsDir())
			if err != nil {
				return shared.NewExecutionError("failed to list journals", err)
			}

			if shared.GetJSON() {
				return shared.EmitJSON(struct {
					shared.JSONResponse
					Journals []journalSummary `json:"journals"`
				}{
					JSONResponse: shared.JSONResponse{Version: "1.0", Command: "override list", Success: true},
					Journals:     summaries,
				})
			}

			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, shared.RenderOK("No override journals, every spec is restored"))
				return nil
			}
			fmt.Fprintf(out, "Override journals (%d):\n\n", len(summaries))
			for _, s := range summaries {
				if s.Error != "" {
					fmt.Fprintln(out, shared.RenderError(s.Path+": "+s.Error))
					continue
				}
				shared.PrintKeyValues(out, s.Session, []string{"tenant", "created", "pending", "path"}, map[string]string{
					"tenant":  s.Tenant,
					"created": humanize.Time(s.CreatedAt),
					"pending": fmt.Sprintf("%d of %d", s.Pending, s.Total),
					"path":    s.Path,
				})
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func listJournals(stepsDir string) ([]journalSummary, error) {
	paths, err := specpatch.FindJournals(stepsDir)
	if err != nil {
		return nil, err
	}
	summaries := make([]journalSummary, 0, len(paths))
	for _, path := range paths {
		j, err := specpatch.LoadJournal(path)
		if err != nil {
			summaries = append(summaries, journalSummary{Path: path, Error: err.Error()})
			continue
		}
		summaries = append(summaries, journalSummary{
			Path:      path,
			Session:   j.Session,
			Tenant:    j.Tenant,
			CreatedAt: j.CreatedAt,
			Pending:   j.Pending(),
			Total:     j.Len(),
		})
	}
	return summaries, nil
}
