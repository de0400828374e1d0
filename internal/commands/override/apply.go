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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/pipewright/internal/commands/shared"
	"github.com/tombee/pipewright/internal/specpatch"
	"github.com/tombee/pipewright/internal/tenant"
)

type applyResponse struct {
	shared.JSONResponse
	Tenant  string        `json:"tenant"`
	Session string        `json:"session,omitempty"`
	Journal string        `json:"journal,omitempty"`
	Specs   []appliedSpec `json:"specs"`
}

type appliedSpec struct {
	Key      string `json:"key"`
	SpecPath string `json:"spec_path"`
	Applied  int    `json:"rules_applied"`
	Skipped  int    `json:"rules_skipped"`
	EnvFiles int    `json:"env_files"`
}

func newApplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Rewrite local step specs for the current tenant",
		Long: `Rewrite the spec of every local step with the current tenant's rules
and leave the rewritten specs in place. Run 'pipewright override recover'
to restore the originals. Apply is refused while an earlier journal still
has specs to recover.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := shared.LoadEnv()
			if err != nil {
				return err
			}
			d := tenant.Decide(env.Config, env.Manifest.AnyLocal(), env.Logger)
			resp := applyResponse{
				JSONResponse: shared.JSONResponse{Version: "1.0", Command: "override apply", Success: true},
				Tenant:       d.Tenant,
				Specs:        []appliedSpec{},
			}
			if !d.Applies {
				if shared.GetJSON() {
					return shared.EmitJSON(resp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderWarn("No spec override: "+d.Reason))
				return nil
			}

			stepsDir := env.Manifest.StepsDir()
			lock, err := specpatch.AcquireLock(cmd.Context(), stepsDir)
			if err != nil {
				return shared.NewExecutionError("override failed", err)
			}
			defer lock.Release()

			engine := specpatch.New(specpatch.Config{Tenant: d.Tenant, StepsDir: stepsDir}, env.Logger)
			journal, reports, applyErr := engine.Apply(cmd.Context(), specpatch.TargetsFromManifest(env.Manifest), d.Rules)

			resp.Session = engine.Session()
			resp.Journal = journal.Path()
			for _, r := range reports {
				spec := appliedSpec{Key: r.Key, SpecPath: r.SpecPath, EnvFiles: r.EnvFiles}
				for _, rr := range r.Rules {
					if rr.Outcome == specpatch.PatchApplied {
						spec.Applied++
					} else {
						spec.Skipped++
					}
				}
				resp.Specs = append(resp.Specs, spec)
			}

			if applyErr != nil {
				resp.Success = false
				if shared.GetJSON() {
					if err := shared.EmitJSON(resp); err != nil {
						return err
					}
				}
				if errors.Is(applyErr, specpatch.ErrUnrecovered) && journal.Len() == 0 {
					return shared.NewExecutionError("override refused", applyErr)
				}
				return shared.NewExecutionError(fmt.Sprintf("override failed, run 'pipewright override recover --journal %s'", journal.Path()), applyErr)
			}
			if shared.GetJSON() {
				return shared.EmitJSON(resp)
			}

			out := cmd.OutOrStdout()
			for _, s := range resp.Specs {
				fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s: %d rule(s) applied, %d skipped, %d dependency file(s) scrubbed",
					s.Key, s.Applied, s.Skipped, s.EnvFiles)))
			}
			fmt.Fprintf(out, "\nJournal %s\n", shared.RenderLabel(journal.Path()))
			return nil
		},
	}
}
