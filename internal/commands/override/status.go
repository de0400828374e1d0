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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tombee/pipewright/internal/commands/completion"
	"github.com/tombee/pipewright/internal/commands/shared"
	"github.com/tombee/pipewright/internal/tenant"
)

type statusResponse struct {
	shared.JSONResponse
	Tenant     string   `json:"tenant"`
	Applies    bool     `json:"applies"`
	MappingKey string   `json:"mapping_key,omitempty"`
	Rules      []string `json:"rules,omitempty"`
	Scrub      bool     `json:"remove_restricted_index"`
	Reason     string   `json:"reason,omitempty"`
}

func newStatusCommand() *cobra.Command {
	var tenantFlag string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the current tenant gets spec overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := shared.LoadEnv()
			if err != nil {
				return err
			}
			if tenantFlag != "" {
				env.Config.Identity.Tenant = tenantFlag
			}
			d := tenant.Decide(env.Config, env.Manifest.AnyLocal(), env.Logger)

			resp := statusResponse{
				JSONResponse: shared.JSONResponse{Version: "1.0", Command: "override status", Success: true},
				Tenant:       d.Tenant,
				Applies:      d.Applies,
				MappingKey:   d.MappingKey,
				Scrub:        d.Rules.RemoveRestrictedIndex,
				Reason:       d.Reason,
			}
			for _, r := range d.Rules.Rules {
				resp.Rules = append(resp.Rules, r.Path)
			}
			if shared.GetJSON() {
				return shared.EmitJSON(resp)
			}

			out := cmd.OutOrStdout()
			if !d.Applies {
				fmt.Fprintln(out, shared.RenderWarn("No spec override: "+d.Reason))
				return nil
			}
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Tenant %s uses mapping %q", d.Tenant, d.MappingKey)))
			values := map[string]string{
				"rules":                   strconv.Itoa(len(d.Rules.Rules)),
				"remove_restricted_index": strconv.FormatBool(d.Rules.RemoveRestrictedIndex),
			}
			keys := []string{"rules", "remove_restricted_index"}
			for i, r := range d.Rules.Rules {
				k := fmt.Sprintf("rule %d", i+1)
				keys = append(keys, k)
				values[k] = r.Path
			}
			shared.PrintKeyValues(out, "", keys, values)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantFlag, "tenant", "", "Evaluate for this tenant instead of identity.tenant")
	_ = cmd.RegisterFlagCompletionFunc("tenant", completion.CompleteTenants)

	return cmd
}
