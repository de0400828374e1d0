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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tombee/pipewright/internal/commands/completion"
	"github.com/tombee/pipewright/internal/commands/shared"
	pwlog "github.com/tombee/pipewright/internal/log"
	"github.com/tombee/pipewright/internal/specpatch"
	pwerrors "github.com/tombee/pipewright/pkg/errors"
)

type recoverFlags struct {
	journal string
	keep    bool
	yes     bool
}

func newRecoverCommand() *cobra.Command {
	flags := &recoverFlags{}

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Restore specs rewritten by an override pass",
		Long: `Restore every spec and dependency file recorded in the override journals
of the steps folder, or only in the journal given with --journal.

With --keep, each rewritten spec is first kept next to the original under
a tenant-suffixed name. The default comes from
tenant_overrides.keep_modified_files.

Interactive sessions are asked to confirm first; --yes skips the prompt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := shared.LoadEnv()
			if err != nil {
				return err
			}
			keep := env.Config.TenantOverrides.KeepModifiedFiles
			if cmd.Flags().Changed("keep") {
				keep = flags.keep
			}

			stepsDir := env.Manifest.StepsDir()
			lock, err := specpatch.AcquireLock(cmd.Context(), stepsDir)
			if err != nil {
				return shared.NewExecutionError("recovery failed", err)
			}
			defer lock.Release()

			paths := []string{flags.journal}
			if flags.journal == "" {
				if paths, err = specpatch.FindJournals(stepsDir); err != nil {
					return shared.NewExecutionError("failed to list journals", err)
				}
			}

			if len(paths) > 0 && !flags.yes && !shared.GetJSON() {
				ok, err := shared.Confirm(
					fmt.Sprintf("Restore specs from %d journal(s)?", len(paths)),
					"Rewritten specs under "+stepsDir+" are replaced by their backups.",
					"Restore")
				if err != nil {
					return shared.NewExecutionError("failed to confirm recovery", err)
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), shared.RenderWarn("Recovery cancelled"))
					return nil
				}
			}

			out := cmd.OutOrStdout()
			var errs []error
			restored := 0
			for _, path := range paths {
				j, err := specpatch.LoadJournal(path)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				pending := j.Pending()
				if err := j.Recover(keep, env.Logger); err != nil {
					env.Logger.Error("recovery is not successful", slog.String("journal", path), pwlog.Error(err))
					errs = append(errs, err)
				}
				restored += pending - j.Pending()
				if !shared.GetJSON() {
					fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s: %d of %d spec(s) restored", j.Session, pending-j.Pending(), pending)))
				}
			}

			if shared.GetJSON() {
				if err := shared.EmitJSON(struct {
					shared.JSONResponse
					Journals int `json:"journals"`
					Restored int `json:"restored"`
				}{
					JSONResponse: shared.JSONResponse{Version: "1.0", Command: "override recover", Success: len(errs) == 0},
					Journals:     len(paths),
					Restored:     restored,
				}); err != nil {
					return err
				}
			} else if len(paths) == 0 {
				fmt.Fprintln(out, shared.RenderOK("Nothing to recover"))
			}

			if len(errs) > 0 {
				return shared.NewRecoveryError("some specs were not restored", pwerrors.Join(errs...))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.journal, "journal", "", "Recover only this journal file")
	cmd.Flags().BoolVar(&flags.keep, "keep", false, "Keep a tenant-suffixed copy of every rewritten spec")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Do not ask for confirmation")

	_ = cmd.RegisterFlagCompletionFunc("journal", completion.CompleteJournals)

	return cmd
}
