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

package build

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tombee/pipewright/internal/commands/completion"
	"github.com/tombee/pipewright/internal/commands/shared"
	pwlog "github.com/tombee/pipewright/internal/log"
	"github.com/tombee/pipewright/internal/pipeline"
	"github.com/tombee/pipewright/internal/profile"
	"github.com/tombee/pipewright/internal/runsettings"
	"github.com/tombee/pipewright/internal/tracing"
)

type buildFlags struct {
	export      string
	gpu         []string
	set         []string
	metricsFile string
}

// NewCommand creates the build command.
func NewCommand() *cobra.Command {
	flags := &buildFlags{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Resolve every step and export the pipeline",
		Long: `Resolve the run settings of every manifest step with a spec file and
write the pipeline as JSON to run.export (stdout by default).

Local specs are rewritten for the current tenant while the pipeline is
assembled and restored afterwards. A failed override never fails the build.

Per-step options use the step key as prefix:

  pipewright build --gpu train --set score.node_count=4 --export pipeline.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.export, "export", "", "Write the pipeline to this file (- for stdout)")
	cmd.Flags().StringSliceVar(&flags.gpu, "gpu", nil, "Request GPU compute for these step keys")
	cmd.Flags().StringArrayVar(&flags.set, "set", nil, "Set a step option (key.option=value, repeatable)")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics-file", "", "Write build metrics in Prometheus text format to this file")

	_ = cmd.RegisterFlagCompletionFunc("gpu", completion.CompleteStepKeyList)

	return cmd
}

func runBuild(cmd *cobra.Command, flags *buildFlags) error {
	env, err := shared.LoadEnv()
	if err != nil {
		return err
	}
	if flags.export != "" {
		env.Config.Run.Export = flags.export
	}

	asm := &pipeline.ExportAssembler{
		Flags: make(map[string]profile.Flags),
	}
	for _, key := range flags.gpu {
		if _, err := env.Manifest.Lookup(key); err != nil {
			return shared.ClassifyError("invalid --gpu", err)
		}
		asm.Flags[key] = profile.Flags{GPU: true}
	}
	if asm.Options, err = stepOptions(flags.set); err != nil {
		return shared.NewInvalidStepError("invalid --set", err)
	}
	if env.Config.Run.Export == "" || env.Config.Run.Export == "-" {
		asm.Out = cmd.OutOrStdout()
	}

	v, _, _ := shared.GetVersion()
	provider, err := tracing.Setup(cmd.Context(), env.Config.Tracing, v, env.Logger)
	if err != nil {
		return shared.NewInvalidConfigError("failed to set up tracing", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			env.Logger.Warn("failed to flush traces", pwlog.Error(err))
		}
	}()

	result, err := pipeline.NewRunner(env.Config, env.Manifest, v, env.Logger).Run(cmd.Context(), asm)
	if flags.metricsFile != "" {
		if merr := prometheus.WriteToTextfile(flags.metricsFile, prometheus.DefaultGatherer); merr != nil {
			env.Logger.Warn("failed to write metrics file", pwlog.Error(merr))
		}
	}
	if err != nil {
		return shared.ClassifyError("build failed", err)
	}

	if result.Override.RecoverErr != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), shared.RenderWarn("Some specs were not restored, run 'pipewright override recover'"))
	}
	if env.Config.Run.Export != "" && env.Config.Run.Export != "-" && !shared.GetQuiet() {
		fmt.Fprintln(cmd.ErrOrStderr(), shared.RenderOK(fmt.Sprintf("Exported %d step(s) to %s", len(result.Steps), env.Config.Run.Export)))
	}
	return nil
}

// stepOptions groups "key.option=value" assignments by step key.
func stepOptions(assignments []string) (map[string]runsettings.Options, error) {
	grouped := make(map[string][]string)
	for _, a := range assignments {
		key, rest, ok := strings.Cut(a, ".")
		if !ok || key == "" || strings.Contains(key, "=") {
			return nil, fmt.Errorf("invalid assignment %q: expected key.option=value", a)
		}
		grouped[key] = append(grouped[key], rest)
	}
	out := make(map[string]runsettings.Options, len(grouped))
	for key, values := range grouped {
		opts, err := runsettings.ParseAssignments(values)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", key, err)
		}
		out[key] = opts
	}
	return out, nil
}
