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

package resolve

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tombee/pipewright/internal/commands/completion"
	"github.com/tombee/pipewright/internal/commands/shared"
	"github.com/tombee/pipewright/internal/profile"
	"github.com/tombee/pipewright/internal/runsettings"
	"github.com/tombee/pipewright/internal/step"
)

type resolveFlags struct {
	engines    profile.Flags
	target     string
	inputMode  string
	outputMode string
	set        []string
}

type resolveResponse struct {
	shared.JSONResponse
	Key      string           `json:"key"`
	Name     string           `json:"name"`
	Type     string           `json:"type"`
	Local    bool             `json:"local"`
	Category profile.Category `json:"category"`
	Settings map[string]any   `json:"settings"`
	Inputs   []*step.Port     `json:"inputs"`
	Outputs  []*step.Port     `json:"outputs"`
}

// NewCommand creates the resolve command.
func NewCommand() *cobra.Command {
	flags := &resolveFlags{}

	cmd := &cobra.Command{
		Use:   "resolve <key>",
		Short: "Show the run settings a step resolves to",
		Long: `Load the spec of the manifest step <key>, detect its execution engine and
print the run settings, compute target and port modes it resolves to.

Engine flags take auto, true or false. Auto infers the engine from the
step type; the bare flag means true:

  pipewright resolve train --gpu
  pipewright resolve score --parallel --set node_count=4 --set mini_batch_size=10MB
  pipewright resolve export --windows=false --target cpu-big`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeFirstKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, args[0], flags)
		},
	}

	f := cmd.Flags()
	for _, ef := range []struct {
		name  string
		value *profile.TriState
		usage string
	}{
		{"parallel", &flags.engines.Parallel, "run on the parallel batch engine"},
		{"sweep", &flags.engines.Sweep, "run as a hyperparameter sweep"},
		{"windows", &flags.engines.Windows, "run on Windows compute"},
		{"spark", &flags.engines.Spark, "run on the spark cluster engine"},
		{"mpi", &flags.engines.MPI, "use a distributed node layout"},
		{"query", &flags.engines.Query, "run on the query engine"},
		{"transfer", &flags.engines.Transfer, "run on the data transfer engine"},
	} {
		f.Var(ef.value, ef.name, ef.usage)
		f.Lookup(ef.name).NoOptDefVal = "true"
	}
	f.BoolVar(&flags.engines.GPU, "gpu", false, "Request GPU compute")
	f.StringVar(&flags.target, "target", "", "Force the compute target")
	f.StringVar(&flags.inputMode, "input-mode", "", "Force the mode of every input")
	f.StringVar(&flags.outputMode, "output-mode", "", "Force the mode of every output")
	f.StringArrayVar(&flags.set, "set", nil, "Set a run setting option (key=value, repeatable)")
	f.SortFlags = false

	_ = cmd.RegisterFlagCompletionFunc("input-mode", completion.CompleteDataModes)
	_ = cmd.RegisterFlagCompletionFunc("output-mode", completion.CompleteDataModes)

	return cmd
}

func completeFirstKey(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return completion.CompleteStepKeys(cmd, args, toComplete)
}

func runResolve(cmd *cobra.Command, key string, flags *resolveFlags) error {
	env, err := shared.LoadEnv()
	if err != nil {
		return err
	}
	entry, err := env.Manifest.Lookup(key)
	if err != nil {
		return shared.ClassifyError("unknown step", err)
	}
	specPath := env.Manifest.SpecPath(entry)
	if specPath == "" {
		return shared.NewInvalidStepError(fmt.Sprintf("step %s has no spec file", key), nil)
	}
	inst, err := step.LoadSpec(specPath)
	if err != nil {
		return shared.NewInvalidStepError("failed to load step spec", err)
	}

	opts, err := runsettings.ParseAssignments(flags.set)
	if err != nil {
		return shared.NewInvalidStepError("invalid --set", err)
	}
	if flags.target != "" {
		opts.Target = flags.target
	}
	if flags.inputMode != "" {
		opts.InputMode = flags.inputMode
	}
	if flags.outputMode != "" {
		opts.OutputMode = flags.outputMode
	}

	resolver := runsettings.New(env.Config, env.Manifest, env.Logger)
	category, err := resolver.Apply(key, inst, flags.engines, opts)
	if err != nil {
		if shared.GetJSON() {
			classified := shared.ClassifyError("failed to resolve run settings", err)
			if jerr := shared.EmitJSONError("resolve", []shared.JSONError{shared.JSONErrorFrom(classified, key)}); jerr != nil {
				return jerr
			}
			return classified
		}
		return shared.ClassifyError("failed to resolve run settings", err)
	}

	settings := inst.RunSettings().Flatten()
	if shared.GetJSON() {
		return shared.EmitJSON(resolveResponse{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "resolve", Success: true},
			Key:          key,
			Name:         inst.StepName(),
			Type:         inst.StepType(),
			Local:        entry.Local,
			Category:     category,
			Settings:     settings,
			Inputs:       inst.Inputs(),
			Outputs:      inst.Outputs(),
		})
	}

	out := cmd.OutOrStdout()
	sourcing := "registered"
	if entry.Local {
		sourcing = "local"
	}
	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s (%s, %s) resolves to the %s engine", key, inst.StepType(), sourcing, category)))
	fmt.Fprintln(out)

	keys := step.SortedKeys(settings)
	values := make(map[string]string, len(keys))
	for _, k := range keys {
		values[k] = fmt.Sprint(settings[k])
	}
	shared.PrintKeyValues(out, "Run settings", keys, values)

	printPorts(out, "Inputs", inst.Inputs())
	printPorts(out, "Outputs", inst.Outputs())
	return nil
}

func printPorts(w io.Writer, header string, ports []*step.Port) {
	if len(ports) == 0 {
		return
	}
	keys := make([]string, 0, len(ports))
	values := make(map[string]string, len(ports))
	for _, p := range ports {
		keys = append(keys, p.Name)
		v := p.Mode
		if p.Datastore != "" {
			v += " -> " + p.Datastore
		}
		values[p.Name] = v
	}
	fmt.Fprintln(w)
	shared.PrintKeyValues(w, header, keys, values)
}
