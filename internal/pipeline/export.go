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

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	pwlog "github.com/tombee/pipewright/internal/log"
	"github.com/tombee/pipewright/internal/profile"
	"github.com/tombee/pipewright/internal/runsettings"
	"github.com/tombee/pipewright/internal/step"
	"github.com/tombee/pipewright/internal/tracing"
	pwerrors "github.com/tombee/pipewright/pkg/errors"
)

// ExportAssembler resolves every step with a spec file and writes the
// resulting pipeline as JSON. It never submits; a configured submit is
// logged and reported as not submitted.
type ExportAssembler struct {
	// Flags and Options hold per-step overrides keyed by manifest key.
	Flags   map[string]profile.Flags
	Options map[string]runsettings.Options

	// Out receives the JSON when set; otherwise run.export decides, with
	// "" and "-" meaning stdout.
	Out io.Writer
}

// Assemble implements Assembler.
func (a *ExportAssembler) Assemble(ctx context.Context, b *Build) (*Result, error) {
	logger := pwlog.OrDiscard(b.Logger)
	result := &Result{
		ExperimentName: b.Config.Run.ExperimentName,
		Description:    b.Config.Run.ExperimentDescription,
		Tags:           b.Tags,
		Steps:          []StepResult{},
		Override:       b.Override,
	}

	for _, entry := range b.Manifest.Entries() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		specPath := b.Manifest.SpecPath(entry)
		if specPath == "" {
			logger.Debug("step has no spec file, skipping", slog.String(pwlog.StepKey, entry.Key))
			continue
		}
		if _, err := os.Stat(specPath); err != nil && !entry.Local {
			logger.Debug("registered step spec not on disk, skipping",
				slog.String(pwlog.StepKey, entry.Key),
				slog.String(pwlog.SpecPathKey, specPath))
			continue
		}
		inst, err := step.LoadSpec(specPath)
		if err != nil {
			return nil, err
		}

		_, span := tracing.Start(ctx, "runsettings.resolve", tracing.AttrStepKey.String(entry.Key))
		category, err := b.Resolver.Apply(entry.Key, inst, a.Flags[entry.Key], a.Options[entry.Key])
		span.SetAttributes(tracing.AttrCategory.String(string(category)))
		tracing.End(span, err)
		if err != nil {
			return nil, pwerrors.Wrapf(err, "resolving step %s", entry.Key)
		}
		result.Steps = append(result.Steps, StepResult{
			Key:      entry.Key,
			Name:     inst.StepName(),
			Type:     inst.StepType(),
			Local:    entry.Local,
			Category: category,
			Settings: inst.RunSettings().Flatten(),
			Inputs:   portValues(inst.Inputs()),
			Outputs:  portValues(inst.Outputs()),
		})
	}

	if err := a.write(b.Config.Run.Export, result); err != nil {
		return nil, err
	}
	if b.Config.Run.Submit {
		logger.Warn("submission backend not configured, not submitting",
			slog.String("experiment", result.ExperimentName))
	}
	return result, nil
}

func (a *ExportAssembler) write(export string, result *Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return pwerrors.Wrap(err, "encoding pipeline")
	}
	data = append(data, '\n')

	switch {
	case a.Out != nil:
		_, err = a.Out.Write(data)
	case export == "" || export == "-":
		_, err = os.Stdout.Write(data)
	default:
		err = os.WriteFile(export, data, 0644)
	}
	if err != nil {
		return fmt.Errorf("writing pipeline export: %w", err)
	}
	return nil
}

func portValues(ports []*step.Port) []step.Port {
	out := make([]step.Port, 0, len(ports))
	for _, p := range ports {
		out = append(out, *p)
	}
	return out
}
