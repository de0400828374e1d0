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

// Package pipeline runs a build: tenant spec overrides, assembly and
// submission, then recovery of every overridden spec.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/tombee/pipewright/internal/config"
	pwlog "github.com/tombee/pipewright/internal/log"
	"github.com/tombee/pipewright/internal/manifest"
	"github.com/tombee/pipewright/internal/profile"
	"github.com/tombee/pipewright/internal/runsettings"
	"github.com/tombee/pipewright/internal/specpatch"
	"github.com/tombee/pipewright/internal/step"
	"github.com/tombee/pipewright/internal/tenant"
	"github.com/tombee/pipewright/internal/tracing"
	pwerrors "github.com/tombee/pipewright/pkg/errors"
)

// Build is what an Assembler gets to work with.
type Build struct {
	Config   *config.Config
	Manifest *manifest.Manifest
	Resolver *runsettings.Resolver
	// Tags are the run tags plus the pipewright version.
	Tags map[string]string
	// Override is what the override pass did before assembly.
	Override OverrideSummary
	Logger   *slog.Logger
}

// Assembler wires resolved steps into a pipeline and optionally submits it.
type Assembler interface {
	Assemble(ctx context.Context, b *Build) (*Result, error)
}

// AssemblerFunc adapts a function to Assembler.
type AssemblerFunc func(ctx context.Context, b *Build) (*Result, error)

func (f AssemblerFunc) Assemble(ctx context.Context, b *Build) (*Result, error) {
	return f(ctx, b)
}

// Result is the outcome of a build.
type Result struct {
	ExperimentName string            `json:"experiment_name"`
	Description    string            `json:"description,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	Steps          []StepResult      `json:"steps"`
	Submitted      bool              `json:"submitted"`

	Override OverrideSummary `json:"override"`
}

// StepResult holds the resolved settings of one step.
type StepResult struct {
	Key      string           `json:"key"`
	Name     string           `json:"name"`
	Type     string           `json:"type"`
	Local    bool             `json:"local"`
	Category profile.Category `json:"category"`
	Settings map[string]any   `json:"settings"`
	Inputs   []step.Port      `json:"inputs,omitempty"`
	Outputs  []step.Port      `json:"outputs,omitempty"`
}

// OverrideSummary reports what the override pass did.
type OverrideSummary struct {
	Applied    bool   `json:"applied"`
	Tenant     string `json:"tenant,omitempty"`
	Session    string `json:"session,omitempty"`
	Specs      int    `json:"specs"`
	Error      string `json:"error,omitempty"`
	RecoverErr string `json:"recover_error,omitempty"`
}

// Runner runs builds for one configuration.
type Runner struct {
	cfg      *config.Config
	manifest *manifest.Manifest
	version  string
	logger   *slog.Logger
}

// NewRunner creates a Runner. version is recorded in the run tags.
func NewRunner(cfg *config.Config, m *manifest.Manifest, version string, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		manifest: m,
		version:  version,
		logger:   pwlog.WithComponent(pwlog.OrDiscard(logger), "pipeline"),
	}
}

// Run validates the run, applies tenant overrides, assembles the pipeline
// and restores every overridden spec. Override and recovery failures are
// logged and never fail the build.
func (r *Runner) Run(ctx context.Context, asm Assembler) (result *Result, err error) {
	ctx, span := tracing.Start(ctx, "pipeline.build", tracing.AttrExperiment.String(r.cfg.Run.ExperimentName))
	defer func() { tracing.End(span, err) }()

	if err := ValidateExperimentName(r.cfg.Run.ExperimentName); err != nil {
		return nil, err
	}

	tags := ParseTags(r.cfg.Run.Tags, r.logger)
	if r.version != "" {
		tags["pipewright"] = r.version
	}

	var summary OverrideSummary
	journal, lock := r.override(ctx, &summary)
	if journal != nil || lock != nil {
		defer func() {
			if journal != nil {
				_, rspan := tracing.Start(ctx, "specpatch.recover", tracing.AttrSession.String(summary.Session))
				rerr := journal.Recover(r.cfg.TenantOverrides.KeepModifiedFiles, r.logger)
				tracing.End(rspan, rerr)
				if rerr != nil {
					r.logger.Error("recovery is not successful", pwlog.Error(rerr))
					summary.RecoverErr = rerr.Error()
				}
			}
			if lerr := lock.Release(); lerr != nil {
				r.logger.Warn("failed to release steps folder lock", pwlog.Error(lerr))
			}
			if result != nil {
				result.Override = summary
			}
		}()
	}

	build := &Build{
		Config:   r.cfg,
		Manifest: r.manifest,
		Resolver: runsettings.New(r.cfg, r.manifest, r.logger),
		Tags:     tags,
		Override: summary,
		Logger:   r.logger,
	}
	result, err = asm.Assemble(ctx, build)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &Result{}
	}
	if result.ExperimentName == "" {
		result.ExperimentName = r.cfg.Run.ExperimentName
	}
	if result.Tags == nil {
		result.Tags = tags
	}
	result.Override = summary
	return result, nil
}

// override runs the override pass. The journal it returns must be drained
// even when the pass failed.
func (r *Runner) override(ctx context.Context, summary *OverrideSummary) (*specpatch.Journal, *specpatch.Lock) {
	decision := tenant.Decide(r.cfg, r.manifest.AnyLocal(), r.logger)
	summary.Tenant = decision.Tenant
	if !decision.Applies {
		return nil, nil
	}

	stepsDir := r.manifest.StepsDir()
	lock, err := specpatch.AcquireLock(ctx, stepsDir)
	if err != nil {
		r.logger.Error("override is not successful", pwlog.Error(err))
		summary.Error = err.Error()
		return nil, nil
	}

	engine := specpatch.New(specpatch.Config{
		Tenant:   decision.Tenant,
		StepsDir: stepsDir,
	}, r.logger)
	summary.Session = engine.Session()

	ctx, span := tracing.Start(ctx, "specpatch.override",
		tracing.AttrTenant.String(decision.Tenant),
		tracing.AttrSession.String(summary.Session))
	defer func() {
		span.SetAttributes(tracing.AttrSpecs.Int(summary.Specs))
		tracing.End(span, errorOf(summary.Error))
	}()

	r.logger.Info("performing spec override",
		slog.String(pwlog.TenantKey, decision.Tenant),
		slog.String("mapping_key", decision.MappingKey))
	journal, reports, err := engine.Apply(ctx, specpatch.TargetsFromManifest(r.manifest), decision.Rules)
	summary.Specs = len(reports)
	if err != nil {
		r.logger.Error("override is not successful", pwlog.Error(err))
		summary.Error = err.Error()
		return journal, lock
	}
	summary.Applied = true
	return journal, lock
}

func errorOf(msg string) error {
	if msg == "" {
		return nil
	}
	return pwerrors.New(msg)
}
