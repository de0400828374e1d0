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

// Package runsettings computes and applies the runtime settings of a step
// for the execution engine it targets.
package runsettings

import (
	"fmt"
	"log/slog"

	"github.com/tombee/pipewright/internal/config"
	pwlog "github.com/tombee/pipewright/internal/log"
	"github.com/tombee/pipewright/internal/manifest"
	"github.com/tombee/pipewright/internal/profile"
	"github.com/tombee/pipewright/internal/step"
	pwerrors "github.com/tombee/pipewright/pkg/errors"
)

// ManifestLookup resolves step keys against the catalog.
type ManifestLookup interface {
	Lookup(key string) (manifest.Entry, error)
	IsLocal(key string) bool
	KeyForName(name string) (string, error)
}

// Resolver applies run settings to step instances. It never mutates its
// configuration and is safe to reuse across steps of one build.
type Resolver struct {
	compute  config.ComputeConfig
	manifest ManifestLookup
	logger   *slog.Logger
}

// New creates a Resolver.
func New(cfg *config.Config, lookup ManifestLookup, logger *slog.Logger) *Resolver {
	return &Resolver{
		compute:  cfg.Compute,
		manifest: lookup,
		logger:   pwlog.WithComponent(pwlog.OrDiscard(logger), "runsettings"),
	}
}

// Apply checks that key names the catalog entry s was built from, detects
// the engine and applies that engine's settings. Nothing is mutated when
// an error is returned.
func (r *Resolver) Apply(key string, s step.Step, flags profile.Flags, opts Options) (profile.Category, error) {
	if err := r.checkConsistency(key, s); err != nil {
		return "", err
	}

	logger := pwlog.WithStep(r.logger, key)
	p := profile.Detect(s, flags, logger)
	category := p.Category()
	logger = logger.With(slog.String(pwlog.CategoryKey, string(category)))

	req := &request{
		key:    key,
		step:   s,
		local:  r.manifest.IsLocal(key),
		prof:   p,
		opts:   opts,
		logger: logger,
	}

	var err error
	switch category {
	case profile.CategoryParallel:
		err = r.applyParallel(req)
	case profile.CategorySweep:
		err = r.applySweep(req)
	case profile.CategoryWindows:
		err = r.applyWindows(req)
	case profile.CategorySpark:
		err = r.applySpark(req)
	case profile.CategoryQuery:
		err = r.applyQuery(req)
	case profile.CategoryTransfer:
		err = r.applyTransfer(req)
	default:
		err = r.applyLinux(req)
	}
	if err != nil {
		resolutionsTotal.WithLabelValues(string(category), "error").Inc()
		return category, err
	}
	resolutionsTotal.WithLabelValues(string(category), "ok").Inc()
	return category, nil
}

// ApplySmart infers the manifest key from the step's own name and applies
// its settings.
func (r *Resolver) ApplySmart(s step.Step, flags profile.Flags, opts Options) (string, profile.Category, error) {
	key, err := r.manifest.KeyForName(s.StepName())
	if err != nil {
		return "", "", err
	}
	category, err := r.Apply(key, s, flags, opts)
	return key, category, err
}

// checkConsistency guards against passing the key of one step with the
// instance of another. Entries without a name cannot be checked.
func (r *Resolver) checkConsistency(key string, s step.Step) error {
	entry, err := r.manifest.Lookup(key)
	if err != nil {
		return err
	}
	if entry.Name == "" || entry.Matches(s.StepName()) {
		return nil
	}
	return &pwerrors.ManifestConsistencyError{
		StepKey:      key,
		EntryName:    entry.QualifiedName(),
		InstanceName: s.StepName(),
	}
}

// request carries one Apply call through a strategy.
type request struct {
	key    string
	step   step.Step
	local  bool
	prof   profile.Profile
	opts   Options
	logger *slog.Logger
}

func (req *request) settings() *step.Settings {
	return req.step.RunSettings()
}

// selectTarget returns the forced target or picks one from configuration.
// Windows with GPU is rejected even when a target is forced.
func (r *Resolver) selectTarget(req *request, windows bool) (string, error) {
	if windows && req.prof.GPU {
		return "", &pwerrors.InvalidConfigurationError{
			StepKey: req.key,
			Reason:  "a GPU compute target with Windows OS is not available",
		}
	}
	if req.opts.Target != "" {
		return req.opts.Target, nil
	}
	target, ok := r.compute.Target(req.local, windows, req.prof.GPU)
	if !ok {
		return "", &pwerrors.InvalidConfigurationError{
			StepKey: req.key,
			Reason:  fmt.Sprintf("no compute target for local=%t windows=%t gpu=%t", req.local, windows, req.prof.GPU),
		}
	}
	return target, nil
}

func (req *request) logTarget(kind, target string) {
	sourcing := "registered"
	if req.local {
		sourcing = "local"
	}
	req.logger.Info("using compute target",
		slog.String("engine", kind),
		slog.String("target", target),
		slog.String("sourcing", sourcing))
	if len(req.opts.Extras) > 0 {
		req.logger.Info("adding custom runtime arguments", slog.Any("extras", req.opts.Extras))
	}
}
