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

package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/pipewright/internal/commands/shared"
	"github.com/tombee/pipewright/internal/config"
	"github.com/tombee/pipewright/internal/manifest"
	"github.com/tombee/pipewright/internal/step"
	"github.com/tombee/pipewright/internal/tenant"
	pwerrors "github.com/tombee/pipewright/pkg/errors"
)

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and step manifest",
		Long: `Validate the configuration file and the step manifest built from it.

Checks performed:
  - YAML syntax and field values
  - Local steps have a readable spec file that matches the manifest name
  - Registered steps have a name
  - The current tenant has a rule set when overrides are enabled

With --strict, warnings are treated as errors.`,
		Example: `  pipewright config validate
  pipewright config validate --strict --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := Validate(shared.GetConfigPath())
			return outputValidationResult(cmd, result, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

// Validate loads the configuration at path and checks the manifest and
// tenant setup it describes.
func Validate(path string) ValidationResult {
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return ValidationResult{Errors: []string{fmt.Sprintf("no configuration file found at %s", path)}}
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return ValidationResult{Errors: []string{err.Error()}}
	}
	logger := shared.NewLogger(cfg, os.Stderr)
	m, err := manifest.New(cfg, logger)
	if err != nil {
		return ValidationResult{Errors: []string{err.Error()}}
	}

	var result ValidationResult
	for _, err := range m.Verify() {
		result.Errors = append(result.Errors, err.Error())
	}

	for _, entry := range m.LocalEntries() {
		if entry.Spec == "" {
			continue
		}
		inst, err := step.LoadSpec(m.SpecPath(entry))
		if err != nil {
			if !pwerrors.Is(err, os.ErrNotExist) {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.Key, err))
			}
			continue
		}
		if !entry.Matches(inst.StepName()) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: spec name %q does not match manifest name %q", entry.Key, inst.StepName(), entry.QualifiedName()))
		}
	}

	if len(m.Entries()) == 0 {
		result.Warnings = append(result.Warnings, "modules.manifest is empty, builds will have no steps")
	}
	if cfg.TenantOverrides.AllowOverride {
		d := tenant.Decide(cfg, m.AnyLocal(), logger)
		if !d.Applies && cfg.Identity.Tenant != "" && m.AnyLocal() {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("tenant overrides are enabled but do not apply: %s", d.Reason))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func outputValidationResult(cmd *cobra.Command, result ValidationResult, strict bool) error {
	if shared.GetJSON() {
		if err := shared.EmitJSON(struct {
			shared.JSONResponse
			ValidationResult
		}{
			JSONResponse:     shared.JSONResponse{Version: "1.0", Command: "config validate", Success: result.Valid},
			ValidationResult: result,
		}); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		if result.Valid {
			fmt.Fprintln(out, shared.RenderOK("Configuration is valid"))
		} else {
			fmt.Fprintln(out, shared.RenderError("Configuration validation failed"))
		}

		if len(result.Errors) > 0 {
			fmt.Fprintln(out, shared.Header.Render("Errors:"))
			for _, err := range result.Errors {
				fmt.Fprintf(out, "  %s\n", shared.RenderError(err))
			}
		}
		if len(result.Warnings) > 0 {
			fmt.Fprintln(out, shared.Header.Render("Warnings:"))
			for _, warn := range result.Warnings {
				fmt.Fprintf(out, "  %s\n", shared.RenderWarn(warn))
			}
		}
	}

	if !result.Valid {
		return shared.NewInvalidConfigError("configuration validation failed", nil)
	}
	if strict && len(result.Warnings) > 0 {
		return shared.NewInvalidConfigError("validation failed (strict mode: warnings treated as errors)", nil)
	}
	return nil
}
