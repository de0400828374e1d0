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

// Package config implements the config command: show, path, get and
// validate.
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/pipewright/internal/commands/shared"
	"github.com/tombee/pipewright/internal/config"
)

// NewCommand creates the config command with subcommands
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and check configuration",
		Long: `View and check the pipewright configuration.

Subcommands:
  show     - Display the effective configuration
  path     - Show config file location
  get      - Print one value by dotted key path
  validate - Check the configuration and the step manifest`,
	}

	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newPathCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newValidateCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runShow(cmd, args)
	}

	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after defaults and environment overrides.

Tracing header values are masked. Use --json for machine-readable output.`,
		Args: cobra.NoArgs,
		RunE: runShow,
	}
}

func newPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := shared.GetConfigPath()
			if shared.GetJSON() {
				return shared.EmitJSON(struct {
					shared.JSONResponse
					Path string `json:"path"`
				}{
					JSONResponse: shared.JSONResponse{Version: "1.0", Command: "config path", Success: true},
					Path:         path,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Long: `Print the effective value at a dotted key path. Brackets select list
items or keys containing dots.`,
		Example: `  pipewright config get compute.linux_gpu_dc_target
  pipewright config get modules.manifest[0].name
  pipewright config get 'tenant_overrides.mapping.contoso["environment.docker.image"]'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(shared.GetConfigPath())
			if err != nil {
				return shared.NewInvalidConfigError("failed to load configuration", err)
			}
			value, ok, err := cfg.Get(args[0])
			if err != nil {
				return shared.NewExecutionError(fmt.Sprintf("invalid key %q", args[0]), err)
			}
			if !ok {
				return shared.NewExecutionError(fmt.Sprintf("no value at %q", args[0]), nil)
			}

			if shared.GetJSON() {
				return shared.EmitJSON(struct {
					shared.JSONResponse
					Key   string `json:"key"`
					Value any    `json:"value"`
				}{
					JSONResponse: shared.JSONResponse{Version: "1.0", Command: "config get", Success: true},
					Key:          args[0],
					Value:        value,
				})
			}
			return writeValue(cmd.OutOrStdout(), value)
		},
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return shared.NewInvalidConfigError("failed to load configuration", err)
	}
	masked := maskSensitiveConfig(cfg)

	if shared.GetJSON() {
		tree, err := toTree(masked)
		if err != nil {
			return shared.NewExecutionError("failed to encode configuration", err)
		}
		return shared.EmitJSON(struct {
			shared.JSONResponse
			Path   string `json:"path,omitempty"`
			Config any    `json:"config"`
		}{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "config show", Success: true},
			Path:         cfg.Path(),
			Config:       tree,
		})
	}

	out := cmd.OutOrStdout()
	source := cfg.Path()
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(out, "Configuration: %s\n", source)
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(masked); err != nil {
		return shared.NewExecutionError("failed to encode configuration", err)
	}
	return encoder.Close()
}

// maskSensitiveConfig returns a copy with tracing header values masked.
func maskSensitiveConfig(cfg *config.Config) *config.Config {
	masked := *cfg
	if len(cfg.Tracing.Headers) > 0 {
		masked.Tracing.Headers = make(map[string]string, len(cfg.Tracing.Headers))
		for k, v := range cfg.Tracing.Headers {
			masked.Tracing.Headers[k] = maskSecret(v)
		}
	}
	return &masked
}

// maskSecret keeps the first and last 4 characters of long values.
func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return value
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// toTree converts cfg to plain maps keyed by the YAML field names.
func toTree(cfg *config.Config) (any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// writeValue prints scalars bare and everything else as YAML.
func writeValue(w io.Writer, value any) error {
	switch v := value.(type) {
	case nil:
		fmt.Fprintln(w, "null")
		return nil
	case string, bool, int, int64, float64:
		fmt.Fprintln(w, v)
		return nil
	}
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(value); err != nil {
		return err
	}
	return encoder.Close()
}
