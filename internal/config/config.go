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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/pipewright/internal/jq"
	pwerrors "github.com/tombee/pipewright/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete pipewright configuration. It is read-only
// once Load returns.
type Config struct {
	Identity        IdentityConfig  `yaml:"identity"`
	Compute         ComputeConfig   `yaml:"compute"`
	Modules         ModulesConfig   `yaml:"modules"`
	ModuleLoader    LoaderConfig    `yaml:"module_loader"`
	TenantOverrides TenantOverrides `yaml:"tenant_overrides"`
	Run             RunConfig       `yaml:"run"`
	Log             LogConfig       `yaml:"log"`
	Tracing         TracingConfig   `yaml:"tracing"`

	// path is the file the config was loaded from, "" for defaults.
	path string
}

// IdentityConfig identifies who a build runs as.
type IdentityConfig struct {
	// Tenant is the current tenant identifier.
	// Environment: PIPEWRIGHT_TENANT
	Tenant string `yaml:"tenant"`
}

// ModulesConfig holds the step manifest.
type ModulesConfig struct {
	Manifest []ManifestEntry `yaml:"manifest"`
}

// ManifestEntry is one catalog reference as written in configuration.
type ManifestEntry struct {
	// Key is the internal key used to reference the step. Defaults to Name.
	Key string `yaml:"key,omitempty"`
	// Name is the registered name of the step.
	Name string `yaml:"name,omitempty"`
	// Namespace qualifies Name for registered steps ("ns://name").
	Namespace string `yaml:"namespace,omitempty"`
	// Spec is the path to the local spec file, relative to the steps folder.
	Spec string `yaml:"yaml,omitempty"`
	// Version pins a registered step version.
	Version string `yaml:"version,omitempty"`
}

// LoaderConfig controls which steps are sourced from local spec files.
type LoaderConfig struct {
	// UseLocal selects local steps: "" (none), "*" (all), "a, b" (only those
	// keys), or "!a, !b" (all except those keys). Keys may be glob patterns.
	// Environment: PIPEWRIGHT_USE_LOCAL
	UseLocal string `yaml:"use_local"`

	// LocalStepsFolder is the root that manifest spec paths are relative to.
	// Relative values are resolved against the config file directory.
	// Environment: PIPEWRIGHT_STEPS_DIR
	LocalStepsFolder string `yaml:"local_steps_folder"`

	// SpecGlob is the doublestar pattern used to discover spec files.
	SpecGlob string `yaml:"spec_glob"`

	ForceDefaultModuleVersion string `yaml:"force_default_module_version,omitempty"`
	ForceAllModuleVersion     string `yaml:"force_all_module_version,omitempty"`
}

// RunConfig holds per-build settings.
type RunConfig struct {
	ExperimentName        string `yaml:"experiment_name"`
	ExperimentDescription string `yaml:"experiment_description,omitempty"`

	// ConfigDir is searched for <config_dir>/aml/<tenant>.yaml tenant files.
	// Environment: PIPEWRIGHT_CONFIG_DIR
	ConfigDir string `yaml:"config_dir,omitempty"`

	// Export is where the resolved pipeline is written ("-" for stdout).
	Export string `yaml:"export,omitempty"`

	Submit            bool `yaml:"submit"`
	RegenerateOutputs bool `yaml:"regenerate_outputs"`
	ContinueOnFailure bool `yaml:"continue_on_failure"`

	// Tags is either a JSON object string or a mapping.
	Tags any `yaml:"tags,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry tracing of builds.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is one of console, otlp (gRPC) or otlp-http.
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP receiver host:port; required for otlp exporters.
	Endpoint string `yaml:"endpoint,omitempty"`
	// Insecure disables TLS towards the OTLP receiver.
	Insecure bool              `yaml:"insecure,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`

	// Output is the file console spans are written to, "" for stderr.
	Output string `yaml:"output,omitempty"`

	// SampleRate is the fraction of builds traced, 0 to 1.
	SampleRate float64 `yaml:"sample_rate"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		Compute: DefaultCompute(),
		ModuleLoader: LoaderConfig{
			LocalStepsFolder: ".",
			SpecGlob:         "**/spec.yaml",
		},
		Run: RunConfig{
			ExperimentName: "pipewright",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter:   "console",
			SampleRate: 1,
		},
	}
}

// Load reads configPath on top of the defaults, applies environment
// overrides and validates the result. An empty path yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &pwerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &pwerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// Parse decodes a YAML document on top of the defaults without touching the
// environment. Used by tests and by callers embedding configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &pwerrors.ConfigError{Key: "config_file", Reason: "failed to parse YAML", Cause: err}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &pwerrors.ConfigError{Key: "validation", Reason: "configuration validation failed", Cause: err}
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	c.path = path
	return nil
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("PIPEWRIGHT_TENANT"); val != "" {
		c.Identity.Tenant = val
	}
	if val, ok := os.LookupEnv("PIPEWRIGHT_USE_LOCAL"); ok {
		c.ModuleLoader.UseLocal = val
	}
	if val := os.Getenv("PIPEWRIGHT_STEPS_DIR"); val != "" {
		c.ModuleLoader.LocalStepsFolder = val
	}
	if val := os.Getenv("PIPEWRIGHT_CONFIG_DIR"); val != "" {
		c.Run.ConfigDir = val
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" && c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = val
	}
}

// applyDefaults fills fields a partial file may have blanked and resolves
// relative directories against the config file location.
func (c *Config) applyDefaults() {
	def := DefaultCompute()
	fill := func(dst *string, fallback string) {
		if *dst == "" {
			*dst = fallback
		}
	}
	fill(&c.Compute.LinuxInputMode, def.LinuxInputMode)
	fill(&c.Compute.LinuxOutputMode, def.LinuxOutputMode)
	fill(&c.Compute.WindowsInputMode, def.WindowsInputMode)
	fill(&c.Compute.WindowsOutputMode, def.WindowsOutputMode)
	fill(&c.ModuleLoader.SpecGlob, "**/spec.yaml")
	fill(&c.ModuleLoader.LocalStepsFolder, ".")
	fill(&c.Log.Level, "info")
	fill(&c.Log.Format, "text")
	fill(&c.Tracing.Exporter, "console")

	if c.path != "" {
		base := filepath.Dir(c.path)
		if !filepath.IsAbs(c.ModuleLoader.LocalStepsFolder) {
			c.ModuleLoader.LocalStepsFolder = filepath.Join(base, c.ModuleLoader.LocalStepsFolder)
		}
		if c.Run.ConfigDir != "" && !filepath.IsAbs(c.Run.ConfigDir) {
			c.Run.ConfigDir = filepath.Join(base, c.Run.ConfigDir)
		}
	}
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Get returns the effective value at a dotted key path such as
// "compute.linux_cpu_dc_target" or "modules.manifest[0].name".
func (c *Config) Get(keyPath string) (any, bool, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, false, err
	}
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, false, err
	}
	return jq.NewExecutor(0, 0).FindExpr(context.Background(), tree, keyPath)
}
