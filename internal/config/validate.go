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
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cast"
)

// Validate checks the configuration for values no build could use.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.Compute.validate()...)

	if err := ValidateUseLocal(c.ModuleLoader.UseLocal); err != nil {
		errs = append(errs, err.Error())
	}

	seen := make(map[string]bool)
	for i, entry := range c.Modules.Manifest {
		key := entry.Key
		if key == "" {
			key = entry.Name
		}
		if key == "" {
			errs = append(errs, fmt.Sprintf("modules.manifest[%d] must provide at least key or name", i))
			continue
		}
		if seen[key] {
			errs = append(errs, fmt.Sprintf("modules.manifest[%d] duplicates key %q", i, key))
		}
		seen[key] = true
	}

	seenTenant := make(map[string]bool)
	for _, rs := range c.TenantOverrides.Mapping {
		if rs.Tenant == "" {
			errs = append(errs, "tenant_overrides.mapping has an empty tenant key")
		}
		if seenTenant[rs.Tenant] {
			errs = append(errs, fmt.Sprintf("tenant_overrides.mapping duplicates tenant %q", rs.Tenant))
		}
		seenTenant[rs.Tenant] = true
		for _, rule := range rs.Rules {
			if strings.TrimSpace(rule.Path) == "" {
				errs = append(errs, fmt.Sprintf("tenant_overrides.mapping.%s has a rule with an empty path", rs.Tenant))
			}
		}
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	errs = append(errs, c.Tracing.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c ComputeConfig) validate() []string {
	var errs []string

	if c.ParallelNodeCount < 1 {
		errs = append(errs, fmt.Sprintf("compute.parallel_node_count must be >= 1, got %d", c.ParallelNodeCount))
	}
	if c.ParallelProcessCountPerNode != nil && *c.ParallelProcessCountPerNode < 1 {
		errs = append(errs, fmt.Sprintf("compute.parallel_process_count_per_node must be >= 1, got %d", *c.ParallelProcessCountPerNode))
	}
	if c.ParallelErrorThreshold < -1 {
		errs = append(errs, fmt.Sprintf("compute.parallel_error_threshold must be >= -1, got %d", c.ParallelErrorThreshold))
	}
	if c.ParallelRunMaxTry < 1 {
		errs = append(errs, fmt.Sprintf("compute.parallel_run_max_try must be >= 1, got %d", c.ParallelRunMaxTry))
	}
	if c.ParallelRunInvocationTimeout < 1 {
		errs = append(errs, fmt.Sprintf("compute.parallel_run_invocation_timeout must be >= 1, got %d", c.ParallelRunInvocationTimeout))
	}
	if s, err := cast.ToStringE(c.ParallelMiniBatchSize); err != nil || s == "" {
		errs = append(errs, fmt.Sprintf("compute.parallel_mini_batch_size must be an int or size string, got %v", c.ParallelMiniBatchSize))
	}

	for key, mem := range map[string]string{
		"compute.hdi_driver_memory":   c.HDIDriverMemory,
		"compute.hdi_executor_memory": c.HDIExecutorMemory,
	} {
		if err := ValidateMemory(mem); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}

	switch c.HDIConf.(type) {
	case nil, string, map[string]any:
	default:
		errs = append(errs, fmt.Sprintf("compute.hdi_conf must be a JSON string or a mapping, got %T", c.HDIConf))
	}

	return errs
}

func (t TracingConfig) validate() []string {
	var errs []string
	switch t.Exporter {
	case "console":
	case "otlp", "otlp-http":
		if t.Enabled && t.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("tracing.endpoint is required for the %s exporter", t.Exporter))
		}
	default:
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [console, otlp, otlp-http], got %q", t.Exporter))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %v", t.SampleRate))
	}
	return errs
}

// ValidateMemory checks a spark memory size such as "2g" or "512m".
func ValidateMemory(size string) error {
	if size == "" {
		return fmt.Errorf("memory size is empty")
	}
	bytes, err := humanize.ParseBytes(size)
	if err != nil {
		return fmt.Errorf("invalid memory size %q: %w", size, err)
	}
	if bytes == 0 {
		return fmt.Errorf("memory size %q must be positive", size)
	}
	return nil
}

// ValidateUseLocal checks the use_local syntax: every entry of a list must
// either be negated ("!key") or not, never a mix.
func ValidateUseLocal(useLocal string) error {
	trimmed := strings.TrimSpace(useLocal)
	if trimmed == "" || trimmed == "*" {
		return nil
	}
	var negated, plain int
	for _, item := range strings.Split(trimmed, ",") {
		item = strings.TrimSpace(item)
		switch {
		case item == "" || item == "!":
			return fmt.Errorf("module_loader.use_local %q contains an empty entry", useLocal)
		case strings.HasPrefix(item, "!"):
			negated++
		default:
			plain++
		}
	}
	if negated > 0 && plain > 0 {
		return fmt.Errorf(`module_loader.use_local %q mixes "!key" and "key" entries; use "", "*", "a, b" or "!a, !b"`, useLocal)
	}
	return nil
}
