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

// Package tenant decides whether a build needs its local step specs
// rewritten for the current tenant, and with which rules.
package tenant

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tombee/pipewright/internal/config"
	pwlog "github.com/tombee/pipewright/internal/log"
)

// FilesDir is the folder under the config dir holding one file per tenant.
const FilesDir = "aml"

// Decision is the outcome of the override policy.
type Decision struct {
	Applies bool
	// Tenant is the current tenant identifier.
	Tenant string
	// MappingKey is the mapping entry that matched, either the tenant id or
	// the stem of a tenant file.
	MappingKey string
	Rules      config.TenantRules
	// Reason explains a negative decision.
	Reason string
}

// tenantFile is the part of <config_dir>/aml/<key>.yaml we read.
type tenantFile struct {
	Tenant string `yaml:"tenant"`
}

// Decide applies the override policy. anyLocal reports whether any step is
// built from a local spec. Mapping entries are scanned in declaration order
// and the first match wins.
func Decide(cfg *config.Config, anyLocal bool, logger *slog.Logger) Decision {
	logger = pwlog.WithComponent(pwlog.OrDiscard(logger), "tenant")
	current := cfg.Identity.Tenant
	d := Decision{Tenant: current}

	switch {
	case !anyLocal:
		d.Reason = "no step is built from a local spec"
	case !cfg.TenantOverrides.AllowOverride:
		d.Reason = "tenant overrides are disabled"
	case current == "":
		d.Reason = "current tenant is unknown"
	}
	if d.Reason != "" {
		logger.Debug("spec override not needed", slog.String("reason", d.Reason))
		return d
	}

	for _, rs := range cfg.TenantOverrides.Mapping {
		if rs.Tenant == current {
			return matched(d, rs, logger)
		}
		if cfg.Run.ConfigDir == "" {
			continue
		}
		id, err := readTenantFile(cfg.Run.ConfigDir, rs.Tenant)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("ignoring unreadable tenant file", slog.String("key", rs.Tenant), pwlog.Error(err))
			}
			continue
		}
		if id == current {
			return matched(d, rs, logger)
		}
	}

	d.Reason = "no mapping entry for the current tenant"
	logger.Info("spec override not needed",
		slog.String(pwlog.TenantKey, current),
		slog.String("reason", d.Reason))
	return d
}

func matched(d Decision, rs config.TenantRules, logger *slog.Logger) Decision {
	d.Applies = true
	d.MappingKey = rs.Tenant
	d.Rules = rs
	logger.Info("spec override applies",
		slog.String(pwlog.TenantKey, d.Tenant),
		slog.String("mapping_key", rs.Tenant),
		slog.Int("rules", len(rs.Rules)),
		slog.Bool("remove_restricted_index", rs.RemoveRestrictedIndex))
	return d
}

// FilePath returns the tenant file location for a mapping key.
func FilePath(configDir, key string) string {
	return filepath.Join(configDir, FilesDir, key+".yaml")
}

func readTenantFile(configDir, key string) (string, error) {
	data, err := os.ReadFile(FilePath(configDir, key))
	if err != nil {
		return "", err
	}
	var tf tenantFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return "", fmt.Errorf("failed to parse tenant file %s: %w", FilePath(configDir, key), err)
	}
	return tf.Tenant, nil
}
