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

	"gopkg.in/yaml.v3"
)

// RemoveRestrictedIndexKey is the reserved key inside a tenant rule set that
// turns on scrubbing of the restricted package index from dependency files.
const RemoveRestrictedIndexKey = "remove_restricted_index"

// TenantOverrides configures per-tenant spec rewriting.
type TenantOverrides struct {
	// AllowOverride enables the override pass.
	AllowOverride bool `yaml:"allow_override"`

	// KeepModifiedFiles keeps a tenant-suffixed copy of every rewritten spec
	// after the originals are restored.
	KeepModifiedFiles bool `yaml:"keep_modified_files"`

	// Mapping holds one rule set per tenant, in declaration order.
	Mapping TenantMapping `yaml:"mapping"`
}

// TenantMapping is an ordered tenant -> rule set mapping. Order matters:
// the first matching tenant wins.
type TenantMapping []TenantRules

// TenantRules is the rule set for one tenant.
type TenantRules struct {
	// Tenant is the mapping key: a tenant id, or the stem of a tenant file.
	Tenant string

	// RemoveRestrictedIndex scrubs the restricted package index URL from
	// dependency files referenced by each spec.
	RemoveRestrictedIndex bool

	// Rules are applied in declaration order.
	Rules []Rule
}

// Rule rewrites the value found at Path.
//
// When the value is a string, each Replacement key is first compared
// verbatim, then tried as a regular expression. When the value is an
// object, each key is a sub-path below Path and the value is written there.
type Rule struct {
	Path         string
	Replacements []Replacement
}

// Replacement is one ordered key/value pair of a Rule.
type Replacement struct {
	Key   string
	Value any
}

// Lookup returns the rule set for tenant.
func (m TenantMapping) Lookup(tenant string) (TenantRules, bool) {
	for _, rs := range m {
		if rs.Tenant == tenant {
			return rs, true
		}
	}
	return TenantRules{}, false
}

// Lookup returns the replacement registered under key verbatim.
func (r Rule) Lookup(key string) (any, bool) {
	for _, rep := range r.Replacements {
		if rep.Key == key {
			return rep.Value, true
		}
	}
	return nil, false
}

// UnmarshalYAML decodes the mapping while keeping declaration order.
func (m *TenantMapping) UnmarshalYAML(node *yaml.Node) error {
	*m = nil
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: tenant_overrides.mapping must be a mapping", node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		tenant := node.Content[i].Value
		body := node.Content[i+1]
		rs := TenantRules{Tenant: tenant}

		if body.Kind == yaml.ScalarNode && body.Tag == "!!null" {
			*m = append(*m, rs)
			continue
		}
		if body.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: rules for tenant %q must be a mapping", body.Line, tenant)
		}

		for j := 0; j+1 < len(body.Content); j += 2 {
			key := body.Content[j].Value
			val := body.Content[j+1]

			if key == RemoveRestrictedIndexKey {
				if err := val.Decode(&rs.RemoveRestrictedIndex); err != nil {
					return fmt.Errorf("line %d: %s: %w", val.Line, key, err)
				}
				continue
			}

			rule, err := decodeRule(key, val)
			if err != nil {
				return err
			}
			rs.Rules = append(rs.Rules, rule)
		}
		*m = append(*m, rs)
	}
	return nil
}

func decodeRule(path string, node *yaml.Node) (Rule, error) {
	if node.Kind != yaml.MappingNode {
		return Rule{}, fmt.Errorf("line %d: rule %q must map values to replacements", node.Line, path)
	}
	rule := Rule{Path: path}
	for k := 0; k+1 < len(node.Content); k += 2 {
		var value any
		if err := node.Content[k+1].Decode(&value); err != nil {
			return Rule{}, fmt.Errorf("line %d: rule %q: %w", node.Content[k+1].Line, path, err)
		}
		rule.Replacements = append(rule.Replacements, Replacement{
			Key:   node.Content[k].Value,
			Value: value,
		})
	}
	return rule, nil
}

// MarshalYAML encodes the mapping in declaration order.
func (m TenantMapping) MarshalYAML() (any, error) {
	out := &yaml.Node{Kind: yaml.MappingNode}
	for _, rs := range m {
		body := &yaml.Node{Kind: yaml.MappingNode}
		if rs.RemoveRestrictedIndex {
			body.Content = append(body.Content, scalar(RemoveRestrictedIndexKey), scalar("true"))
			body.Content[len(body.Content)-1].Tag = "!!bool"
		}
		for _, rule := range rs.Rules {
			ruleNode := &yaml.Node{Kind: yaml.MappingNode}
			for _, rep := range rule.Replacements {
				var val yaml.Node
				if err := val.Encode(rep.Value); err != nil {
					return nil, err
				}
				ruleNode.Content = append(ruleNode.Content, scalar(rep.Key), &val)
			}
			body.Content = append(body.Content, scalar(rule.Path), ruleNode)
		}
		out.Content = append(out.Content, scalar(rs.Tenant), body)
	}
	return out, nil
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}
