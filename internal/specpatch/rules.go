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

package specpatch

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/tombee/pipewright/internal/config"
	"github.com/tombee/pipewright/internal/jq"
	pwlog "github.com/tombee/pipewright/internal/log"
)

// Outcome is the result of applying one rule to one spec.
type Outcome string

const (
	// PatchApplied means the value at the rule path was rewritten.
	PatchApplied Outcome = "applied"
	// PatchUnmatched means a string value matched no replacement.
	PatchUnmatched Outcome = "unmatched"
	// PatchSkipped means the rule path had no match or addressed an
	// unsupported value type. It never aborts the override pass.
	PatchSkipped Outcome = "skipped"
)

// RuleResult reports what a rule did to a spec.
type RuleResult struct {
	Path    string
	Outcome Outcome
	Reason  string
}

// applyRules rewrites doc in place, rule by rule in declaration order.
func applyRules(ctx context.Context, exec *jq.Executor, doc *Document, rules []config.Rule, logger *slog.Logger) ([]RuleResult, error) {
	results := make([]RuleResult, 0, len(rules))
	tree, err := doc.Tree()
	if err != nil {
		return nil, err
	}

	for _, rule := range rules {
		res := applyRule(ctx, exec, doc, tree, rule, logger)
		rulesTotal.WithLabelValues(string(res.Outcome)).Inc()
		results = append(results, res)

		if res.Outcome == PatchApplied {
			if tree, err = doc.Tree(); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

func applyRule(ctx context.Context, exec *jq.Executor, doc *Document, tree any, rule config.Rule, logger *slog.Logger) RuleResult {
	logger = logger.With(slog.String(pwlog.RuleKey, rule.Path))
	skip := func(reason string) RuleResult {
		logger.Info("skipping override rule", slog.String("reason", reason))
		return RuleResult{Path: rule.Path, Outcome: PatchSkipped, Reason: reason}
	}

	path, err := jq.ParsePath(rule.Path)
	if err != nil {
		return skip("invalid path: " + err.Error())
	}
	value, found, err := exec.Find(ctx, tree, path)
	if err != nil {
		return skip("query failed: " + err.Error())
	}
	if !found {
		return skip("no matching field")
	}

	switch v := value.(type) {
	case string:
		newVal, ok := replaceString(v, rule.Replacements, logger)
		if !ok {
			logger.Info("no replacement matches value", slog.String("value", v))
			return RuleResult{Path: rule.Path, Outcome: PatchUnmatched}
		}
		if err := doc.Set(path, newVal); err != nil {
			return skip(err.Error())
		}
		logger.Info("field overridden", slog.String("from", v), slog.Any("to", newVal))
		return RuleResult{Path: rule.Path, Outcome: PatchApplied}

	case map[string]any:
		applied := 0
		for _, rep := range rule.Replacements {
			sub, err := jq.ParsePath(rep.Key)
			if err != nil {
				logger.Info("skipping invalid sub-path", slog.String("key", rep.Key), pwlog.Error(err))
				continue
			}
			full := path.Join(sub)
			if err := doc.Set(full, rep.Value); err != nil {
				if errors.Is(err, ErrPathNotFound) {
					logger.Info("field not in spec, skipping", slog.String("key", full.String()))
					continue
				}
				logger.Warn("failed to override field", slog.String("key", full.String()), pwlog.Error(err))
				continue
			}
			logger.Info("field overridden", slog.String("key", full.String()), slog.Any("to", rep.Value))
			applied++
		}
		if applied == 0 {
			return skip("no sub-key exists in spec")
		}
		return RuleResult{Path: rule.Path, Outcome: PatchApplied}

	default:
		return skip("override of this value type is not supported")
	}
}

// replaceString looks value up verbatim first, then tries every key as a
// regular expression anchored at the start of value. The first matching
// pattern in declaration order wins and replaces all of its matches.
func replaceString(value string, reps []config.Replacement, logger *slog.Logger) (any, bool) {
	for _, rep := range reps {
		if rep.Key == value {
			return rep.Value, true
		}
	}
	for _, rep := range reps {
		re, err := regexp.Compile(rep.Key)
		if err != nil {
			logger.Debug("replacement key is not a valid pattern", slog.String("pattern", rep.Key), pwlog.Error(err))
			continue
		}
		loc := re.FindStringIndex(value)
		if loc == nil || loc[0] != 0 {
			continue
		}
		tmpl, err := cast.ToStringE(rep.Value)
		if err != nil {
			logger.Warn("pattern replacement must be a string", slog.String("pattern", rep.Key))
			continue
		}
		return re.ReplaceAllString(value, expandTemplate(tmpl)), true
	}
	return nil, false
}

// expandTemplate converts backslash group references ("\1", "\g<name>")
// into regexp template syntax and escapes literal dollars.
func expandTemplate(tmpl string) string {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '$':
			b.WriteString("$$")
		case c == '\\' && i+1 < len(tmpl) && tmpl[i+1] >= '0' && tmpl[i+1] <= '9':
			j := i + 1
			for j < len(tmpl) && j < i+3 && tmpl[j] >= '0' && tmpl[j] <= '9' {
				j++
			}
			b.WriteString("${" + tmpl[i+1:j] + "}")
			i = j - 1
		case c == '\\' && strings.HasPrefix(tmpl[i+1:], "g<"):
			end := strings.IndexByte(tmpl[i+3:], '>')
			if end < 0 {
				b.WriteByte(c)
				continue
			}
			b.WriteString("${" + tmpl[i+3:i+3+end] + "}")
			i += 3 + end
		case c == '\\' && i+1 < len(tmpl) && tmpl[i+1] == '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
