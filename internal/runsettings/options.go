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

package runsettings

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Options are per-call overrides. A nil pointer or empty string means "use
// the configured default"; for the fields documented as optional it means
// "leave the backend default".
type Options struct {
	// Target forces the compute target.
	Target string

	// InputMode and OutputMode force the transfer mode of every port.
	InputMode  string
	OutputMode string

	// Distributed layout, also used by sweep steps.
	NodeCount           *int
	ProcessCountPerNode *int

	// Parallel engine. MiniBatchSize may be an int or a size string.
	MiniBatchSize        any
	RunInvocationTimeout *int
	RunMaxTry            *int
	ErrorThreshold       *int

	// Spark engine. Conf is a JSON object string or a (nested) map.
	DriverMemory    *string
	DriverCores     *int
	ExecutorMemory  *string
	ExecutorCores   *int
	NumberExecutors *int
	Conf            any

	// Compliant selects the destination datastore of a transfer step.
	// Defaults to true.
	Compliant *bool

	// Query engine, optional.
	AccountName   string
	Params        string
	JobNameSuffix string

	// Sweep engine, each applied only when set.
	Algorithm            string
	PrimaryMetric        string
	Goal                 string
	PolicyType           string
	EvaluationInterval   int
	DelayEvaluation      int
	SlackFactor          float64
	SlackAmount          float64
	TruncationPercentage int
	MaxTotalTrials       int
	MaxConcurrentTrials  int
	TimeoutMinutes       int

	// Extras are passed through verbatim to the engine's settings section.
	Extras map[string]any
}

// ParseOptions builds Options from loosely typed key/value pairs such as
// "--set node_count=4" flags or a YAML mapping. Unknown keys become extras.
func ParseOptions(values map[string]any) (Options, error) {
	var opts Options
	for key, raw := range values {
		if err := opts.set(key, raw); err != nil {
			return Options{}, fmt.Errorf("option %s: %w", key, err)
		}
	}
	return opts, nil
}

// ParseAssignments parses "key=value" strings into Options.
func ParseAssignments(assignments []string) (Options, error) {
	values := make(map[string]any, len(assignments))
	for _, a := range assignments {
		key, value, ok := strings.Cut(a, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return Options{}, fmt.Errorf("invalid assignment %q: expected key=value", a)
		}
		values[key] = value
	}
	return ParseOptions(values)
}

func (o *Options) set(key string, raw any) error {
	var err error
	switch key {
	case "target":
		o.Target, err = cast.ToStringE(raw)
	case "input_mode":
		o.InputMode, err = cast.ToStringE(raw)
	case "output_mode":
		o.OutputMode, err = cast.ToStringE(raw)
	case "node_count":
		o.NodeCount, err = intPtr(raw)
	case "process_count_per_node":
		o.ProcessCountPerNode, err = intPtr(raw)
	case "mini_batch_size":
		o.MiniBatchSize = raw
	case "run_invocation_timeout":
		o.RunInvocationTimeout, err = intPtr(raw)
	case "run_max_try":
		o.RunMaxTry, err = intPtr(raw)
	case "error_threshold":
		o.ErrorThreshold, err = intPtr(raw)
	case "driver_memory":
		o.DriverMemory, err = stringPtr(raw)
	case "driver_cores":
		o.DriverCores, err = intPtr(raw)
	case "executor_memory":
		o.ExecutorMemory, err = stringPtr(raw)
	case "executor_cores":
		o.ExecutorCores, err = intPtr(raw)
	case "number_executors":
		o.NumberExecutors, err = intPtr(raw)
	case "conf":
		o.Conf = raw
	case "compliant":
		var b bool
		b, err = cast.ToBoolE(raw)
		o.Compliant = &b
	case "adla_account_name":
		o.AccountName, err = cast.ToStringE(raw)
	case "scope_param":
		o.Params, err = cast.ToStringE(raw)
	case "custom_job_name_suffix":
		o.JobNameSuffix, err = cast.ToStringE(raw)
	case "algorithm":
		o.Algorithm, err = cast.ToStringE(raw)
	case "primary_metric":
		o.PrimaryMetric, err = cast.ToStringE(raw)
	case "goal":
		o.Goal, err = cast.ToStringE(raw)
	case "policy_type":
		o.PolicyType, err = cast.ToStringE(raw)
	case "evaluation_interval":
		o.EvaluationInterval, err = cast.ToIntE(raw)
	case "delay_evaluation":
		o.DelayEvaluation, err = cast.ToIntE(raw)
	case "slack_factor":
		o.SlackFactor, err = cast.ToFloat64E(raw)
	case "slack_amount":
		o.SlackAmount, err = cast.ToFloat64E(raw)
	case "truncation_percentage":
		o.TruncationPercentage, err = cast.ToIntE(raw)
	case "max_total_trials":
		o.MaxTotalTrials, err = cast.ToIntE(raw)
	case "max_concurrent_trials":
		o.MaxConcurrentTrials, err = cast.ToIntE(raw)
	case "timeout_minutes":
		o.TimeoutMinutes, err = cast.ToIntE(raw)
	default:
		if o.Extras == nil {
			o.Extras = make(map[string]any)
		}
		o.Extras[key] = raw
	}
	return err
}

func intPtr(raw any) (*int, error) {
	v, err := cast.ToIntE(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func stringPtr(raw any) (*string, error) {
	v, err := cast.ToStringE(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func orInt(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}

func orString(v *string, fallback string) string {
	if v != nil {
		return *v
	}
	return fallback
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
