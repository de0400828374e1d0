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

package step

import (
	"maps"
	"sort"
)

// Settings is the runtime settings bag written by the resolver. Sections are
// nil until the strategy for their engine writes them.
type Settings struct {
	Target string `json:"target,omitempty"`

	// Extras are free-form parameters passed verbatim next to Target.
	Extras map[string]any `json:"extras,omitempty"`

	ResourceLayout *ResourceLayout `json:"resource_layout,omitempty"`
	Parallel       *Parallel       `json:"parallel,omitempty"`
	Spark          *Spark          `json:"hdinsight,omitempty"`
	Sweep          *Sweep          `json:"sweep,omitempty"`
	Query          *Query          `json:"scope,omitempty"`
}

// ResourceLayout is the distributed (MPI) node layout.
type ResourceLayout struct {
	NodeCount           int  `json:"node_count"`
	ProcessCountPerNode *int `json:"process_count_per_node,omitempty"`
}

// Parallel configures the batch-splitting engine.
type Parallel struct {
	NodeCount            int            `json:"node_count"`
	ProcessCountPerNode  *int           `json:"process_count_per_node,omitempty"`
	MiniBatchSize        string         `json:"mini_batch_size"`
	RunInvocationTimeout int            `json:"run_invocation_timeout"`
	RunMaxTry            int            `json:"run_max_try"`
	ErrorThreshold       int            `json:"error_threshold"`
	Extras               map[string]any `json:"extras,omitempty"`
}

// Spark configures the spark cluster engine.
type Spark struct {
	DriverMemory    string         `json:"driver_memory"`
	DriverCores     int            `json:"driver_cores"`
	ExecutorMemory  string         `json:"executor_memory"`
	ExecutorCores   int            `json:"executor_cores"`
	NumberExecutors int            `json:"number_executors"`
	Conf            map[string]any `json:"conf"`
	Extras          map[string]any `json:"extras,omitempty"`
}

// Sweep configures the hyperparameter search engine. Zero values mean
// "not set"; the backend applies its own defaults for those.
type Sweep struct {
	Algorithm        string                `json:"algorithm,omitempty"`
	Objective        SweepObjective        `json:"objective,omitempty"`
	EarlyTermination SweepEarlyTermination `json:"early_termination,omitempty"`
	Limits           SweepLimits           `json:"limits,omitempty"`
}

type SweepObjective struct {
	PrimaryMetric string `json:"primary_metric,omitempty"`
	Goal          string `json:"goal,omitempty"`
}

type SweepEarlyTermination struct {
	PolicyType           string  `json:"policy_type,omitempty"`
	EvaluationInterval   int     `json:"evaluation_interval,omitempty"`
	DelayEvaluation      int     `json:"delay_evaluation,omitempty"`
	SlackFactor          float64 `json:"slack_factor,omitempty"`
	SlackAmount          float64 `json:"slack_amount,omitempty"`
	TruncationPercentage int     `json:"truncation_percentage,omitempty"`
}

type SweepLimits struct {
	MaxTotalTrials      int `json:"max_total_trials,omitempty"`
	MaxConcurrentTrials int `json:"max_concurrent_trials,omitempty"`
	TimeoutMinutes      int `json:"timeout_minutes,omitempty"`
}

// Query configures the large-scale distributed query engine.
type Query struct {
	AccountName   string `json:"adla_account_name,omitempty"`
	Params        string `json:"scope_param,omitempty"`
	JobNameSuffix string `json:"custom_job_name_suffix,omitempty"`
}

// Configure sets the target and merges extras into the top-level bag.
// Extras are written last, so an extra named like a fixed field wins.
func (s *Settings) Configure(target string, extras map[string]any) {
	if target != "" {
		s.Target = target
	}
	if len(extras) > 0 {
		if s.Extras == nil {
			s.Extras = make(map[string]any, len(extras))
		}
		maps.Copy(s.Extras, extras)
	}
}

// Flatten returns every set field as a dot-keyed map. Section extras are
// written after the section's fixed fields and top-level extras last.
func (s *Settings) Flatten() map[string]any {
	out := make(map[string]any)
	if s.Target != "" {
		out["target"] = s.Target
	}
	if rl := s.ResourceLayout; rl != nil {
		out["resource_layout.node_count"] = rl.NodeCount
		if rl.ProcessCountPerNode != nil {
			out["resource_layout.process_count_per_node"] = *rl.ProcessCountPerNode
		}
	}
	if p := s.Parallel; p != nil {
		out["parallel.node_count"] = p.NodeCount
		if p.ProcessCountPerNode != nil {
			out["parallel.process_count_per_node"] = *p.ProcessCountPerNode
		}
		out["parallel.mini_batch_size"] = p.MiniBatchSize
		out["parallel.run_invocation_timeout"] = p.RunInvocationTimeout
		out["parallel.run_max_try"] = p.RunMaxTry
		out["parallel.error_threshold"] = p.ErrorThreshold
		for k, v := range p.Extras {
			out["parallel."+k] = v
		}
	}
	if sp := s.Spark; sp != nil {
		out["hdinsight.driver_memory"] = sp.DriverMemory
		out["hdinsight.driver_cores"] = sp.DriverCores
		out["hdinsight.executor_memory"] = sp.ExecutorMemory
		out["hdinsight.executor_cores"] = sp.ExecutorCores
		out["hdinsight.number_executors"] = sp.NumberExecutors
		for k, v := range sp.Conf {
			out["hdinsight.conf."+k] = v
		}
		for k, v := range sp.Extras {
			out["hdinsight."+k] = v
		}
	}
	if sw := s.Sweep; sw != nil {
		setIf(out, "sweep.algorithm", sw.Algorithm)
		setIf(out, "sweep.objective.primary_metric", sw.Objective.PrimaryMetric)
		setIf(out, "sweep.objective.goal", sw.Objective.Goal)
		et := sw.EarlyTermination
		setIf(out, "sweep.early_termination.policy_type", et.PolicyType)
		setIf(out, "sweep.early_termination.evaluation_interval", et.EvaluationInterval)
		setIf(out, "sweep.early_termination.delay_evaluation", et.DelayEvaluation)
		setIf(out, "sweep.early_termination.slack_factor", et.SlackFactor)
		setIf(out, "sweep.early_termination.slack_amount", et.SlackAmount)
		setIf(out, "sweep.early_termination.truncation_percentage", et.TruncationPercentage)
		setIf(out, "sweep.limits.max_total_trials", sw.Limits.MaxTotalTrials)
		setIf(out, "sweep.limits.max_concurrent_trials", sw.Limits.MaxConcurrentTrials)
		setIf(out, "sweep.limits.timeout_minutes", sw.Limits.TimeoutMinutes)
	}
	if q := s.Query; q != nil {
		setIf(out, "scope.adla_account_name", q.AccountName)
		setIf(out, "scope.scope_param", q.Params)
		setIf(out, "scope.custom_job_name_suffix", q.JobNameSuffix)
	}
	for k, v := range s.Extras {
		out[k] = v
	}
	return out
}

func setIf[T comparable](out map[string]any, key string, v T) {
	var zero T
	if v != zero {
		out[key] = v
	}
}

// SortedKeys returns the keys of a flattened settings map in order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
