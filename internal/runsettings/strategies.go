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
	"log/slog"
	"maps"

	"github.com/spf13/cast"

	"github.com/tombee/pipewright/internal/config"
	"github.com/tombee/pipewright/internal/step"
	pwerrors "github.com/tombee/pipewright/pkg/errors"
)

// applyLinux configures generic batch steps, optionally distributed.
func (r *Resolver) applyLinux(req *request) error {
	target, err := r.selectTarget(req, false)
	if err != nil {
		return err
	}
	req.logTarget("linux", target)

	req.settings().Configure(target, req.opts.Extras)
	if req.prof.MPI {
		r.applyLayout(req)
	}
	r.applyDefaultModes(req, false)
	return nil
}

// applyWindows configures steps running on Windows compute.
func (r *Resolver) applyWindows(req *request) error {
	target, err := r.selectTarget(req, true)
	if err != nil {
		return err
	}
	req.logTarget("windows", target)

	req.settings().Configure(target, req.opts.Extras)
	if req.prof.MPI {
		r.applyLayout(req)
	}
	r.applyDefaultModes(req, true)
	return nil
}

// applyLayout always sets both layout fields, defaulting each to 1.
func (r *Resolver) applyLayout(req *request) {
	nodes := orInt(req.opts.NodeCount, 1)
	procs := orInt(req.opts.ProcessCountPerNode, 1)
	req.logger.Info("using mpi layout",
		slog.Int("node_count", nodes),
		slog.Int("process_count_per_node", procs))
	req.settings().ResourceLayout = &step.ResourceLayout{
		NodeCount:           nodes,
		ProcessCountPerNode: &procs,
	}
}

func (r *Resolver) applyDefaultModes(req *request, windows bool) {
	SetAllInputs(req.step, orDefault(req.opts.InputMode, r.compute.InputMode(windows)), req.logger)
	SetAllOutputs(req.step, orDefault(req.opts.OutputMode, r.compute.OutputMode(windows)),
		r.compute.Datastore(true), req.logger)
}

// applyExplicitModes only touches ports when a mode was requested.
func (r *Resolver) applyExplicitModes(req *request) {
	if req.opts.InputMode != "" {
		SetAllInputs(req.step, req.opts.InputMode, req.logger)
	}
	if req.opts.OutputMode != "" {
		SetAllOutputs(req.step, req.opts.OutputMode, r.compute.Datastore(true), req.logger)
	}
}

// applyParallel configures the batch-splitting engine.
func (r *Resolver) applyParallel(req *request) error {
	target, err := r.selectTarget(req, req.prof.Windows)
	if err != nil {
		return err
	}

	o := req.opts
	threshold := orInt(o.ErrorThreshold, r.compute.ParallelErrorThreshold)
	if threshold < -1 {
		return &pwerrors.ValidationError{
			Field:   "error_threshold",
			Message: fmt.Sprintf("must be in [-1, max], got %d", threshold),
			Hint:    "use -1 to ignore all failures during processing",
		}
	}
	batch := o.MiniBatchSize
	if batch == nil {
		batch = r.compute.ParallelMiniBatchSize
	}
	batchSize, err := cast.ToStringE(batch)
	if err != nil || batchSize == "" {
		return &pwerrors.ValidationError{
			Field:   "mini_batch_size",
			Message: fmt.Sprintf("must be an int or a size string, got %v", batch),
		}
	}

	procs := o.ProcessCountPerNode
	if procs == nil {
		procs = r.compute.ParallelProcessCountPerNode
	}
	if procs != nil {
		v := *procs
		procs = &v
	}

	req.logTarget("parallel", target)
	req.settings().Configure(target, nil)
	req.settings().Parallel = &step.Parallel{
		NodeCount:            orInt(o.NodeCount, r.compute.ParallelNodeCount),
		ProcessCountPerNode:  procs,
		MiniBatchSize:        batchSize,
		RunInvocationTimeout: orInt(o.RunInvocationTimeout, r.compute.ParallelRunInvocationTimeout),
		RunMaxTry:            orInt(o.RunMaxTry, r.compute.ParallelRunMaxTry),
		ErrorThreshold:       threshold,
		Extras:               maps.Clone(o.Extras),
	}
	r.applyExplicitModes(req)
	return nil
}

// applySpark configures the spark cluster engine.
func (r *Resolver) applySpark(req *request) error {
	o := req.opts
	override := r.compute.HDIConf
	if o.Conf != nil {
		override = o.Conf
	}
	conf, err := MergeSparkConf(DefaultSparkConf(), override)
	if err != nil {
		return &pwerrors.ValidationError{
			Field:   "hdi_conf",
			Message: err.Error(),
			Hint:    "pass a JSON object string or a mapping",
		}
	}

	driverMemory := orString(o.DriverMemory, r.compute.HDIDriverMemory)
	executorMemory := orString(o.ExecutorMemory, r.compute.HDIExecutorMemory)
	for field, mem := range map[string]string{"driver_memory": driverMemory, "executor_memory": executorMemory} {
		if err := config.ValidateMemory(mem); err != nil {
			return &pwerrors.ValidationError{Field: field, Message: err.Error()}
		}
	}

	target := orDefault(o.Target, r.compute.HDIProdTarget)
	req.logTarget("spark", target)
	req.settings().Configure(target, nil)
	req.settings().Spark = &step.Spark{
		DriverMemory:    driverMemory,
		DriverCores:     orInt(o.DriverCores, r.compute.HDIDriverCores),
		ExecutorMemory:  executorMemory,
		ExecutorCores:   orInt(o.ExecutorCores, r.compute.HDIExecutorCores),
		NumberExecutors: orInt(o.NumberExecutors, r.compute.HDINumberExecutors),
		Conf:            conf,
		Extras:          maps.Clone(o.Extras),
	}

	if o.InputMode != "" {
		SetAllInputs(req.step, o.InputMode, req.logger)
	}
	SetAllOutputs(req.step, o.OutputMode, r.compute.Datastore(true), req.logger)
	return nil
}

// applySweep configures the hyperparameter search engine. Every search
// parameter is applied only when given.
func (r *Resolver) applySweep(req *request) error {
	target, err := r.selectTarget(req, req.prof.Windows)
	if err != nil {
		return err
	}
	o := req.opts
	req.logTarget("sweep", target)
	req.settings().Configure(target, o.Extras)

	if o.NodeCount != nil && *o.NodeCount > 0 {
		var procs *int
		if o.ProcessCountPerNode != nil {
			v := *o.ProcessCountPerNode
			procs = &v
		}
		req.logger.Info("using sweep layout", slog.Int("node_count", *o.NodeCount))
		req.settings().ResourceLayout = &step.ResourceLayout{
			NodeCount:           *o.NodeCount,
			ProcessCountPerNode: procs,
		}
	}
	r.applyExplicitModes(req)

	sw := req.settings().Sweep
	if sw == nil {
		sw = &step.Sweep{}
		req.settings().Sweep = sw
	}
	setIf(&sw.Algorithm, o.Algorithm)
	setIf(&sw.Objective.PrimaryMetric, o.PrimaryMetric)
	setIf(&sw.Objective.Goal, o.Goal)
	setIf(&sw.EarlyTermination.PolicyType, o.PolicyType)
	setIf(&sw.EarlyTermination.EvaluationInterval, o.EvaluationInterval)
	setIf(&sw.EarlyTermination.DelayEvaluation, o.DelayEvaluation)
	setIf(&sw.EarlyTermination.SlackFactor, o.SlackFactor)
	setIf(&sw.EarlyTermination.SlackAmount, o.SlackAmount)
	setIf(&sw.EarlyTermination.TruncationPercentage, o.TruncationPercentage)
	setIf(&sw.Limits.MaxTotalTrials, o.MaxTotalTrials)
	setIf(&sw.Limits.MaxConcurrentTrials, o.MaxConcurrentTrials)
	setIf(&sw.Limits.TimeoutMinutes, o.TimeoutMinutes)
	return nil
}

func setIf[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// applyQuery configures the distributed query engine. Its outputs always go
// to the non-compliant datastore.
func (r *Resolver) applyQuery(req *request) error {
	o := req.opts
	req.logTarget("query", o.Target)
	req.settings().Configure(o.Target, o.Extras)

	if o.InputMode != "" {
		SetAllInputs(req.step, o.InputMode, req.logger)
	}
	SetAllOutputs(req.step, o.OutputMode, r.compute.Datastore(false), req.logger)

	req.settings().Query = &step.Query{
		AccountName:   o.AccountName,
		Params:        o.Params,
		JobNameSuffix: o.JobNameSuffix,
	}
	return nil
}

// applyTransfer configures the bulk data transfer engine.
func (r *Resolver) applyTransfer(req *request) error {
	o := req.opts
	compliant := true
	if o.Compliant != nil {
		compliant = *o.Compliant
	}
	target := orDefault(o.Target, r.compute.DataTransferTarget)
	req.logTarget("transfer", target)
	req.settings().Configure(target, o.Extras)

	if o.InputMode != "" {
		SetAllInputs(req.step, o.InputMode, req.logger)
	}
	SetAllOutputs(req.step, o.OutputMode, r.compute.Datastore(compliant), req.logger)
	return nil
}
