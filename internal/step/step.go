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

// Package step models a pipeline step instance as seen by the run settings
// resolver: its identity, declared engine category, ports and the mutable
// runtime settings bag.
package step

import (
	"strings"
)

// Known category tags declared by step specs.
const (
	TypeCommand      = "CommandComponent"
	TypeDistributed  = "DistributedComponent"
	TypeSpark        = "HDInsightComponent"
	TypeParallel     = "ParallelComponent"
	TypeQuery        = "ScopeComponent"
	TypeDataTransfer = "DataTransferComponent"
	TypeSweep        = "SweepComponent"
)

// Step is everything the resolver needs from a step instance. Ports are
// exposed through explicit accessors; the resolver never inspects anything else.
type Step interface {
	// StepName is the declared name, possibly "namespace://name".
	StepName() string
	// StepType is the category tag, e.g. "ParallelComponent".
	StepType() string
	// EnvironmentOS is the declared execution OS, "" when the category has
	// no environment descriptor.
	EnvironmentOS() string
	Inputs() []*Port
	Outputs() []*Port
	RunSettings() *Settings
}

// Port is a named input or output.
type Port struct {
	Name string `json:"name"`
	// Mode is the data transfer mode (mount, download, upload, ...).
	Mode string `json:"mode,omitempty"`
	// Datastore is the destination datastore, outputs only.
	Datastore string `json:"datastore,omitempty"`
}

// Configure sets the transfer mode and, when non-empty, the datastore.
// An empty mode leaves the current mode in place.
func (p *Port) Configure(mode, datastore string) {
	if mode != "" {
		p.Mode = mode
	}
	if datastore != "" {
		p.Datastore = datastore
	}
}

// Instance is a concrete step built from a spec file or the registry.
type Instance struct {
	Name    string
	Type    string
	OS      string
	inputs  []*Port
	outputs []*Port

	settings Settings
}

// NewInstance creates an instance with the given ports.
func NewInstance(name, typ, os string, inputs, outputs []string) *Instance {
	inst := &Instance{Name: name, Type: typ, OS: os}
	for _, in := range inputs {
		inst.inputs = append(inst.inputs, &Port{Name: in})
	}
	for _, out := range outputs {
		inst.outputs = append(inst.outputs, &Port{Name: out})
	}
	return inst
}

func (i *Instance) StepName() string       { return i.Name }
func (i *Instance) StepType() string       { return i.Type }
func (i *Instance) EnvironmentOS() string  { return i.OS }
func (i *Instance) Inputs() []*Port        { return i.inputs }
func (i *Instance) Outputs() []*Port       { return i.outputs }
func (i *Instance) RunSettings() *Settings { return &i.settings }

// Input returns the input port called name.
func (i *Instance) Input(name string) *Port {
	return findPort(i.inputs, name)
}

// Output returns the output port called name.
func (i *Instance) Output(name string) *Port {
	return findPort(i.outputs, name)
}

func findPort(ports []*Port, name string) *Port {
	for _, p := range ports {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// IsWindows reports whether the declared OS is Windows.
func IsWindows(s Step) bool {
	return strings.EqualFold(s.EnvironmentOS(), "windows")
}
