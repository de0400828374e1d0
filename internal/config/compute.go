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

// ComputeConfig holds compute targets and per-engine resource defaults.
//
// Targets are split along three axes: OS (linux/windows), accelerator
// (cpu/gpu) and sourcing. "dc" targets run locally built steps, "prod"
// targets run registered ones. There is deliberately no windows GPU target.
type ComputeConfig struct {
	DefaultComputeTarget string `yaml:"default_compute_target"`

	LinuxCPUDCTarget     string `yaml:"linux_cpu_dc_target"`
	LinuxCPUProdTarget   string `yaml:"linux_cpu_prod_target"`
	LinuxGPUDCTarget     string `yaml:"linux_gpu_dc_target"`
	LinuxGPUProdTarget   string `yaml:"linux_gpu_prod_target"`
	WindowsCPUDCTarget   string `yaml:"windows_cpu_dc_target"`
	WindowsCPUProdTarget string `yaml:"windows_cpu_prod_target"`

	LinuxInputMode    string `yaml:"linux_input_mode"`
	LinuxOutputMode   string `yaml:"linux_output_mode"`
	WindowsInputMode  string `yaml:"windows_input_mode"`
	WindowsOutputMode string `yaml:"windows_output_mode"`

	// Spark cluster engine.
	HDIProdTarget      string `yaml:"hdi_prod_target"`
	HDIDriverMemory    string `yaml:"hdi_driver_memory"`
	HDIDriverCores     int    `yaml:"hdi_driver_cores"`
	HDIExecutorMemory  string `yaml:"hdi_executor_memory"`
	HDIExecutorCores   int    `yaml:"hdi_executor_cores"`
	HDINumberExecutors int    `yaml:"hdi_number_executors"`
	// HDIConf overrides entries of the built-in spark configuration. It may
	// be a JSON object string or a (possibly nested) mapping.
	HDIConf any `yaml:"hdi_conf,omitempty"`

	// Massively parallel batch engine.
	ParallelNodeCount int `yaml:"parallel_node_count"`
	// ParallelProcessCountPerNode is left unset by default so the backend
	// picks one process per core.
	ParallelProcessCountPerNode *int `yaml:"parallel_process_count_per_node,omitempty"`
	// ParallelMiniBatchSize is an int or a size string ("10MB"); it is
	// always handed to the backend as a string.
	ParallelMiniBatchSize        any `yaml:"parallel_mini_batch_size"`
	ParallelRunInvocationTimeout int `yaml:"parallel_run_invocation_timeout"`
	ParallelRunMaxTry            int `yaml:"parallel_run_max_try"`
	ParallelErrorThreshold       int `yaml:"parallel_error_threshold"`

	// Bulk data transfer engine.
	DataTransferTarget string `yaml:"datatransfer_target"`

	CompliantDatastore    string `yaml:"compliant_datastore"`
	NoncompliantDatastore string `yaml:"noncompliant_datastore"`
}

// DefaultCompute returns the built-in compute defaults.
func DefaultCompute() ComputeConfig {
	return ComputeConfig{
		DefaultComputeTarget: "cpu-cluster",

		LinuxCPUDCTarget:     "cpu-cluster",
		LinuxCPUProdTarget:   "cpu-cluster",
		LinuxGPUDCTarget:     "gpu-cluster",
		LinuxGPUProdTarget:   "gpu-cluster",
		WindowsCPUDCTarget:   "cpu-win",
		WindowsCPUProdTarget: "cpu-win",

		LinuxInputMode:    "mount",
		LinuxOutputMode:   "mount",
		WindowsInputMode:  "download",
		WindowsOutputMode: "upload",

		HDIProdTarget:      "hdi-cluster",
		HDIDriverMemory:    "2g",
		HDIDriverCores:     2,
		HDIExecutorMemory:  "2g",
		HDIExecutorCores:   2,
		HDINumberExecutors: 2,

		ParallelNodeCount:            10,
		ParallelMiniBatchSize:        1,
		ParallelRunInvocationTimeout: 10800,
		ParallelRunMaxTry:            3,
		ParallelErrorThreshold:       -1,

		DataTransferTarget: "data-factory",

		CompliantDatastore:    "workspaceblobstore",
		NoncompliantDatastore: "workspaceblobstore",
	}
}

// Target picks the configured compute target for the given axes. ok is
// false for windows+gpu, which has no target.
func (c ComputeConfig) Target(local, windows, gpu bool) (target string, ok bool) {
	switch {
	case windows && gpu:
		return "", false
	case windows && local:
		return c.WindowsCPUDCTarget, true
	case windows:
		return c.WindowsCPUProdTarget, true
	case gpu && local:
		return c.LinuxGPUDCTarget, true
	case gpu:
		return c.LinuxGPUProdTarget, true
	case local:
		return c.LinuxCPUDCTarget, true
	default:
		return c.LinuxCPUProdTarget, true
	}
}

// Datastore returns the compliant or non-compliant output datastore.
func (c ComputeConfig) Datastore(compliant bool) string {
	if compliant {
		return c.CompliantDatastore
	}
	return c.NoncompliantDatastore
}

// InputMode returns the default input mode for the OS.
func (c ComputeConfig) InputMode(windows bool) string {
	if windows {
		return c.WindowsInputMode
	}
	return c.LinuxInputMode
}

// OutputMode returns the default output mode for the OS.
func (c ComputeConfig) OutputMode(windows bool) string {
	if windows {
		return c.WindowsOutputMode
	}
	return c.LinuxOutputMode
}
