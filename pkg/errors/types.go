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

package errors

import (
	"fmt"
)

// ValidationError represents user input validation failures.
// Use this for invalid option values or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Hint provides actionable guidance for fixing the error
	Hint string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) IsUserVisible() bool { return true }
func (e *ValidationError) UserMessage() string { return e.Error() }
func (e *ValidationError) Suggestion() string  { return e.Hint }

// InvalidConfigurationError is raised when a run-settings request asks for a
// combination no compute target can serve (for example Windows with GPU).
// It is always returned before the step instance is mutated.
type InvalidConfigurationError struct {
	// StepKey is the manifest key of the offending step
	StepKey string

	// Reason explains the impossible combination
	Reason string
}

// Error implements the error interface.
func (e *InvalidConfigurationError) Error() string {
	if e.StepKey != "" {
		return fmt.Sprintf("invalid configuration for step %s: %s", e.StepKey, e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

func (e *InvalidConfigurationError) IsUserVisible() bool { return true }
func (e *InvalidConfigurationError) UserMessage() string { return e.Error() }
func (e *InvalidConfigurationError) Suggestion() string {
	return "Drop the GPU flag for Windows steps or run the step on Linux"
}

// ManifestConsistencyError is raised when the manifest key supplied by the
// caller maps to an entry whose name differs from the step instance.
type ManifestConsistencyError struct {
	// StepKey is the key the caller supplied
	StepKey string

	// EntryName is the (possibly namespace qualified) name the key maps to
	EntryName string

	// InstanceName is the name the step instance declares
	InstanceName string
}

// Error implements the error interface.
func (e *ManifestConsistencyError) Error() string {
	return fmt.Sprintf("key %q maps to manifest entry %q but the step instance is named %q",
		e.StepKey, e.EntryName, e.InstanceName)
}

func (e *ManifestConsistencyError) IsUserVisible() bool { return true }
func (e *ManifestConsistencyError) UserMessage() string { return e.Error() }
func (e *ManifestConsistencyError) Suggestion() string {
	return "Check that the key passed with the step matches the step it was loaded from"
}

// LookupError represents a manifest or catalog reference that does not exist.
type LookupError struct {
	// Resource is the kind of reference (e.g., "step key", "step name")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *LookupError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *LookupError) IsUserVisible() bool { return true }
func (e *LookupError) UserMessage() string { return e.Error() }
func (e *LookupError) Suggestion() string {
	return "Check the spelling against modules.manifest in your configuration"
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "compute.parallel_node_count")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := "config error"
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s", e.Key)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// PatchError wraps a failure while rewriting or restoring a spec file.
type PatchError struct {
	// Op is the file operation that failed (backup, write, restore, ...)
	Op string

	// Path is the file the operation was acting on
	Path string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *PatchError) Error() string {
	return fmt.Sprintf("spec patch %s %s: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PatchError) Unwrap() error {
	return e.Cause
}
