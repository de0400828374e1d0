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

package shared

// Error codes for structured JSON output
const (
	// Configuration errors (E001-E099)
	ErrorCodeInvalidConfig  = "E001" // Configuration failed to load or validate
	ErrorCodeConfigNotFound = "E002" // Config file not found

	// Step errors (E100-E199)
	ErrorCodeInvalidStep      = "E101" // Step settings could not be resolved
	ErrorCodeInconsistentStep = "E102" // Step does not match its manifest entry
	ErrorCodeUnknownStep      = "E103" // Step key not in the manifest
	ErrorCodeInvalidSpecFile  = "E104" // Spec file could not be parsed

	// Override errors (E200-E299)
	ErrorCodeOverrideFailed = "E201" // Tenant override pass failed
	ErrorCodeRecoveryFailed = "E202" // Specs could not be restored

	// Generic errors (E400-E499)
	ErrorCodeInternal        = "E402" // Internal error
	ErrorCodeExecutionFailed = "E403" // Execution failed
)

// mapExitErrorToCode maps ExitError codes to JSON error codes
func mapExitErrorToCode(exitErr *ExitError) string {
	if exitErr == nil {
		return ""
	}

	switch exitErr.Code {
	case ExitInvalidConfig:
		return ErrorCodeInvalidConfig
	case ExitInvalidStep:
		return ErrorCodeInvalidStep
	case ExitRecoveryFailed:
		return ErrorCodeRecoveryFailed
	default:
		return ErrorCodeExecutionFailed
	}
}
