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

import (
	"encoding/json"
	"errors"
	"io"
	"os"
)

// JSONResponse is the base envelope for all JSON output
type JSONResponse struct {
	Version string `json:"@version"`
	Command string `json:"command"`
	Success bool   `json:"success"`
}

// JSONError represents a structured error with code, message and suggestion
type JSONError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	StepKey    string `json:"step_key,omitempty"`
}

// output is where JSON responses go; swapped in tests.
var output io.Writer = os.Stdout

// EmitJSON marshals a response to indented JSON on stdout.
func EmitJSON(response any) error {
	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// EmitJSONError creates and emits a JSON error response
func EmitJSONError(command string, errs []JSONError) error {
	type errorResponse struct {
		JSONResponse
		Errors []JSONError `json:"errors"`
	}

	return EmitJSON(errorResponse{
		JSONResponse: JSONResponse{
			Version: "1.0",
			Command: command,
			Success: false,
		},
		Errors: errs,
	})
}

// JSONErrorFrom describes err for EmitJSONError.
func JSONErrorFrom(err error, stepKey string) JSONError {
	je := JSONError{Code: ErrorCodeExecutionFailed, Message: err.Error(), StepKey: stepKey}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		je.Code = mapExitErrorToCode(exitErr)
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if uv, ok := e.(interface{ Suggestion() string }); ok {
			je.Suggestion = uv.Suggestion()
			break
		}
	}
	return je
}

// SetOutputForTest redirects JSON output and returns a restore func.
func SetOutputForTest(w io.Writer) func() {
	prev := output
	output = w
	return func() { output = prev }
}
