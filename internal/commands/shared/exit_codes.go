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
	"errors"
	"fmt"
	"io"
	"os"

	pkgerrors "github.com/tombee/pipewright/pkg/errors"
)

// Exit codes for pipewright commands
const (
	ExitSuccess        = 0
	ExitFailed         = 1
	ExitInvalidConfig  = 2
	ExitInvalidStep    = 3
	ExitRecoveryFailed = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExecutionError creates an error for failed builds
func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitFailed,
		Message: msg,
		Cause:   cause,
	}
}

// NewInvalidConfigError creates an error for unusable configuration
func NewInvalidConfigError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidConfig,
		Message: msg,
		Cause:   cause,
	}
}

// NewInvalidStepError creates an error for steps whose settings cannot be resolved
func NewInvalidStepError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidStep,
		Message: msg,
		Cause:   cause,
	}
}

// NewRecoveryError creates an error for specs that could not be restored
func NewRecoveryError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitRecoveryFailed,
		Message: msg,
		Cause:   cause,
	}
}

// ClassifyError wraps err in an ExitError whose code follows the error
// type. Errors that already carry a code are returned as is.
func ClassifyError(msg string, err error) *ExitError {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}

	var (
		cfgErr        *pkgerrors.ConfigError
		validationErr *pkgerrors.ValidationError
		invalidErr    *pkgerrors.InvalidConfigurationError
		consistErr    *pkgerrors.ManifestConsistencyError
		lookupErr     *pkgerrors.LookupError
	)
	switch {
	case errors.As(err, &cfgErr):
		return NewInvalidConfigError(msg, err)
	case errors.As(err, &validationErr),
		errors.As(err, &invalidErr),
		errors.As(err, &consistErr),
		errors.As(err, &lookupErr):
		return NewInvalidStepError(msg, err)
	default:
		return NewExecutionError(msg, err)
	}
}

// HandleExitError checks if an error is an ExitError and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(reportError(os.Stderr, err))
}

// reportError prints err and its suggestion to w and returns the exit code.
func reportError(w io.Writer, err error) int {
	code := ExitFailed
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}

	if msg := err.Error(); msg != "" {
		fmt.Fprintln(w, RenderError("Error: "+msg))
	}
	printUserVisibleSuggestion(w, err)
	return code
}

// printUserVisibleSuggestion checks if an error implements UserVisibleError
// and prints the suggestion if available.
func printUserVisibleSuggestion(w io.Writer, err error) {
	// Walk the error chain to find a UserVisibleError
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				if suggestion := userErr.Suggestion(); suggestion != "" {
					fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
				}
			}
			return
		}
		err = errors.Unwrap(err)
	}
}
