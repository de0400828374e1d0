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
	"errors"
	"fmt"
)

// Wrap annotates err with message. Returns nil when err is nil.
//
//	if err := backup(path); err != nil {
//	    return errors.Wrap(err, "backing up spec")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target type.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error wrapping every non-nil error in errs.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// IsFatal reports whether err belongs to the taxonomy that must abort a
// build: invalid configuration, manifest inconsistency or failed lookups.
func IsFatal(err error) bool {
	var invalid *InvalidConfigurationError
	var consistency *ManifestConsistencyError
	var lookup *LookupError
	return errors.As(err, &invalid) || errors.As(err, &consistency) || errors.As(err, &lookup)
}
