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

// Package errors defines the error taxonomy shared by the resolver, the spec
// patch engine and the CLI.
package errors

// UserVisibleError defines errors that should be displayed to end users
// with a readable message and an actionable suggestion.
type UserVisibleError interface {
	error

	// IsUserVisible returns true if this error should be shown to users.
	IsUserVisible() bool

	// UserMessage returns a user-friendly error message.
	UserMessage() string

	// Suggestion returns guidance for resolving the error, or "".
	Suggestion() string
}

var (
	_ UserVisibleError = (*ValidationError)(nil)
	_ UserVisibleError = (*InvalidConfigurationError)(nil)
	_ UserVisibleError = (*ManifestConsistencyError)(nil)
	_ UserVisibleError = (*LookupError)(nil)
)
