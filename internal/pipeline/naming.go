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

package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/spf13/cast"

	pwlog "github.com/tombee/pipewright/internal/log"
	pwerrors "github.com/tombee/pipewright/pkg/errors"
)

var experimentNameChars = regexp.MustCompile(`^[a-zA-Z0-9_-]*$`)

// ValidateExperimentName checks an experiment name: 1 to 250 characters,
// starting with a letter or digit, made of letters, digits, "_" and "-".
func ValidateExperimentName(name string) error {
	invalid := func(msg string) error {
		return &pwerrors.ValidationError{
			Field:   "run.experiment_name",
			Message: fmt.Sprintf("%s (got %q)", msg, name),
			Hint:    "use letters, numbers, underscore and dash only",
		}
	}
	if len(name) < 1 || len(name) > 250 {
		return invalid("experiment names must be between 1 and 250 characters")
	}
	c := name[0]
	if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
		return invalid("experiment names must start with a letter or a number")
	}
	if !experimentNameChars.MatchString(name) {
		return invalid("experiment names must only contain letters, numbers, underscore and dash")
	}
	return nil
}

// ParseTags reads run tags given as a JSON object string or a mapping.
// Invalid tags are logged and ignored.
func ParseTags(raw any, logger *slog.Logger) map[string]string {
	logger = pwlog.OrDiscard(logger)
	tags := make(map[string]string)

	var m any
	switch v := raw.(type) {
	case nil:
		return tags
	case string:
		if v == "" {
			return tags
		}
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			logger.Warn("pipeline tags are not a valid JSON object string", slog.String("tags", v), pwlog.Error(err))
			return tags
		}
	default:
		m = v
	}

	parsed, err := cast.ToStringMapStringE(m)
	if err != nil {
		logger.Warn("pipeline tags are not a mapping or a JSON object string", slog.Any("tags", raw), pwlog.Error(err))
		return tags
	}
	for k, v := range parsed {
		tags[k] = v
	}
	return tags
}
