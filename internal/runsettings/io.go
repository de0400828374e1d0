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
	"log/slog"

	pwlog "github.com/tombee/pipewright/internal/log"
	"github.com/tombee/pipewright/internal/step"
)

// SetAllInputs applies mode to every input of s.
func SetAllInputs(s step.Step, mode string, logger *slog.Logger) {
	logger = pwlog.OrDiscard(logger)
	for _, in := range s.Inputs() {
		in.Configure(mode, "")
		logger.Info("configured input", slog.String("input", in.Name), slog.String("mode", mode))
	}
}

// SetAllOutputs applies mode and datastore to every output of s. An empty
// mode keeps each output's current mode; the datastore is always set.
func SetAllOutputs(s step.Step, mode, datastore string, logger *slog.Logger) {
	logger = pwlog.OrDiscard(logger)
	for _, out := range s.Outputs() {
		out.Configure(mode, datastore)
		logger.Info("configured output",
			slog.String("output", out.Name),
			slog.String("mode", mode),
			slog.String("datastore", datastore))
	}
}
