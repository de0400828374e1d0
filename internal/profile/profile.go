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

// Package profile decides which execution engine a step runs on.
package profile

import (
	"fmt"
	"log/slog"
	"strings"

	pwlog "github.com/tombee/pipewright/internal/log"
	"github.com/tombee/pipewright/internal/step"
)

// TriState is a flag that is explicitly on, explicitly off, or inferred.
// It implements pflag.Value.
type TriState int

const (
	Auto TriState = iota
	True
	False
)

// String implements pflag.Value.
func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "auto"
	}
}

// Set implements pflag.Value.
func (t *TriState) Set(s string) error {
	v, err := ParseTriState(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Type implements pflag.Value.
func (t *TriState) Type() string {
	return "auto|true|false"
}

// ParseTriState parses "auto", "true" or "false" ("" means auto).
func ParseTriState(s string) (TriState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "true", "yes", "1":
		return True, nil
	case "false", "no", "0":
		return False, nil
	}
	return Auto, fmt.Errorf("invalid value %q: expected auto, true or false", s)
}

// Of converts a bool to an explicit TriState.
func Of(b bool) TriState {
	if b {
		return True
	}
	return False
}

func (t TriState) resolve(inferred bool) bool {
	switch t {
	case True:
		return true
	case False:
		return false
	default:
		return inferred
	}
}

// Flags are the caller's engine requests. The zero value infers everything
// from the step type.
type Flags struct {
	Spark    TriState
	Windows  TriState
	Parallel TriState
	MPI      TriState
	Query    TriState
	Transfer TriState
	Sweep    TriState

	// GPU has no auto mode: it is only ever requested.
	GPU bool
}

// Category is the engine a step resolves to.
type Category string

const (
	CategoryParallel Category = "parallel"
	CategorySweep    Category = "sweep"
	CategoryWindows  Category = "windows"
	CategorySpark    Category = "spark"
	CategoryQuery    Category = "query"
	CategoryTransfer Category = "transfer"
	CategoryLinux    Category = "linux"
)

// Profile holds the resolved engine flags for one step.
type Profile struct {
	Spark    bool
	Windows  bool
	Parallel bool
	MPI      bool
	Query    bool
	Transfer bool
	Sweep    bool
	GPU      bool
}

// Category applies the fixed engine precedence.
func (p Profile) Category() Category {
	switch {
	case p.Parallel:
		return CategoryParallel
	case p.Sweep:
		return CategorySweep
	case p.Windows:
		return CategoryWindows
	case p.Spark:
		return CategorySpark
	case p.Query:
		return CategoryQuery
	case p.Transfer:
		return CategoryTransfer
	default:
		return CategoryLinux
	}
}

// Detect resolves every Auto flag from the step's type tag and OS. Explicit
// flags are never overridden.
func Detect(s step.Step, flags Flags, logger *slog.Logger) Profile {
	logger = pwlog.OrDiscard(logger)
	typ := s.StepType()

	infer := func(name string, t TriState, inferred bool) bool {
		if t == Auto && inferred {
			logger.Info("detected engine from step type",
				slog.String("step", s.StepName()),
				slog.String("engine", name),
				slog.String("type", typ))
		}
		return t.resolve(inferred)
	}

	// these categories carry no execution environment
	noEnv := typ == step.TypeSpark || typ == step.TypeQuery ||
		typ == step.TypeDataTransfer || typ == step.TypeSweep

	return Profile{
		Spark:    infer("spark", flags.Spark, typ == step.TypeSpark),
		Windows:  infer("windows", flags.Windows, !noEnv && step.IsWindows(s)),
		Parallel: infer("parallel", flags.Parallel, typ == step.TypeParallel),
		MPI:      infer("mpi", flags.MPI, typ == step.TypeDistributed),
		Query:    infer("query", flags.Query, typ == step.TypeQuery),
		Transfer: infer("transfer", flags.Transfer, typ == step.TypeDataTransfer),
		Sweep:    infer("sweep", flags.Sweep, typ == step.TypeSweep),
		GPU:      flags.GPU,
	}
}
