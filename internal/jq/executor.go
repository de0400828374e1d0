// Package jq wraps gojq for the two things pipewright needs from it: running
// short queries against decoded YAML trees with a time limit, and resolving
// the dotted/bracket path expressions used by tenant override rules.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout is the default execution time for a query (1 second)
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the default maximum input size (10MB)
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Executor runs jq queries with timeout and size limits.
type Executor struct {
	timeout      time.Duration
	maxInputSize int64
}

// NewExecutor creates a new jq executor with the given configuration.
func NewExecutor(timeout time.Duration, maxInputSize int64) *Executor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}

	return &Executor{
		timeout:      timeout,
		maxInputSize: maxInputSize,
	}
}

// Variable binds a named jq variable ($name) for a single Run.
type Variable struct {
	Name  string
	Value any
}

// Run evaluates query against data and returns every emitted value.
// data is normalized first so trees decoded by yaml.v3 can be queried.
func (e *Executor) Run(ctx context.Context, query string, data any, vars ...Variable) ([]any, error) {
	data = Normalize(data)
	if err := e.validateInputSize(data); err != nil {
		return nil, err
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	names := make([]string, len(vars))
	values := make([]any, len(vars))
	for i, v := range vars {
		names[i] = "$" + v.Name
		values[i] = Normalize(v.Value)
	}

	code, err := gojq.Compile(parsed, gojq.WithVariables(names))
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		results []any
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		iter := code.RunWithContext(execCtx, data, values...)
		var results []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				done <- outcome{err: err}
				return
			}
			results = append(results, v)
		}
		done <- outcome{results: results}
	}()

	select {
	case out := <-done:
		return out.results, out.err
	case <-execCtx.Done():
		return nil, fmt.Errorf("execution timeout after %v", e.timeout)
	}
}

// Validate checks that query parses and compiles.
func (e *Executor) Validate(query string) error {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return fmt.Errorf("invalid jq expression: %w", err)
	}
	if _, err := gojq.Compile(parsed); err != nil {
		return fmt.Errorf("jq compilation failed: %w", err)
	}
	return nil
}

func (e *Executor) validateInputSize(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if int64(len(jsonData)) > e.maxInputSize {
		return fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)",
			len(jsonData), e.maxInputSize)
	}

	return nil
}

// Normalize converts a decoded YAML tree into the value shapes gojq accepts:
// map[string]any, []any, string, bool, int, float64 and nil.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case int64:
		return int(val)
	case int32:
		return int(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}
