package jq

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Path is a parsed path expression. Each element is either a string (object
// key) or an int (array index).
type Path []any

// lookupQuery returns a one-element array holding the value at $p, or emits
// nothing when any segment of $p is absent. Wrapping the value keeps an
// explicit null distinguishable from a missing key.
const lookupQuery = `try (
  if ($p | length) == 0 then [.]
  else
    getpath($p[:-1]) as $parent
    | if (($parent | type) == "object" and ($p[-1] | type) == "string" and ($parent | has($p[-1])))
         or (($parent | type) == "array" and ($p[-1] | type) == "number" and $p[-1] >= 0 and $p[-1] < ($parent | length))
      then [$parent[$p[-1]]]
      else empty
      end
  end
) catch empty`

// ParsePath parses an absolute path expression such as "$.environment.os",
// "inputs[0].name", "$['environment']['docker']" or "a.b".
// A leading "$" is optional.
func ParsePath(expr string) (Path, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("empty path expression")
	}
	s = strings.TrimPrefix(s, "$")

	var path Path
	i := 0
	expectKey := !strings.HasPrefix(s, ".") && !strings.HasPrefix(s, "[")
	for i < len(s) {
		switch {
		case s[i] == '.':
			i++
			expectKey = true
		case s[i] == '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("path %q: unterminated bracket", expr)
			}
			inner := strings.TrimSpace(s[i+1 : i+end])
			seg, err := bracketSegment(inner)
			if err != nil {
				return nil, fmt.Errorf("path %q: %w", expr, err)
			}
			path = append(path, seg)
			i += end + 1
			expectKey = false
		default:
			if !expectKey {
				return nil, fmt.Errorf("path %q: unexpected %q at offset %d", expr, s[i], i)
			}
			j := i
			for j < len(s) && s[j] != '.' && s[j] != '[' {
				j++
			}
			path = append(path, s[i:j])
			i = j
			expectKey = false
		}
	}
	if expectKey && len(path) > 0 {
		return nil, fmt.Errorf("path %q: trailing dot", expr)
	}
	return path, nil
}

func bracketSegment(inner string) (any, error) {
	if inner == "" {
		return nil, fmt.Errorf("empty brackets")
	}
	if q := inner[0]; q == '\'' || q == '"' {
		if len(inner) < 2 || inner[len(inner)-1] != q {
			return nil, fmt.Errorf("unterminated quoted key %s", inner)
		}
		return inner[1 : len(inner)-1], nil
	}
	if inner == "*" {
		return nil, fmt.Errorf("wildcards are not supported")
	}
	n, err := strconv.Atoi(inner)
	if err != nil {
		return nil, fmt.Errorf("invalid index %q", inner)
	}
	return n, nil
}

// Join returns a new path with extra appended.
func (p Path) Join(extra Path) Path {
	out := make(Path, 0, len(p)+len(extra))
	out = append(out, p...)
	return append(out, extra...)
}

// String renders the path in canonical "$.a.b[0]" form.
func (p Path) String() string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range p {
		switch v := seg.(type) {
		case int:
			fmt.Fprintf(&b, "[%d]", v)
		case string:
			if strings.ContainsAny(v, ".[]") {
				fmt.Fprintf(&b, "[%q]", v)
			} else {
				b.WriteString(".")
				b.WriteString(v)
			}
		}
	}
	return b.String()
}

// Find returns the value at path inside data. found is false when any
// segment of the path does not exist.
func (e *Executor) Find(ctx context.Context, data any, path Path) (value any, found bool, err error) {
	results, err := e.Run(ctx, lookupQuery, data, Variable{Name: "p", Value: []any(path)})
	if err != nil {
		return nil, false, err
	}
	if len(results) == 0 {
		return nil, false, nil
	}
	wrapped, ok := results[0].([]any)
	if !ok || len(wrapped) != 1 {
		return nil, false, fmt.Errorf("unexpected lookup result %T", results[0])
	}
	return wrapped[0], true, nil
}

// FindExpr parses expr and calls Find.
func (e *Executor) FindExpr(ctx context.Context, data any, expr string) (any, bool, error) {
	path, err := ParsePath(expr)
	if err != nil {
		return nil, false, err
	}
	return e.Find(ctx, data, path)
}
