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

package specpatch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/pipewright/internal/jq"
)

func TestDocumentSet(t *testing.T) {
	doc, err := ParseDocument([]byte("# head\nb: 1\na:\n  list: [x, y] # keep me\n"))
	require.NoError(t, err)

	require.NoError(t, doc.Set(jq.Path{"a", "list", 1}, "z"))
	require.NoError(t, doc.Set(jq.Path{"b"}, map[string]any{"nested": true}))
	assert.ErrorIs(t, doc.Set(jq.Path{"a", "nope"}, 1), ErrPathNotFound)
	assert.ErrorIs(t, doc.Set(jq.Path{"a", "list", 5}, 1), ErrPathNotFound)
	assert.ErrorIs(t, doc.Set(jq.Path{"b", 0}, 1), ErrPathNotFound)

	tree, err := doc.Tree()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"b": map[string]any{"nested": true},
		"a": map[string]any{"list": []any{"x", "z"}},
	}, tree)

	out, err := doc.Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(out), "# head")
	assert.Contains(t, string(out), "# keep me")
	// key order is preserved
	assert.Less(t, strings.Index(string(out), "b:"), strings.Index(string(out), "a:"))
}

func TestDocumentString(t *testing.T) {
	doc, err := ParseDocument([]byte("env:\n  file: conda.yaml\n  count: 3\n"))
	require.NoError(t, err)

	v, ok := doc.String(jq.Path{"env", "file"})
	assert.True(t, ok)
	assert.Equal(t, "conda.yaml", v)

	_, ok = doc.String(jq.Path{"env", "count"})
	assert.False(t, ok)
	_, ok = doc.String(jq.Path{"env", "missing"})
	assert.False(t, ok)
}

func TestEmptyDocument(t *testing.T) {
	doc, err := ParseDocument(nil)
	require.NoError(t, err)
	tree, err := doc.Tree()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, tree)
}

func TestExpandTemplate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`dev.azurecr.io/\1`, `dev.azurecr.io/${1}`},
		{`\1-\2`, `${1}-${2}`},
		{`\g<tag>:latest`, `${tag}:latest`},
		{`cost$5`, `cost$$5`},
		{`a\\b`, `a\b`},
		{`plain`, `plain`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandTemplate(tt.in), tt.in)
	}
}

func TestScrubLines(t *testing.T) {
	out, found := scrubLines("numpy\n" + RestrictedIndexURL + "\n  - " + RestrictedIndexURL + "\npandas")
	assert.True(t, found)
	assert.Equal(t, "numpy\npandas", out)

	out, found = scrubLines("numpy\n")
	assert.False(t, found)
	assert.Equal(t, "numpy\n", out)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/s/spec.yaml.not_used", BackupPath("/s/spec.yaml"))
	assert.Equal(t, "/s/spec_contoso.yaml", TenantPath("/s/spec.yaml", "contoso"))
	assert.Equal(t, "/s/spec_contoso.additional_includes", TenantPath("/s/spec.additional_includes", "contoso"))
}
