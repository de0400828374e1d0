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
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tombee/pipewright/internal/jq"
)

// ErrPathNotFound is returned when a path does not address an existing node.
var ErrPathNotFound = errors.New("path not found")

// Document is a spec file held as a YAML node tree, so that rewriting it
// keeps key order and comments of untouched fields.
type Document struct {
	root *yaml.Node
}

// ParseDocument parses spec file content.
func ParseDocument(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 {
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	return &Document{root: &root}, nil
}

// Tree decodes the document into plain maps, slices and scalars.
func (d *Document) Tree() (any, error) {
	var tree any
	if err := d.root.Decode(&tree); err != nil {
		return nil, err
	}
	return jq.Normalize(tree), nil
}

// Node returns the node addressed by path.
func (d *Document) Node(path jq.Path) (*yaml.Node, error) {
	n := d.top()
	for i, seg := range path {
		next, err := child(n, seg)
		if err != nil {
			return nil, fmt.Errorf("%w: %s (failed at %s)", ErrPathNotFound, path, path[:i+1])
		}
		n = next
	}
	return n, nil
}

// Set replaces the value of an existing node. It never creates keys.
func (d *Document) Set(path jq.Path, value any) error {
	n, err := d.Node(path)
	if err != nil {
		return err
	}
	var replacement yaml.Node
	if err := replacement.Encode(value); err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", path, err)
	}
	replacement.HeadComment = n.HeadComment
	replacement.LineComment = n.LineComment
	replacement.FootComment = n.FootComment
	*n = replacement
	return nil
}

// String returns the scalar string at path.
func (d *Document) String(path jq.Path) (string, bool) {
	n, err := d.Node(path)
	if err != nil || n.Kind != yaml.ScalarNode || n.Tag != "!!str" {
		return "", false
	}
	return n.Value, true
}

// Bytes encodes the document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Document) top() *yaml.Node {
	if d.root.Kind == yaml.DocumentNode && len(d.root.Content) > 0 {
		return d.root.Content[0]
	}
	return d.root
}

func child(n *yaml.Node, seg any) (*yaml.Node, error) {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	switch key := seg.(type) {
	case string:
		if n.Kind != yaml.MappingNode {
			return nil, ErrPathNotFound
		}
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				return n.Content[i+1], nil
			}
		}
	case int:
		if n.Kind != yaml.SequenceNode {
			return nil, ErrPathNotFound
		}
		if key >= 0 && key < len(n.Content) {
			return n.Content[key], nil
		}
	default:
		return nil, fmt.Errorf("unsupported path segment %s", strconv.Quote(fmt.Sprint(seg)))
	}
	return nil, ErrPathNotFound
}
