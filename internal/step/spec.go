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

package step

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	pwerrors "github.com/tombee/pipewright/pkg/errors"
)

// specHeader is the part of a step spec file the resolver cares about.
type specHeader struct {
	Name        string `yaml:"name"`
	Namespace   string `yaml:"namespace"`
	Type        string `yaml:"type"`
	Environment *struct {
		OS string `yaml:"os"`
	} `yaml:"environment"`
	Inputs  yaml.Node `yaml:"inputs"`
	Outputs yaml.Node `yaml:"outputs"`
}

// ParseSpec builds an instance from spec file content. Port order follows
// declaration order. A namespaced spec yields a "namespace://name" instance.
func ParseSpec(data []byte) (*Instance, error) {
	var hdr specHeader
	if err := yaml.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("failed to parse spec: %w", err)
	}
	if hdr.Name == "" {
		return nil, &pwerrors.ValidationError{Field: "name", Message: "step spec has no name"}
	}

	name := hdr.Name
	if hdr.Namespace != "" {
		name = hdr.Namespace + "://" + hdr.Name
	}
	typ := hdr.Type
	if typ == "" {
		typ = TypeCommand
	}
	var osName string
	if hdr.Environment != nil {
		osName = hdr.Environment.OS
	}

	inputs, err := portNames(&hdr.Inputs, "inputs")
	if err != nil {
		return nil, err
	}
	outputs, err := portNames(&hdr.Outputs, "outputs")
	if err != nil {
		return nil, err
	}
	return NewInstance(name, typ, osName, inputs, outputs), nil
}

// LoadSpec reads and parses the spec file at path.
func LoadSpec(path string) (*Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec %s: %w", path, err)
	}
	inst, err := ParseSpec(data)
	if err != nil {
		return nil, pwerrors.Wrapf(err, "spec %s", path)
	}
	return inst, nil
}

// portNames accepts either a mapping keyed by port name or a list of
// objects carrying a name field.
func portNames(node *yaml.Node, section string) ([]string, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
	case yaml.MappingNode:
		names := make([]string, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			names = append(names, node.Content[i].Value)
		}
		return names, nil
	case yaml.SequenceNode:
		names := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			var port struct {
				Name string `yaml:"name"`
			}
			if err := item.Decode(&port); err != nil || port.Name == "" {
				return nil, fmt.Errorf("line %d: every %s entry needs a name", item.Line, section)
			}
			names = append(names, port.Name)
		}
		return names, nil
	}
	return nil, fmt.Errorf("line %d: %s must be a mapping or a list", node.Line, section)
}
