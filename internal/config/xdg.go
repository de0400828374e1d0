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

package config

import (
	"os"
	"path/filepath"
)

// ProjectConfigName is the file looked up in the working directory before
// falling back to the XDG location.
const ProjectConfigName = "pipewright.yaml"

// ConfigDir returns the XDG config directory for pipewright.
// Respects XDG_CONFIG_HOME, otherwise ~/.config/pipewright.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "pipewright"), nil
}

// DefaultPath returns the config file used when --config is not given:
// ./pipewright.yaml if present, else <ConfigDir>/config.yaml if present,
// else "" (built-in defaults only).
func DefaultPath() string {
	if _, err := os.Stat(ProjectConfigName); err == nil {
		return ProjectConfigName
	}
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}
