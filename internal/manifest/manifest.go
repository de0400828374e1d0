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

// Package manifest provides lookup of step catalog entries and decides which
// steps are sourced from local spec files and which from the registry.
package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/pipewright/internal/config"
	pwlog "github.com/tombee/pipewright/internal/log"
	pwerrors "github.com/tombee/pipewright/pkg/errors"
)

// NamespaceSeparator joins a namespace and a name in a qualified step name.
const NamespaceSeparator = "://"

// Entry is one immutable catalog entry.
type Entry struct {
	Key       string
	Name      string
	Namespace string
	// Spec is the spec file path as written in configuration.
	Spec    string
	Version string
	// Local is true when the step is built from its local spec file.
	Local bool
}

// QualifiedName returns "namespace://name", or the bare name without a namespace.
func (e Entry) QualifiedName() string {
	if e.Namespace == "" {
		return e.Name
	}
	return e.Namespace + NamespaceSeparator + e.Name
}

// Matches reports whether a step instance called name was built from this
// entry: either the bare name or the namespace qualified name must match.
func (e Entry) Matches(name string) bool {
	if e.Name == "" {
		return false
	}
	if e.Name == name {
		return true
	}
	return e.Namespace != "" && e.QualifiedName() == name
}

// Manifest is the file-backed catalog built from configuration.
type Manifest struct {
	entries  map[string]Entry
	order    []string
	stepsDir string

	// selection: "*" means all, otherwise patterns matched against keys
	allLocal  bool
	exceptFor bool
	patterns  []string

	forceDefaultVersion string
	forceAllVersion     string

	logger *slog.Logger
}

// New builds a Manifest from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Manifest, error) {
	logger = pwlog.OrDiscard(logger)
	if err := config.ValidateUseLocal(cfg.ModuleLoader.UseLocal); err != nil {
		return nil, &pwerrors.ConfigError{Key: "module_loader.use_local", Reason: "invalid syntax", Cause: err}
	}

	m := &Manifest{
		entries:             make(map[string]Entry),
		stepsDir:            cfg.ModuleLoader.LocalStepsFolder,
		forceDefaultVersion: cfg.ModuleLoader.ForceDefaultModuleVersion,
		forceAllVersion:     cfg.ModuleLoader.ForceAllModuleVersion,
		logger:              logger,
	}
	m.parseUseLocal(cfg.ModuleLoader.UseLocal)

	for i, raw := range cfg.Modules.Manifest {
		key := raw.Key
		if key == "" {
			key = raw.Name
		}
		if key == "" {
			return nil, &pwerrors.ConfigError{
				Key:    fmt.Sprintf("modules.manifest[%d]", i),
				Reason: "you have to provide at least key or name",
			}
		}
		if _, dup := m.entries[key]; dup {
			return nil, &pwerrors.ConfigError{
				Key:    fmt.Sprintf("modules.manifest[%d]", i),
				Reason: fmt.Sprintf("duplicate key %q", key),
			}
		}
		m.entries[key] = Entry{
			Key:       key,
			Name:      raw.Name,
			Namespace: raw.Namespace,
			Spec:      raw.Spec,
			Version:   raw.Version,
			Local:     m.selects(key),
		}
		m.order = append(m.order, key)
	}

	logger.Debug("manifest loaded",
		slog.String("use_local", cfg.ModuleLoader.UseLocal),
		slog.String("steps_dir", m.stepsDir),
		slog.Any("keys", m.order))
	return m, nil
}

func (m *Manifest) parseUseLocal(useLocal string) {
	trimmed := strings.TrimSpace(useLocal)
	switch trimmed {
	case "":
		return
	case "*":
		m.allLocal = true
		return
	}
	for _, item := range strings.Split(trimmed, ",") {
		item = strings.TrimSpace(item)
		if strings.HasPrefix(item, "!") {
			m.exceptFor = true
			item = strings.TrimPrefix(item, "!")
		}
		m.patterns = append(m.patterns, item)
	}
}

func (m *Manifest) selects(key string) bool {
	if m.allLocal {
		return true
	}
	matched := false
	for _, pattern := range m.patterns {
		if ok, err := doublestar.Match(pattern, key); err == nil && ok {
			matched = true
			break
		}
	}
	if m.exceptFor {
		return !matched
	}
	return matched
}

// Lookup returns the entry registered under key.
func (m *Manifest) Lookup(key string) (Entry, error) {
	entry, ok := m.entries[key]
	if !ok {
		return Entry{}, &pwerrors.LookupError{Resource: "step key", ID: key}
	}
	return entry, nil
}

// IsLocal reports whether the step under key is built from its local spec.
// Keys absent from the manifest are judged by the use_local selection alone.
func (m *Manifest) IsLocal(key string) bool {
	if entry, ok := m.entries[key]; ok {
		return entry.Local
	}
	return m.selects(key)
}

// AnyLocal reports whether use_local selects anything at all.
func (m *Manifest) AnyLocal() bool {
	return m.allLocal || m.exceptFor || len(m.patterns) > 0
}

// Keys returns manifest keys in declaration order.
func (m *Manifest) Keys() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Entries returns all entries in declaration order.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.entries[key])
	}
	return out
}

// LocalEntries returns the entries sourced from local spec files.
func (m *Manifest) LocalEntries() []Entry {
	var out []Entry
	for _, entry := range m.Entries() {
		if entry.Local {
			out = append(out, entry)
		}
	}
	return out
}

// KeyForName finds the key of the entry a step instance called name was
// built from.
func (m *Manifest) KeyForName(name string) (string, error) {
	for _, key := range m.order {
		if m.entries[key].Matches(name) {
			return key, nil
		}
	}
	return "", &pwerrors.LookupError{Resource: "step matching name", ID: name}
}

// StepsDir returns the folder local spec paths are relative to.
func (m *Manifest) StepsDir() string {
	return m.stepsDir
}

// SpecPath returns the on-disk location of an entry's spec file.
func (m *Manifest) SpecPath(entry Entry) string {
	if entry.Spec == "" || filepath.IsAbs(entry.Spec) {
		return entry.Spec
	}
	return filepath.Join(m.stepsDir, entry.Spec)
}

// Version returns the version a registered entry resolves to: the forced
// version for all steps, else the pinned one, else the forced default.
func (m *Manifest) Version(entry Entry) string {
	if m.forceAllVersion != "" {
		return m.forceAllVersion
	}
	if entry.Version != "" {
		return entry.Version
	}
	return m.forceDefaultVersion
}

// Verify checks every entry has what its sourcing requires: local steps need
// an existing spec file, registered steps need a name.
func (m *Manifest) Verify() []error {
	var errs []error
	for _, entry := range m.Entries() {
		if entry.Local {
			if entry.Spec == "" {
				errs = append(errs, fmt.Errorf("%s: a spec file (yaml) is required for a local step", entry.Key))
				continue
			}
			if _, err := os.Stat(m.SpecPath(entry)); err != nil {
				errs = append(errs, fmt.Errorf("%s: could not find spec %s: %w", entry.Key, m.SpecPath(entry), err))
			}
			continue
		}
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s: a name is required for a registered step", entry.Key))
		}
	}
	return errs
}
