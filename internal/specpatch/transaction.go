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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// State is the lifecycle state of a Transaction.
type State string

const (
	// StatePending means the backup exists and the original may be partly
	// rewritten. Recovery restores the backup.
	StatePending State = "pending"
	// StateCommitted means the rewritten spec is fully written.
	StateCommitted State = "committed"
	// StateRestored means the original spec is back in place.
	StateRestored State = "restored"
	// StateKept means the original is back and the rewrite was kept under a
	// tenant-suffixed name.
	StateKept State = "kept"
)

// Transaction records everything needed to undo the rewrite of one spec.
type Transaction struct {
	StepKey    string          `yaml:"step_key"`
	SpecPath   string          `yaml:"spec_path"`
	BackupPath string          `yaml:"backup_path"`
	EnvFiles   []EnvFileChange `yaml:"env_files,omitempty"`
	State      State           `yaml:"state"`
}

// EnvFileChange records one scrubbed dependency file.
type EnvFileChange struct {
	// OriginalPath is where the dependency file lived and returns to.
	OriginalPath string `yaml:"original_path"`
	// BackupPath is where the original was moved while the rewrite is live.
	BackupPath string `yaml:"backup_path"`
	// NewPath is the scrubbed, tenant-suffixed copy the spec points at.
	NewPath string `yaml:"new_path"`
}

// Done reports whether the transaction needs no further recovery.
func (t *Transaction) Done() bool {
	return t.State == StateRestored || t.State == StateKept
}

// Journal is the ordered list of transactions of one override session. It
// is persisted after every change so a later process can drain it.
type Journal struct {
	mu sync.Mutex

	Session   string         `yaml:"session"`
	Tenant    string         `yaml:"tenant"`
	CreatedAt time.Time      `yaml:"created_at"`
	Entries   []*Transaction `yaml:"transactions"`

	path string
}

// JournalDir is the directory under the steps folder holding journals.
const JournalDir = ".pipewright"

// JournalPath returns where the journal of session is stored.
func JournalPath(stepsDir, session string) string {
	return filepath.Join(stepsDir, JournalDir, "journal-"+session+".yaml")
}

func newJournal(path, session, tenant string) *Journal {
	return &Journal{
		Session:   session,
		Tenant:    tenant,
		CreatedAt: time.Now().UTC(),
		path:      path,
	}
}

// LoadJournal reads a journal written by a previous process.
func LoadJournal(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	j := &Journal{path: path}
	if err := yaml.Unmarshal(data, j); err != nil {
		return nil, fmt.Errorf("failed to parse journal %s: %w", path, err)
	}
	return j, nil
}

// FindJournals lists the journals left under stepsDir.
func FindJournals(stepsDir string) ([]string, error) {
	return filepath.Glob(filepath.Join(stepsDir, JournalDir, "journal-*.yaml"))
}

// ErrUnrecovered means an earlier override session left specs rewritten.
// Its backups hold the only copy of the originals, so no new session may
// start until 'pipewright override recover' has drained it.
var ErrUnrecovered = errors.New("unrecovered spec overrides")

// CheckUnrecovered returns ErrUnrecovered when any journal under stepsDir
// still has transactions awaiting recovery. An unreadable journal counts
// as unrecovered.
func CheckUnrecovered(stepsDir string) error {
	paths, err := FindJournals(stepsDir)
	if err != nil {
		return fmt.Errorf("failed to list journals: %w", err)
	}
	for _, path := range paths {
		j, err := LoadJournal(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnrecovered, err)
		}
		if n := j.Pending(); n > 0 {
			return fmt.Errorf("%w: journal %s has %d transaction(s) to recover, run 'pipewright override recover' first",
				ErrUnrecovered, path, n)
		}
	}
	return nil
}

// Path returns where the journal is persisted, "" when it is memory only.
func (j *Journal) Path() string {
	return j.path
}

// Transactions returns a snapshot of the recorded transactions.
func (j *Journal) Transactions() []Transaction {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Transaction, len(j.Entries))
	for i, t := range j.Entries {
		out[i] = *t
		out[i].EnvFiles = append([]EnvFileChange(nil), t.EnvFiles...)
	}
	return out
}

// Len returns the number of recorded transactions.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.Entries)
}

// Pending returns the number of transactions still awaiting recovery.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, t := range j.Entries {
		if !t.Done() {
			n++
		}
	}
	return n
}

func (j *Journal) append(t *Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Entries = append(j.Entries, t)
	transactionsTotal.WithLabelValues(string(t.State)).Inc()
	return j.saveLocked()
}

// update runs fn on t under the journal lock and persists the result.
func (j *Journal) update(t *Transaction, fn func(*Transaction)) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	before := t.State
	fn(t)
	if t.State != before {
		transactionsTotal.WithLabelValues(string(t.State)).Inc()
	}
	return j.saveLocked()
}

// saveLocked persists the journal; a journal with nothing left to recover
// is removed instead.
func (j *Journal) saveLocked() error {
	if j.path == "" {
		return nil
	}
	done := true
	for _, t := range j.Entries {
		if !t.Done() {
			done = false
			break
		}
	}
	if done {
		if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove journal: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	return writeYAMLAtomic(j.path, j)
}
