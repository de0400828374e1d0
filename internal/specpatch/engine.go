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

// Package specpatch rewrites local step spec files for a tenant before a
// build and restores them afterwards.
//
// Every rewrite is recorded in a Journal before the original file is
// touched. Draining the journal with Recover puts every recorded file back,
// whether the override pass finished or failed halfway.
package specpatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tombee/pipewright/internal/config"
	"github.com/tombee/pipewright/internal/jq"
	pwlog "github.com/tombee/pipewright/internal/log"
	"github.com/tombee/pipewright/internal/manifest"
	pwerrors "github.com/tombee/pipewright/pkg/errors"
)

// BackupSuffix is appended to the name of a file while it is inactive.
const BackupSuffix = ".not_used"

// AdditionalIncludesExt is the extension of the file listing extra sources
// shipped with a spec.
const AdditionalIncludesExt = ".additional_includes"

// Target is one step whose spec may be rewritten.
type Target struct {
	Key      string
	SpecPath string
	// Local is false for registered steps, which are never touched.
	Local bool
}

// TargetsFromManifest lists every manifest entry as a Target.
func TargetsFromManifest(m *manifest.Manifest) []Target {
	entries := m.Entries()
	targets := make([]Target, 0, len(entries))
	for _, e := range entries {
		targets = append(targets, Target{Key: e.Key, SpecPath: m.SpecPath(e), Local: e.Local})
	}
	return targets
}

// Config configures an Engine.
type Config struct {
	// Tenant suffixes new dependency files and kept spec copies.
	Tenant string
	// StepsDir holds the persisted journal. Empty keeps the journal in memory.
	StepsDir string
	// Session names the journal. Generated when empty.
	Session string
}

// Engine applies tenant rules to spec files.
type Engine struct {
	cfg    Config
	exec   *jq.Executor
	logger *slog.Logger
}

// New creates an Engine.
func New(cfg Config, logger *slog.Logger) *Engine {
	if cfg.Session == "" {
		cfg.Session = uuid.NewString()
	}
	logger = pwlog.WithTenant(pwlog.WithComponent(pwlog.OrDiscard(logger), "specpatch"), cfg.Tenant, cfg.Session)
	return &Engine{
		cfg:    cfg,
		exec:   jq.NewExecutor(0, 0),
		logger: logger,
	}
}

// Session returns the session identifier of the engine's journal.
func (e *Engine) Session() string {
	return e.cfg.Session
}

// Report summarizes one rewritten spec.
type Report struct {
	Key      string
	SpecPath string
	Rules    []RuleResult
	EnvFiles int
}

// Apply rewrites the spec of every local target with rules. The returned
// journal is never nil and must be drained with Recover, also when an error
// is returned: it holds every spec touched before the failure.
//
// Apply refuses to start with ErrUnrecovered while a journal under StepsDir
// still has transactions to recover, and refuses any spec whose backup
// already exists.
func (e *Engine) Apply(ctx context.Context, targets []Target, rules config.TenantRules) (*Journal, []Report, error) {
	var journalPath string
	if e.cfg.StepsDir != "" {
		journalPath = JournalPath(e.cfg.StepsDir, e.cfg.Session)
	}
	journal := newJournal(journalPath, e.cfg.Session, e.cfg.Tenant)

	if e.cfg.StepsDir != "" {
		if err := CheckUnrecovered(e.cfg.StepsDir); err != nil {
			return journal, nil, err
		}
	}

	var reports []Report
	for _, t := range targets {
		logger := pwlog.WithStep(e.logger, t.Key)
		if !t.Local {
			logger.Info("step uses the registered copy, skipping overrides")
			continue
		}
		if err := ctx.Err(); err != nil {
			return journal, reports, err
		}

		report, err := e.patch(ctx, journal, t, rules, logger.With(slog.String(pwlog.SpecPathKey, t.SpecPath)))
		if err != nil {
			return journal, reports, &pwerrors.PatchError{Op: "override", Path: t.SpecPath, Cause: err}
		}
		reports = append(reports, report)
	}
	return journal, reports, nil
}

func (e *Engine) patch(ctx context.Context, journal *Journal, t Target, rules config.TenantRules, logger *slog.Logger) (Report, error) {
	report := Report{Key: t.Key, SpecPath: t.SpecPath}

	original, err := os.ReadFile(t.SpecPath)
	if err != nil {
		return report, fmt.Errorf("failed to read spec: %w", err)
	}

	// the backup must exist before the transaction is recorded and before
	// anything is written
	txn := &Transaction{
		StepKey:    t.Key,
		SpecPath:   t.SpecPath,
		BackupPath: BackupPath(t.SpecPath),
		State:      StatePending,
	}
	if err := backupFile(t.SpecPath, txn.BackupPath); err != nil {
		return report, fmt.Errorf("failed to back up spec: %w", err)
	}
	if err := journal.append(txn); err != nil {
		return report, err
	}
	logger.Info("spec backed up", slog.String("backup", txn.BackupPath))

	doc, err := ParseDocument(original)
	if err != nil {
		return report, fmt.Errorf("failed to parse spec: %w", err)
	}

	report.Rules, err = applyRules(ctx, e.exec, doc, rules.Rules, logger)
	if err != nil {
		return report, err
	}

	if rules.RemoveRestrictedIndex {
		n, err := e.scrub(journal, txn, doc, logger)
		if err != nil {
			return report, err
		}
		report.EnvFiles = n
	}

	data, err := doc.Bytes()
	if err != nil {
		return report, fmt.Errorf("failed to encode spec: %w", err)
	}
	if err := writeFileAtomic(t.SpecPath, data); err != nil {
		return report, err
	}
	if err := journal.update(txn, func(t *Transaction) { t.State = StateCommitted }); err != nil {
		return report, err
	}
	logger.Info("spec overridden", slog.Int("rules", len(rules.Rules)), slog.Int("env_files", report.EnvFiles))
	return report, nil
}

// scrub removes the restricted index from the dependency files a spec
// references. Each change is recorded before any file is written.
func (e *Engine) scrub(journal *Journal, txn *Transaction, doc *Document, logger *slog.Logger) (int, error) {
	specDir := filepath.Dir(txn.SpecPath)
	changed := 0

	for _, field := range dependencyFileFields {
		ref, ok := doc.String(field)
		if !ok {
			continue
		}
		change, newRef, scrubbed, err := planEnvFile(specDir, ref, e.cfg.Tenant)
		if err != nil {
			return changed, err
		}
		if change == nil {
			logger.Debug("dependency file has no restricted index", slog.String("file", ref))
			continue
		}
		if exists(change.BackupPath) {
			return changed, fmt.Errorf("backup %s already exists: %w", change.BackupPath, ErrUnrecovered)
		}

		if err := journal.update(txn, func(t *Transaction) { t.EnvFiles = append(t.EnvFiles, *change) }); err != nil {
			return changed, err
		}
		if err := writeFileAtomic(change.NewPath, scrubbed); err != nil {
			return changed, err
		}
		if err := backupMove(change.OriginalPath, change.BackupPath); err != nil {
			return changed, err
		}
		if err := doc.Set(field, newRef); err != nil {
			return changed, err
		}
		logger.Info("removed restricted index from dependency file",
			slog.String("file", ref),
			slog.String("new_file", newRef))
		changed++
	}

	if n := scrubInline(doc); n > 0 {
		logger.Info("removed restricted index from inline pip dependencies", slog.Int("entries", n))
	}
	return changed, nil
}

// BackupPath returns the inactive sibling a file is backed up to. The
// extension is kept so files sharing a stem never share a backup.
func BackupPath(path string) string {
	return path + BackupSuffix
}

// TenantPath inserts "_<tenant>" before the extension of path.
func TenantPath(path, tenant string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + tenant + ext
}
