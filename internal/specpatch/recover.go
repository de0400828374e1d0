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
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	pwlog "github.com/tombee/pipewright/internal/log"
)

// Recover drains the journal in reverse order, restoring every original
// spec and dependency file. With keep, each fully rewritten spec is first
// moved to a tenant-suffixed sibling (along with a copy of its additional
// includes) and its scrubbed dependency files stay in place for that copy
// to reference. Every transaction is attempted; failures are joined.
func (j *Journal) Recover(keep bool, logger *slog.Logger) error {
	logger = pwlog.WithTenant(pwlog.WithComponent(pwlog.OrDiscard(logger), "specpatch"), j.Tenant, j.Session)

	j.mu.Lock()
	entries := append([]*Transaction(nil), j.Entries...)
	j.mu.Unlock()

	logger.Info("reverting spec overrides",
		slog.Int("transactions", len(entries)),
		slog.Bool("keep_modified_files", keep))

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		txn := entries[i]
		if txn.Done() {
			continue
		}
		state, err := j.recoverOne(txn, keep, logger.With(slog.String(pwlog.StepKey, txn.StepKey)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", txn.SpecPath, err))
			continue
		}
		if err := j.update(txn, func(t *Transaction) { t.State = state }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (j *Journal) recoverOne(txn *Transaction, keep bool, logger *slog.Logger) (State, error) {
	// a pending rewrite may be partial, so it is never kept
	keepCopy := keep && txn.State == StateCommitted

	if keepCopy {
		kept := TenantPath(txn.SpecPath, j.Tenant)
		if err := moveFile(txn.SpecPath, kept); err != nil {
			return "", err
		}
		includes := strings.TrimSuffix(txn.SpecPath, filepath.Ext(txn.SpecPath)) + AdditionalIncludesExt
		if exists(includes) {
			if err := copyFile(includes, TenantPath(includes, j.Tenant)); err != nil {
				return "", fmt.Errorf("failed to copy additional includes: %w", err)
			}
		}
		logger.Info("kept overridden spec", slog.String("path", kept))
	} else {
		for _, env := range txn.EnvFiles {
			if err := os.Remove(env.NewPath); err != nil && !os.IsNotExist(err) {
				return "", fmt.Errorf("failed to remove %s: %w", env.NewPath, err)
			}
		}
	}

	if exists(txn.BackupPath) {
		if err := moveFile(txn.BackupPath, txn.SpecPath); err != nil {
			return "", err
		}
	} else if !exists(txn.SpecPath) {
		return "", fmt.Errorf("backup %s is missing", txn.BackupPath)
	}

	for _, env := range txn.EnvFiles {
		if !exists(env.BackupPath) {
			continue
		}
		if err := moveFile(env.BackupPath, env.OriginalPath); err != nil {
			return "", err
		}
	}

	if keepCopy {
		return StateKept, nil
	}
	logger.Info("restored original spec", slog.String(pwlog.SpecPathKey, txn.SpecPath))
	return StateRestored, nil
}
