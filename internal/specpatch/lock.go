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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const (
	lockTimeout      = 5 * time.Second
	lockPollInterval = 50 * time.Millisecond
)

// Lock is an exclusive advisory lock on a steps folder. Builds rewriting
// the same checkout must not overlap.
type Lock struct {
	file *os.File
}

// AcquireLock locks stepsDir, polling until it is free for up to
// lockTimeout or until ctx is done.
func AcquireLock(ctx context.Context, stepsDir string) (*Lock, error) {
	dir := filepath.Join(stepsDir, JournalDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dir, "lock"), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &Lock{file: file}, nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EINTR) {
			file.Close()
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}

		select {
		case <-lockCtx.Done():
			file.Close()
			return nil, fmt.Errorf("steps folder %s is locked by another build (timeout after %v)", stepsDir, lockTimeout)
		case <-ticker.C:
		}
	}
}

// Release releases the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to release lock: %w", err)
	}
	err := l.file.Close()
	l.file = nil
	return err
}
