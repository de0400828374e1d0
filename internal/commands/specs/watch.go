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

package specs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/tombee/pipewright/internal/commands/shared"
	pwlog "github.com/tombee/pipewright/internal/log"
	"github.com/tombee/pipewright/internal/manifest"
	"github.com/tombee/pipewright/internal/profile"
	"github.com/tombee/pipewright/internal/runsettings"
	"github.com/tombee/pipewright/internal/step"
)

// Watcher reports changes to the spec files of local steps.
type Watcher struct {
	fs       *fsnotify.Watcher
	specs    map[string]string // spec path -> manifest key
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher watches the directories holding the spec of every local step.
// Directories are watched rather than files so that editors replacing the
// file on save are still seen.
func NewWatcher(m *manifest.Manifest, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		fs:       fsw,
		specs:    make(map[string]string),
		debounce: debounce,
		logger:   pwlog.WithComponent(pwlog.OrDiscard(logger), "watch"),
	}

	dirs := make(map[string]bool)
	for _, entry := range m.LocalEntries() {
		if entry.Spec == "" {
			continue
		}
		path := filepath.Clean(m.SpecPath(entry))
		w.specs[path] = entry.Key
		dirs[filepath.Dir(path)] = true
	}
	if len(w.specs) == 0 {
		fsw.Close()
		return nil, errors.New("no local step has a spec file")
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		w.logger.Debug("watching spec directory", slog.String("path", dir))
	}
	return w, nil
}

// Len returns the number of watched spec files.
func (w *Watcher) Len() int {
	return len(w.specs)
}

// Run calls onChange once per burst of writes to a watched spec, until ctx
// is done. onChange runs on the caller's goroutine.
func (w *Watcher) Run(ctx context.Context, onChange func(key, path string)) error {
	done := make(chan struct{})
	defer close(done)

	fire := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			path := filepath.Clean(event.Name)
			if _, watched := w.specs[path]; !watched {
				continue
			}
			if t, ok := timers[path]; ok {
				t.Stop()
			}
			timers[path] = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- path:
				case <-done:
				}
			})

		case path := <-fire:
			delete(timers, path)
			onChange(w.specs[path], path)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("spec watcher error", pwlog.Error(err))
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func newWatchCommand() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-resolve local steps when their spec changes",
		Long: `Watch the spec file of every local step and print the engine and
compute target each one resolves to whenever it is saved. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := shared.LoadEnv()
			if err != nil {
				return err
			}
			w, err := NewWatcher(env.Manifest, debounce, env.Logger)
			if err != nil {
				return shared.NewExecutionError("failed to watch specs", err)
			}
			defer w.Close()

			resolver := runsettings.New(env.Config, env.Manifest, env.Logger)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Watching %d spec(s) under %s", w.Len(), env.Manifest.StepsDir())))

			err = w.Run(cmd.Context(), func(key, path string) {
				reportChange(out, resolver, key, path)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "Wait this long after the last write before resolving")

	return cmd
}

func reportChange(w io.Writer, resolver *runsettings.Resolver, key, path string) {
	inst, err := step.LoadSpec(path)
	if err != nil {
		fmt.Fprintln(w, shared.RenderError(fmt.Sprintf("%s: %v", key, err)))
		return
	}
	category, err := resolver.Apply(key, inst, profile.Flags{}, runsettings.Options{})
	if err != nil {
		fmt.Fprintln(w, shared.RenderError(fmt.Sprintf("%s: %v", key, err)))
		return
	}
	fmt.Fprintf(w, "%s resolves to the %s engine %s\n", key, category,
		shared.RenderLabel(fmt.Sprintf("(target %v)", inst.RunSettings().Flatten()["target"])))
}
