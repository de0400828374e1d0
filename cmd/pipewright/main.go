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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/pipewright/internal/cli"
	"github.com/tombee/pipewright/internal/commands/build"
	"github.com/tombee/pipewright/internal/commands/completion"
	configcmd "github.com/tombee/pipewright/internal/commands/config"
	"github.com/tombee/pipewright/internal/commands/override"
	"github.com/tombee/pipewright/internal/commands/resolve"
	"github.com/tombee/pipewright/internal/commands/specs"
	versioncmd "github.com/tombee/pipewright/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(resolve.NewCommand())
	rootCmd.AddCommand(build.NewCommand())
	rootCmd.AddCommand(override.NewCommand())
	rootCmd.AddCommand(specs.NewCommand())
	rootCmd.AddCommand(configcmd.NewCommand())
	rootCmd.AddCommand(versioncmd.NewVersionCommand())
	rootCmd.AddCommand(completion.NewCommand())

	// An interrupted build still restores overridden specs: Run drains the
	// journal after the context is cancelled.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		cli.HandleExitError(err)
	}
}
