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

package override

import (
	"github.com/spf13/cobra"
)

// NewCommand creates the override command with subcommands.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Manage tenant spec overrides",
		Long: `Manage tenant spec overrides of locally built steps.

A build rewrites the spec of every local step with the rule set mapped to
the current tenant and restores the originals when it finishes. These
commands run the two halves separately and recover specs left behind by an
interrupted build.

Every override pass records its changes in a journal under
<steps folder>/.pipewright; the journal is removed once every spec is
restored.`,
	}

	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newApplyCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newRecoverCommand())

	return cmd
}
