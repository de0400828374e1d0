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

package version

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tombee/pipewright/internal/commands/shared"
)

// VersionInfo contains version metadata
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Current returns the version of the running binary.
func Current() VersionInfo {
	v, c, b := shared.GetVersion()
	return VersionInfo{
		Version:   v,
		Commit:    c,
		BuildDate: b,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display version, commit hash and build date of pipewright. The version
is also recorded in the "pipewright" tag of every built pipeline.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := Current()
			out := cmd.OutOrStdout()

			if shared.GetJSON() {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(struct {
					shared.JSONResponse
					VersionInfo
				}{
					JSONResponse: shared.JSONResponse{Version: "1.0", Command: "version", Success: true},
					VersionInfo:  info,
				}); err != nil {
					return fmt.Errorf("failed to encode version info: %w", err)
				}
				return nil
			}

			shared.PrintKeyValues(out, "pipewright "+info.Version, []string{"commit", "build date", "go", "platform"}, map[string]string{
				"commit":     info.Commit,
				"build date": info.BuildDate,
				"go":         info.GoVersion,
				"platform":   info.Platform,
			})
			return nil
		},
	}
}
