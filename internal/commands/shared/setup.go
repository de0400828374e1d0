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

package shared

import (
	"io"
	"log/slog"
	"os"

	"github.com/tombee/pipewright/internal/config"
	"github.com/tombee/pipewright/internal/log"
	"github.com/tombee/pipewright/internal/manifest"
)

// Env bundles what most commands need: the loaded configuration, the
// step manifest built from it and a logger.
type Env struct {
	Config   *config.Config
	Manifest *manifest.Manifest
	Logger   *slog.Logger
}

// LoadEnv loads the configuration selected by --config and builds the
// manifest. Configuration failures exit with ExitInvalidConfig.
func LoadEnv() (*Env, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, NewInvalidConfigError("failed to load configuration", err)
	}
	logger := NewLogger(cfg, os.Stderr)
	m, err := manifest.New(cfg, logger)
	if err != nil {
		return nil, NewInvalidConfigError("failed to build step manifest", err)
	}
	return &Env{Config: cfg, Manifest: m, Logger: logger}, nil
}

// NewLogger creates the command logger. The log section of the config is
// the base; environment variables override it, and --verbose or --quiet
// override both.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	logCfg := log.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = log.Format(cfg.Log.Format)

	env := log.FromEnv()
	if os.Getenv("PIPEWRIGHT_DEBUG") != "" || os.Getenv("PIPEWRIGHT_LOG_LEVEL") != "" || os.Getenv("LOG_LEVEL") != "" {
		logCfg.Level = env.Level
	}
	if os.Getenv("LOG_FORMAT") != "" {
		logCfg.Format = env.Format
	}
	logCfg.AddSource = env.AddSource

	switch {
	case GetVerbose():
		logCfg.Level = "debug"
	case GetQuiet():
		logCfg.Level = "error"
	}
	logCfg.Output = w
	return log.New(logCfg)
}
