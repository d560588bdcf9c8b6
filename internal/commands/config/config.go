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

package config

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/loadwatch/internal/commands/shared"
	"github.com/tombee/loadwatch/internal/config"
)

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and validate configuration",
		Long: `View and validate loadwatch configuration.

Subcommands:
  show     - Display the effective configuration
  path     - Show config file location
  validate - Check the configuration without starting
  watch    - Declare a nested watch in the watch root`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(newConfigValidateCommand())
	cmd.AddCommand(newConfigWatchCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = runConfigShow

	return cmd
}

// newConfigShowCommand creates the 'config show' subcommand
func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration loadwatch would run with: defaults, then the
config file, then environment variables.

Use --json for machine-readable output.`,
		RunE: runConfigShow,
	}
}

// newConfigPathCommand creates the 'config path' subcommand
func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		RunE:  runConfigPath,
	}
}

// newConfigValidateCommand creates the 'config validate' subcommand
func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration",
		RunE:  runConfigValidate,
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path := shared.ResolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return shared.NewConfigError("failed to load config", err)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, cfg)
	}
	return outputConfigYAML(out, path, cfg)
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path := shared.GetConfigPath()
	if path == "" {
		var err error
		path, err = config.ConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// validationResult is the JSON output of config validate
type validationResult struct {
	shared.JSONResponse
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := shared.ResolveConfigPath()
	_, err := config.Load(path)

	if shared.GetJSON() {
		result := validationResult{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "config validate", Success: err == nil},
			Path:         path,
		}
		if err != nil {
			result.Error = err.Error()
		}
		if emitErr := shared.EmitJSON(cmd.OutOrStdout(), result); emitErr != nil {
			return emitErr
		}
	}

	if err != nil {
		return shared.NewConfigError("configuration is invalid", err)
	}
	if !shared.GetJSON() {
		if path == "" {
			path = "defaults"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%s)\n", path)
	}
	return nil
}

func outputConfigYAML(w io.Writer, path string, cfg *config.Config) error {
	if path == "" {
		path = "defaults"
	}
	fmt.Fprintf(w, "# Configuration: %s\n", path)

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return encoder.Close()
}
