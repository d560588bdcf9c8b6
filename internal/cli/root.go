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

package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tombee/loadwatch/internal/commands/shared"
	"github.com/tombee/loadwatch/internal/log"
)

// SetVersion records build information for the version and run commands.
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand builds the loadwatch root command. Subcommands are added by
// main.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loadwatch",
		Short: "loadwatch - hot-load configuration from watched directories",
		Long: `loadwatch watches a directory tree and turns the files dropped into it
into configuration deliveries, nested watches and archive deployments.

Key/value files (.properties, .cfg) and XML documents are parsed and handed
to the consumers registered for the file's base name. Files in the reserved
meta-watcher namespaces declare further directories to watch. Archives
(.jar, .zip) are extracted into the deploy directory.

Run 'loadwatch run' to start watching.`,
		SilenceUsage:     true,
		SilenceErrors:    true,
		PersistentPreRun: installBootstrapLogger,
	}
	shared.BindGlobalFlags(cmd.PersistentFlags())
	return cmd
}

// installBootstrapLogger sets the default logger from the environment until
// a command loads its own configuration.
func installBootstrapLogger(_ *cobra.Command, _ []string) {
	cfg := log.FromEnv()
	if shared.GetVerbose() {
		cfg.Level = "debug"
	}
	slog.SetDefault(log.New(cfg))
}

// HandleExitError prints err and exits with the matching code.
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
