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

package run

import (
	"github.com/spf13/cobra"

	"github.com/tombee/loadwatch/internal/commands/shared"
	"github.com/tombee/loadwatch/internal/controller"
)

// runner starts the daemon; replaced in tests.
var runner = controller.Run

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var (
		root        string
		deployDir   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the load directory until interrupted",
		Long: `Watch the load directory and deliver configuration files, meta-watcher
declarations and archives as they change.

Configuration is read from --config (or the XDG default), then from the
environment, then from the flags below. The process runs until SIGINT or
SIGTERM.`,
		Example: `  # Watch ./load with defaults
  loadwatch run

  # Watch another directory and expose Prometheus metrics
  loadwatch run --root /etc/loadwatch --metrics-addr 127.0.0.1:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, c, b := shared.GetVersion()
			opts := controller.RunOptions{
				Version:     v,
				Commit:      c,
				BuildDate:   b,
				ConfigPath:  shared.ResolveConfigPath(),
				Root:        root,
				DeployDir:   deployDir,
				MetricsAddr: metricsAddr,
			}
			if shared.GetVerbose() {
				opts.LogLevel = "debug"
			}

			if err := runner(opts); err != nil {
				if shared.ExitCode(err) == shared.ExitConfigError {
					return shared.NewConfigError("invalid configuration", err)
				}
				return shared.NewRuntimeError("loadwatch stopped with an error", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Directory watched by the default subscription")
	cmd.Flags().StringVar(&deployDir, "deploy-dir", "", "Directory archives are extracted into")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /subscriptions on this address")

	return cmd
}
