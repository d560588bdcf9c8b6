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

// Command loadwatch watches a load directory and hot-loads the
// configuration, nested watches and archives dropped into it.
package main

import (
	"github.com/tombee/loadwatch/internal/cli"
	configcmd "github.com/tombee/loadwatch/internal/commands/config"
	"github.com/tombee/loadwatch/internal/commands/run"
	versioncmd "github.com/tombee/loadwatch/internal/commands/version"
)

// Set with -ldflags "-X main.version=..." at release time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	root := cli.NewRootCommand()
	root.AddCommand(
		run.NewCommand(),
		configcmd.NewConfigCommand(),
		versioncmd.NewVersionCommand(),
	)
	if err := root.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
