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
	"github.com/spf13/pflag"

	"github.com/tombee/loadwatch/internal/config"
)

type globalFlags struct {
	verbose    bool
	json       bool
	configPath string
}

type buildInfo struct {
	version, commit, date string
}

var (
	globals globalFlags
	build   = buildInfo{version: "dev", commit: "unknown", date: "unknown"}
)

// BindGlobalFlags registers --verbose, --json and --config on fs. The root
// command passes its persistent flag set.
func BindGlobalFlags(fs *pflag.FlagSet) {
	fs.BoolVarP(&globals.verbose, "verbose", "v", false, "Enable debug logging")
	fs.BoolVar(&globals.json, "json", false, "Output in JSON format")
	fs.StringVar(&globals.configPath, "config", "", "Path to config file (default: ~/.config/loadwatch/config.yaml)")
}

// ResetFlagsForTest clears the global flag values.
func ResetFlagsForTest() {
	globals = globalFlags{}
}

// SetVersion records build information; main calls it before Execute.
func SetVersion(version, commit, date string) {
	build = buildInfo{version: version, commit: commit, date: date}
}

// GetVersion returns version, commit and build date.
func GetVersion() (string, string, string) {
	return build.version, build.commit, build.date
}

func GetVerbose() bool { return globals.verbose }

func GetJSON() bool { return globals.json }

// GetConfigPath returns the --config value, empty when unset.
func GetConfigPath() string { return globals.configPath }

func SetConfigPathForTest(path string) { globals.configPath = path }

func SetJSONForTest(enabled bool) { globals.json = enabled }

// ResolveConfigPath returns the --config value, or the default config file
// if it exists, or "" to run on defaults and the environment.
func ResolveConfigPath() string {
	if globals.configPath != "" {
		return globals.configPath
	}
	return config.DefaultPath()
}
