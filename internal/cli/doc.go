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

// Package cli assembles the loadwatch command line.
//
// The root command owns the persistent flags shared by every subcommand
// (--verbose, --json and --config) and installs an environment-driven
// default logger before any subcommand runs. The subcommands themselves
// live under internal/commands:
//
//	loadwatch run       watch the load directory until interrupted
//	loadwatch config    show, locate or validate the configuration
//	loadwatch version   print build information
//
// Errors surface through HandleExitError, which exits 1 for runtime
// failures and 2 for configuration problems.
package cli
