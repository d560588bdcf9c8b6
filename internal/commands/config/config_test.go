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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/loadwatch/internal/commands/shared"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func setFlags(t *testing.T, configPath string, json bool) {
	t.Helper()
	shared.SetConfigPathForTest(configPath)
	shared.SetJSONForTest(json)
	t.Cleanup(func() {
		shared.SetConfigPathForTest("")
		shared.SetJSONForTest(false)
	})
}

func run(t *testing.T, cmd *cobra.Command) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.Execute()
	return buf.String(), err
}

func TestConfigShow_YAML(t *testing.T) {
	path := writeConfig(t, "watch:\n  root: /srv/load\n")
	setFlags(t, path, false)

	out, err := run(t, newConfigShowCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "# Configuration: "+path)
	assert.Contains(t, out, "root: /srv/load")
	assert.Contains(t, out, "key_value: loadwatch.fileinstall")
}

func TestConfigShow_JSON(t *testing.T) {
	path := writeConfig(t, "watch:\n  root: /srv/load\n")
	setFlags(t, path, true)

	out, err := run(t, newConfigShowCommand())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &raw))
	watch, ok := raw["Watch"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/srv/load", watch["Root"])
}

func TestConfigShow_Invalid(t *testing.T) {
	setFlags(t, writeConfig(t, "log:\n  level: loud\n"), false)

	_, err := run(t, newConfigShowCommand())
	require.Error(t, err)
	assert.Equal(t, shared.ExitConfigError, shared.ExitCode(err))
}

func TestConfigPath(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	setFlags(t, "", false)

	out, err := run(t, newConfigPathCommand())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(xdg, "loadwatch", "config.yaml")+"\n", out)

	setFlags(t, "/etc/loadwatch.yaml", false)
	out, err = run(t, newConfigPathCommand())
	require.NoError(t, err)
	assert.Equal(t, "/etc/loadwatch.yaml\n", out)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name:    "valid",
			content: "watch:\n  root: ./load\nworkers:\n  max_concurrent: 4\n",
		},
		{
			name:    "invalid log level",
			content: "log:\n  level: loud\n",
			wantErr: true,
		},
		{
			name:    "extension in two classes",
			content: "extensions:\n  document: [xml]\n  archive: [xml]\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setFlags(t, writeConfig(t, tt.content), false)

			out, err := run(t, newConfigValidateCommand())
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, shared.ExitConfigError, shared.ExitCode(err))
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, "Configuration is valid")
		})
	}
}

func TestConfigValidate_JSON(t *testing.T) {
	setFlags(t, writeConfig(t, "log:\n  level: loud\n"), true)

	out, err := run(t, newConfigValidateCommand())
	require.Error(t, err)

	var result validationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Success)
	assert.Equal(t, "config validate", result.Command)
	assert.NotEmpty(t, result.Error)
}

func TestNewConfigCommand_Subcommands(t *testing.T) {
	cmd := NewConfigCommand()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"show", "path", "validate", "watch"}, names)
}
