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

package watch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Setenv("LOADWATCH_TEST_DIR", "/test/path")

	tests := []struct {
		name        string
		path        string
		want        string
		wantErr     bool
		errContains string
	}{
		{
			name: "absolute path",
			path: "/nonexistent/watch",
			want: "/nonexistent/watch",
		},
		{
			name: "tilde expansion",
			path: "~/loadwatch-nonexistent",
			want: filepath.Join(home, "loadwatch-nonexistent"),
		},
		{
			name: "environment variable expansion",
			path: "$LOADWATCH_TEST_DIR/load",
			want: "/test/path/load",
		},
		{
			name: "cleans dot segments",
			path: "/nonexistent/a/../b/./c",
			want: "/nonexistent/b/c",
		},
		{
			name:        "empty path",
			path:        "",
			wantErr:     true,
			errContains: "cannot be empty",
		},
		{
			name:        "pseudo filesystem",
			path:        "/proc/self",
			wantErr:     true,
			errContains: "cannot be watched",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePath_ResolvesSymlinks(t *testing.T) {
	tmp, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	target := filepath.Join(tmp, "target")
	link := filepath.Join(tmp, "link")
	require.NoError(t, os.Mkdir(target, 0o755))
	require.NoError(t, os.Symlink(target, link))

	got, err := NormalizePath(link)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestDepth(t *testing.T) {
	root := filepath.FromSlash("/watch")

	tests := []struct {
		path string
		want int
	}{
		{"/watch", 0},
		{"/watch/a", 1},
		{"/watch/a/b/c", 3},
		{"/other", -1},
		{"/watcher/a", -1},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Depth(root, filepath.FromSlash(tt.path)))
		})
	}
}

func TestIsWithin(t *testing.T) {
	assert.True(t, isWithin("/watch/a", "/watch/a"))
	assert.True(t, isWithin("/watch/a", "/watch/a/b"))
	assert.False(t, isWithin("/watch/a", "/watch/ab"))
	assert.False(t, isWithin("/watch/a", "/watch"))
}
