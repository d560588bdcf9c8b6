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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// pseudoFilesystems never produce meaningful change events.
var pseudoFilesystems = []string{
	"/proc",
	"/sys",
	"/dev",
}

// NormalizePath normalizes a watch root by:
// - Expanding tilde (~) to home directory
// - Expanding environment variables
// - Converting to absolute path
// - Resolving symlinks
func NormalizePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}

	path = os.ExpandEnv(path)

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to resolve symlinks: %w", err)
		}
		resolvedPath = absPath
	}

	for _, blocked := range pseudoFilesystems {
		if resolvedPath == blocked || strings.HasPrefix(resolvedPath, blocked+string(filepath.Separator)) {
			return "", fmt.Errorf("path %s cannot be watched (matches %s)", resolvedPath, blocked)
		}
	}

	return resolvedPath, nil
}

// Depth returns how many directory levels path is below root.
// The root itself has depth 0. Paths outside root return -1.
func Depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return -1
	}
	if rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

// isWithin reports whether path is dir or below it.
func isWithin(dir, path string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}
