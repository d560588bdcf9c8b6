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
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/spf13/cobra"

	"github.com/tombee/loadwatch/internal/commands/shared"
	"github.com/tombee/loadwatch/internal/config"
	"github.com/tombee/loadwatch/internal/fileio"
	lwerrors "github.com/tombee/loadwatch/pkg/errors"
)

// watchRequest describes a nested subscription to declare in the watch root.
type watchRequest struct {
	Name       string
	Dir        string
	Patterns   []string
	FilterType string
	Document   bool
}

// watchResult is the JSON output of config watch
type watchResult struct {
	shared.JSONResponse
	Path string `json:"path"`
	Key  string `json:"key"`
}

func newConfigWatchCommand() *cobra.Command {
	var req watchRequest

	cmd := &cobra.Command{
		Use:   "watch <name>",
		Short: "Declare a nested watch in the watch root",
		Long: `Write a meta-watcher file into the watch root. A running loadwatch picks
it up and starts watching --dir with the given patterns.

By default a key/value file is written. --document writes a watcher
definition document instead, which also accepts --filter-type.`,
		Example: `  loadwatch config watch conf --dir ./conf --pattern '**/*.properties'
  loadwatch config watch xml --dir ./xml --pattern '**/*.xml' --document --filter-type glob`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]

			cfg, err := config.Load(shared.ResolveConfigPath())
			if err != nil {
				return shared.NewConfigError("failed to load config", err)
			}
			path, key, err := writeWatch(cfg, fileio.New(), req)
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), watchResult{
					JSONResponse: shared.JSONResponse{Version: "1.0", Command: "config watch", Success: true},
					Path:         path,
					Key:          key,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (subscription %s)\n", path, key)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Dir, "dir", "", "Directory to watch, relative to base_dir unless absolute")
	cmd.Flags().StringArrayVar(&req.Patterns, "pattern", nil, "Pattern to accept (repeatable)")
	cmd.Flags().StringVar(&req.FilterType, "filter-type", "default", "Filter id for --document")
	cmd.Flags().BoolVar(&req.Document, "document", false, "Write a watcher definition document")
	_ = cmd.MarkFlagRequired("dir")
	_ = cmd.MarkFlagRequired("pattern")

	return cmd
}

// writeWatch stores the meta-watcher file for req and returns its path and
// the key of the subscription it declares.
func writeWatch(cfg *config.Config, fio fileio.FileIO, req watchRequest) (string, string, error) {
	if err := req.validate(); err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(cfg.Watch.Root, 0o755); err != nil {
		return "", "", lwerrors.Wrapf(err, "failed to create watch root %s", cfg.Watch.Root)
	}

	if req.Document {
		base := cfg.Namespaces.Document + "-" + req.Name
		path := filepath.Join(cfg.Watch.Root, base+"."+extension(cfg.Extensions.Document, "xml"))
		if err := fio.WriteDocument(path, definitionDocument(req)); err != nil {
			return "", "", err
		}
		return path, base + "/" + req.Name, nil
	}

	key := cfg.Namespaces.KeyValue + "-" + req.Name
	path := filepath.Join(cfg.Watch.Root, key+"."+extension(cfg.Extensions.KeyValue, "cfg"))
	err := fio.StoreKeyValue(path, map[string]string{
		cfg.Namespaces.DirProperty:    req.Dir,
		cfg.Namespaces.FilterProperty: strings.Join(req.Patterns, ","),
	})
	if err != nil {
		return "", "", err
	}
	return path, key, nil
}

func (r watchRequest) validate() error {
	if r.Name == "" || strings.ContainsAny(r.Name, `/\`) || strings.HasPrefix(r.Name, ".") {
		return &lwerrors.ValidationError{
			Field:      "name",
			Message:    fmt.Sprintf("invalid watch name %q", r.Name),
			Suggestion: "use a plain name such as conf or xml",
		}
	}
	if strings.TrimSpace(r.Dir) == "" {
		return &lwerrors.ValidationError{Field: "dir", Message: "directory is required"}
	}
	for _, p := range r.Patterns {
		if strings.TrimSpace(p) == "" {
			return &lwerrors.ValidationError{Field: "pattern", Message: "patterns must not be empty"}
		}
		if !r.Document && strings.Contains(p, ",") {
			return &lwerrors.ValidationError{
				Field:      "pattern",
				Message:    fmt.Sprintf("pattern %q contains a comma", p),
				Suggestion: "use --document for patterns that need commas",
			}
		}
	}
	if len(r.Patterns) == 0 {
		return &lwerrors.ValidationError{Field: "pattern", Message: "at least one pattern is required"}
	}
	return nil
}

// extension picks preferred when the classification knows it, else the
// first configured extension.
func extension(exts []string, preferred string) string {
	if len(exts) == 0 || slices.Contains(exts, preferred) {
		return preferred
	}
	return exts[0]
}

func definitionDocument(req watchRequest) *xmlquery.Node {
	doc := &xmlquery.Node{Type: xmlquery.DocumentNode}
	decl := &xmlquery.Node{Type: xmlquery.DeclarationNode, Data: "xml"}
	xmlquery.AddAttr(decl, "version", "1.0")
	xmlquery.AddChild(doc, decl)

	watchers := element(doc, "watchers")
	watcher := element(watchers, "watcher")
	watcher.SetAttr("name", req.Name)
	watcher.SetAttr("root", req.Dir)

	f := element(watcher, "filter")
	f.SetAttr("type", req.FilterType)
	patterns := element(f, "patterns")
	for _, p := range req.Patterns {
		xmlquery.AddChild(element(patterns, "pattern"), &xmlquery.Node{Type: xmlquery.TextNode, Data: p})
	}
	return doc
}

func element(parent *xmlquery.Node, name string) *xmlquery.Node {
	n := &xmlquery.Node{Type: xmlquery.ElementNode, Data: name}
	xmlquery.AddChild(parent, n)
	return n
}
