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

package controller

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"

	lwerrors "github.com/tombee/loadwatch/pkg/errors"
)

// definitionPath selects <watcher> elements and the older <watchservice>
// spelling, in document order.
const definitionPath = "//*[local-name()='watcher' or local-name()='watchservice']"

// watcherDefinition is one watcher element of a meta-watcher document.
type watcherDefinition struct {
	Name               string
	Root               string
	FilterType         string
	Patterns           []string
	MaxEventsPerMinute int
}

// parseDefinitions extracts every watcher definition from doc. A definition
// missing a required field is reported and skipped; its siblings are still
// returned.
func parseDefinitions(doc *xmlquery.Node) ([]watcherDefinition, []error) {
	var (
		defs []watcherDefinition
		errs []error
	)

	for i, node := range xmlquery.Find(doc, definitionPath) {
		def, err := parseDefinition(node)
		if err != nil {
			errs = append(errs, fmt.Errorf("watcher %d: %w", i+1, err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, errs
}

func parseDefinition(node *xmlquery.Node) (watcherDefinition, error) {
	def := watcherDefinition{
		Name: strings.TrimSpace(node.SelectAttr("name")),
		Root: attr(node, "root", "relativePath"),
	}
	if def.Name == "" {
		return def, &lwerrors.ValidationError{Field: "name", Message: "watcher name is missing"}
	}
	if strings.Contains(def.Name, "/") {
		return def, &lwerrors.ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("watcher name %q must not contain '/'", def.Name),
		}
	}
	if def.Root == "" {
		return def, &lwerrors.ValidationError{
			Field:      "root",
			Message:    fmt.Sprintf("root of watcher %q is missing", def.Name),
			Suggestion: "add a root attribute with the directory to watch",
		}
	}

	filterNode := xmlquery.FindOne(node, "filter")
	if filterNode == nil {
		return def, &lwerrors.ValidationError{Field: "filter", Message: fmt.Sprintf("filter of watcher %q is missing", def.Name)}
	}
	def.FilterType = attr(filterNode, "type")
	if def.FilterType == "" {
		def.FilterType = filterIDFromClass(attr(filterNode, "class"))
	}
	if def.FilterType == "" {
		return def, &lwerrors.ValidationError{
			Field:      "filter.type",
			Message:    fmt.Sprintf("filter type of watcher %q is missing", def.Name),
			Suggestion: "use one of default, glob, expr or jq",
		}
	}

	for _, p := range xmlquery.Find(filterNode, "patterns/pattern") {
		if pattern := strings.TrimSpace(p.InnerText()); pattern != "" {
			def.Patterns = append(def.Patterns, pattern)
		}
	}

	if raw := strings.TrimSpace(node.SelectAttr("maxEventsPerMinute")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return def, &lwerrors.ValidationError{
				Field:   "maxEventsPerMinute",
				Message: fmt.Sprintf("invalid value %q for watcher %q", raw, def.Name),
			}
		}
		def.MaxEventsPerMinute = n
	}

	return def, nil
}

// attr returns the first non-empty attribute among names.
func attr(node *xmlquery.Node, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(node.SelectAttr(name)); v != "" {
			return v
		}
	}
	return ""
}

// filterIDFromClass maps a class-style filter reference such as
// "com.example.filter.GlobFileFilter" to the filter id "glob".
func filterIDFromClass(class string) string {
	name := class[strings.LastIndex(class, ".")+1:]
	return strings.ToLower(strings.TrimSuffix(name, "FileFilter"))
}
