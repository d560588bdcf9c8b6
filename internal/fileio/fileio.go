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

// Package fileio reads and writes the configuration file formats loadwatch
// understands: key/value property files and XML documents.
package fileio

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/antchfx/xmlquery"
	"github.com/magiconair/properties"

	lwerrors "github.com/tombee/loadwatch/pkg/errors"
)

// FileIO is the structured-file collaborator used by the controller.
type FileIO interface {
	ReadKeyValue(path string) (map[string]string, error)
	StoreKeyValue(path string, values map[string]string) error
	ReadDocument(path string) (*xmlquery.Node, error)
	WriteDocument(path string, doc *xmlquery.Node) error
}

// Local implements FileIO on the local filesystem.
type Local struct {
	// Encoding used for property files. Defaults to UTF-8.
	Encoding properties.Encoding
}

// New returns a Local reading property files as UTF-8.
func New() *Local {
	return &Local{Encoding: properties.UTF8}
}

// ReadKeyValue parses a property file into a flat map. ${} references are
// returned verbatim.
func (l *Local) ReadKeyValue(path string) (map[string]string, error) {
	loader := properties.Loader{
		Encoding:         l.Encoding,
		DisableExpansion: true,
	}
	p, err := loader.LoadFile(path)
	if err != nil {
		return nil, lwerrors.Wrapf(err, "failed to read properties %s", path)
	}
	return p.Map(), nil
}

// StoreKeyValue writes values as a property file with keys in sorted order.
// The file is written in place so that watchers observe a modification.
func (l *Local) StoreKeyValue(path string, values map[string]string) error {
	p := properties.NewProperties()
	p.DisableExpansion = true

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, _, err := p.Set(k, values[k]); err != nil {
			return lwerrors.Wrapf(err, "failed to set property %s", k)
		}
	}

	var buf bytes.Buffer
	if _, err := p.Write(&buf, l.Encoding); err != nil {
		return lwerrors.Wrap(err, "failed to encode properties")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return lwerrors.Wrapf(err, "failed to write properties %s", path)
	}
	return nil
}

// ReadDocument parses an XML document. A document without a root element
// is an error.
func (l *Local) ReadDocument(path string) (*xmlquery.Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, lwerrors.Wrapf(err, "failed to open document %s", path)
	}
	defer f.Close()

	doc, err := xmlquery.Parse(f)
	if err != nil {
		return nil, lwerrors.Wrapf(err, "failed to parse document %s", path)
	}
	if xmlquery.FindOne(doc, "/*") == nil {
		return nil, fmt.Errorf("failed to parse document %s: no root element", path)
	}
	return doc, nil
}

// WriteDocument serialises doc to path.
func (l *Local) WriteDocument(path string, doc *xmlquery.Node) error {
	if doc == nil {
		return lwerrors.New("document is nil")
	}
	if err := os.WriteFile(path, []byte(doc.OutputXML(true)), 0o644); err != nil {
		return lwerrors.Wrapf(err, "failed to write document %s", path)
	}
	return nil
}
