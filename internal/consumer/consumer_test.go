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

package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lwerrors "github.com/tombee/loadwatch/pkg/errors"
)

func TestKeyFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/watch/a.properties", "a"},
		{"/watch/com.example.app.cfg", "com.example.app"},
		{"/watch/sub/watchers.xml", "watchers"},
		{"/watch/noext", "noext"},
		{"/watch/.hidden", ".hidden"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyFromPath(tt.path))
		})
	}
}

func TestNewProperties_StampsModTime(t *testing.T) {
	mod := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	props := map[string]string{"k": "v"}

	cfg := NewProperties("a", "/watch/a.properties", props, mod)

	assert.Equal(t, "a", cfg.Key)
	assert.Equal(t, "v", cfg.Properties["k"])
	assert.Equal(t, "2024-03-01T12:30:00Z", cfg.Properties[LastModifiedProperty])
	assert.False(t, cfg.Removed)
	assert.NotContains(t, props, LastModifiedProperty, "input map must not be modified")
}

func TestNewDocument(t *testing.T) {
	doc, err := xmlquery.Parse(stringsReader(`<root><item>1</item></root>`))
	require.NoError(t, err)

	cfg := NewDocument("doc", "/watch/doc.xml", doc, time.Unix(0, 0))

	require.NotNil(t, cfg.Document)
	assert.Equal(t, "1", xmlquery.FindOne(cfg.Document, "//item").InnerText())
	v, ok := cfg.Get(LastModifiedProperty)
	assert.True(t, ok)
	assert.Equal(t, "1970-01-01T00:00:00Z", v)
}

func TestTombstone(t *testing.T) {
	cfg := Tombstone("a", "/watch/a.properties")
	assert.True(t, cfg.Removed)
	assert.Nil(t, cfg.Properties)
}

func TestClone_IsIndependent(t *testing.T) {
	orig := NewProperties("a", "/watch/a.properties", map[string]string{"k": "v"}, time.Now())

	clone := orig.Clone()
	clone.Properties["k"] = "changed"

	assert.Equal(t, "v", orig.Properties["k"])
	assert.Nil(t, (*Configuration)(nil).Clone())

	_, ok := (*Configuration)(nil).Get("k")
	assert.False(t, ok)
}

func TestFunc(t *testing.T) {
	var got *Configuration
	f := Func(func(_ context.Context, cfg *Configuration) error {
		got = cfg
		return nil
	})

	var c Consumer = &f
	cfg := Tombstone("a", "")
	require.NoError(t, c.Updated(context.Background(), cfg))
	assert.Same(t, cfg, got)
}

type listConsumer []string

func (listConsumer) Updated(context.Context, *Configuration) error { return nil }

type boxConsumer struct{ inner any }

func (boxConsumer) Updated(context.Context, *Configuration) error { return nil }

func TestValidate(t *testing.T) {
	f := Func(func(context.Context, *Configuration) error { return nil })

	assert.NoError(t, Validate(&f))
	assert.NoError(t, Validate(boxConsumer{inner: 1}))

	var verr *lwerrors.ValidationError
	require.ErrorAs(t, Validate(nil), &verr)
	assert.Equal(t, "consumer", verr.Field)

	require.ErrorAs(t, Validate(listConsumer{"a"}), &verr)
	assert.Contains(t, verr.Message, "not comparable")
	assert.NotEmpty(t, verr.Suggestion)
}

func TestSame(t *testing.T) {
	a := boxConsumer{inner: 1}
	assert.True(t, Same(a, boxConsumer{inner: 1}))
	assert.False(t, Same(a, boxConsumer{inner: 2}))

	// Comparable type whose dynamic contents are not.
	x := boxConsumer{inner: []string{"x"}}
	assert.False(t, Same(x, boxConsumer{inner: []string{"x"}}))
	assert.False(t, Same(listConsumer{"a"}, listConsumer{"a"}))
}
