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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/loadwatch/internal/consumer"
	lwerrors "github.com/tombee/loadwatch/pkg/errors"
)

func TestSubscriptionRegistry(t *testing.T) {
	r := newSubscriptionRegistry()
	r.put("default", "", nil)
	r.put("doc/b", "doc", nil)
	r.put("doc/a", "doc", nil)
	r.put("kv", "kv", nil)

	assert.Equal(t, []string{"doc/a", "doc/b"}, r.ownedBy("doc"))
	assert.Equal(t, []string{"kv"}, r.ownedBy("kv"))
	assert.Empty(t, r.ownedBy("other"))

	_, ok := r.remove("kv")
	assert.True(t, ok)
	_, ok = r.remove("kv")
	assert.False(t, ok)

	drained := r.drain()
	assert.Len(t, drained, 3)
	assert.Equal(t, "doc", drained["doc/a"].owner)
	assert.Empty(t, r.snapshot())
}

func TestConsumerRegistry(t *testing.T) {
	r := newConsumerRegistry()
	a := &recordingConsumer{}
	b := &recordingConsumer{}

	assert.True(t, r.add("k", a))
	assert.False(t, r.add("k", a), "duplicate")
	assert.True(t, r.add("k", b))
	assert.Equal(t, []consumer.Consumer{a, b}, r.get("k"))

	held := r.get("k")
	assert.True(t, r.remove("k", a))
	assert.Len(t, held, 2, "loaded slices are not modified")
	assert.Equal(t, []consumer.Consumer{b}, r.get("k"))

	assert.False(t, r.remove("k", a))
	assert.False(t, r.remove("missing", a))
	_, ok := r.consumers.Load("missing")
	assert.False(t, ok)

	assert.True(t, r.remove("k", b))
	_, ok = r.consumers.Load("k")
	assert.False(t, ok, "empty sets are pruned")

	r.add("x", a)
	r.clear()
	assert.Nil(t, r.get("x"))
}

func TestConsumerRegistry_FuncConsumers(t *testing.T) {
	r := newConsumerRegistry()
	f := consumer.Func(func(context.Context, *consumer.Configuration) error { return nil })

	require.True(t, r.add("k", &f))
	assert.False(t, r.add("k", &f))
	assert.True(t, r.remove("k", &f))
}

type sliceConsumer []string

func (sliceConsumer) Updated(context.Context, *consumer.Configuration) error { return nil }

type holderConsumer struct{ v any }

func (holderConsumer) Updated(context.Context, *consumer.Configuration) error { return nil }

func TestController_RegisterConsumerRejectsUncomparable(t *testing.T) {
	h := newHarness(t)

	var verr *lwerrors.ValidationError
	require.ErrorAs(t, h.c.RegisterConsumer("k", sliceConsumer{"a"}), &verr)
	require.ErrorAs(t, h.c.RegisterConsumer("k", sliceConsumer{"b"}), &verr)
	assert.Empty(t, h.c.consumers.get("k"))

	require.NoError(t, h.c.RegisterConsumer("k", holderConsumer{v: []string{"a"}}))
	require.NoError(t, h.c.RegisterConsumer("k", holderConsumer{v: []string{"b"}}))
	assert.Len(t, h.c.consumers.get("k"), 2)
	h.c.DeregisterConsumer("k", holderConsumer{v: []string{"a"}})
	assert.Len(t, h.c.consumers.get("k"), 2)
}

func TestController_FollowConsumersSurvivesUncomparable(t *testing.T) {
	h := newHarness(t)
	h.write("load/k.properties", "v=1\n")
	h.start()

	assert.Error(t, h.tracker.Register("k", sliceConsumer{"a"}))
	cons := &recordingConsumer{}
	require.NoError(t, h.tracker.Register("k", cons))

	require.Eventually(t, func() bool { return len(cons.received()) == 1 }, waitFor, tick)
}
