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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/loadwatch/internal/log"
)

func TestNewMux_Subscriptions(t *testing.T) {
	h := newHarness(t)
	h.start()

	srv := httptest.NewServer(NewMux(h.c))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/subscriptions")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var subs []subscriptionJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&subs))
	require.Len(t, subs, 1)
	assert.Equal(t, DefaultKey, subs[0].Key)
	assert.Equal(t, h.root, subs[0].Root)
	assert.NotEmpty(t, subs[0].ID)
}

func TestNewMux_Metrics(t *testing.T) {
	h := newHarness(t)
	h.start()

	rec := httptest.NewRecorder()
	NewMux(h.c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "loadwatch_watch_active_subscriptions")
}

func TestNewMux_MethodNotAllowed(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	NewMux(h.c).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/subscriptions", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewMux_UpdatesDisabledByDefault(t *testing.T) {
	h := newHarness(t)
	rec := httptest.NewRecorder()
	NewMux(h.c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/updates", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoopback(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:9090", true},
		{"[::1]:9090", true},
		{"localhost:9090", true},
		{":9090", false},
		{"0.0.0.0:9090", false},
		{"10.1.2.3:9090", false},
		{"9090", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, loopback(tt.addr))
		})
	}
}

func TestNewMux_UpdatesStream(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(NewMux(h.c, WithUpdates()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/updates"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	path := h.write("load/a.properties", "k=v\n")
	h.c.OnFileChanged(context.Background(), path)
	h.c.OnFileDeleted(context.Background(), path)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))

	var u Update
	require.NoError(t, conn.ReadJSON(&u))
	assert.Equal(t, "a", u.Key)
	assert.Equal(t, path, u.Source)
	assert.False(t, u.Removed)
	assert.Equal(t, "v", u.Properties["k"])

	require.NoError(t, conn.ReadJSON(&u))
	assert.Equal(t, "a", u.Key)
	assert.True(t, u.Removed)
}

func TestNewMux_UpdatesStreamThroughLoggingMiddleware(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(log.NewHTTPMiddleware(nil).Wrap(NewMux(h.c, WithUpdates())))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/updates"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	path := h.write("load/b.cfg", "x=1\n")
	h.c.OnFileChanged(context.Background(), path)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	var u Update
	require.NoError(t, conn.ReadJSON(&u))
	assert.Equal(t, "b", u.Key)
}

func TestNewMux_UpdatesStreamClosesOnShutdown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Start(context.Background()))
	srv := httptest.NewServer(NewMux(h.c, WithUpdates()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/updates"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.c.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
