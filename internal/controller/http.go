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
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const feedWriteTimeout = 10 * time.Second

type subscriptionJSON struct {
	Key         string `json:"key"`
	Owner       string `json:"owner,omitempty"`
	ID          string `json:"id"`
	Root        string `json:"root"`
	Directories int    `json:"directories"`
	Running     bool   `json:"running"`
}

// MuxOption configures NewMux.
type MuxOption func(*muxOptions)

type muxOptions struct {
	updates bool
}

// WithUpdates serves the websocket update stream on /updates. The stream
// carries configuration contents and has no authentication.
func WithUpdates() MuxOption {
	return func(o *muxOptions) { o.updates = true }
}

// NewMux serves Prometheus metrics on /metrics and the live subscriptions of
// c on /subscriptions. With WithUpdates it also streams configuration
// updates on /updates.
func NewMux(c *Controller, opts ...MuxOption) *http.ServeMux {
	var o muxOptions
	for _, opt := range opts {
		opt(&o)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /subscriptions", func(w http.ResponseWriter, _ *http.Request) {
		subs := c.Subscriptions()
		out := make([]subscriptionJSON, 0, len(subs))
		for _, s := range subs {
			out = append(out, subscriptionJSON{
				Key:         s.Key,
				Owner:       s.Owner,
				ID:          s.ID,
				Root:        s.Root,
				Directories: s.Directories,
				Running:     s.Running,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
	if o.updates {
		mux.Handle("GET /updates", &updatesHandler{c: c})
	}
	return mux
}

// loopback reports whether addr only accepts local connections.
func loopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type updatesHandler struct {
	c *Controller
}

func (h *updatesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	updates, cancel := h.c.Updates()
	defer cancel()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					// Controller shut down; unblock the read loop.
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
						time.Now().Add(time.Second))
					_ = conn.Close()
					return
				}
				if err := conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(u); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
