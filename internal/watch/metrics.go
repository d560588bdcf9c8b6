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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// watchEvents tracks fsnotify events received per subscription
	watchEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadwatch_watch_events_total",
			Help: "Total filesystem events by subscription and event type",
		},
		[]string{"subscription", "event"},
	)

	// watchActive tracks running subscriptions
	watchActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loadwatch_watch_active_subscriptions",
			Help: "Number of currently running watch subscriptions",
		},
	)

	// watchDirectories tracks registered directories per subscription
	watchDirectories = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loadwatch_watch_directories",
			Help: "Number of directories registered with the watcher by subscription",
		},
		[]string{"subscription"},
	)

	// watchRateLimited tracks dispatches dropped by the rate limiter
	watchRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadwatch_watch_rate_limited_total",
			Help: "Total rate-limited dispatches by subscription",
		},
		[]string{"subscription"},
	)

	// watchErrors tracks watcher and discovery errors
	watchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadwatch_watch_errors_total",
			Help: "Total watch errors by subscription and error type",
		},
		[]string{"subscription", "error_type"},
	)
)

func recordEvent(subscription, event string) {
	watchEvents.WithLabelValues(subscription, event).Inc()
}

func recordError(subscription, errorType string) {
	watchErrors.WithLabelValues(subscription, errorType).Inc()
}

func recordRateLimited(subscription string) {
	watchRateLimited.WithLabelValues(subscription).Inc()
}

func addDirectories(subscription string, delta int) {
	watchDirectories.WithLabelValues(subscription).Add(float64(delta))
}
