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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dispatchTotal tracks classified file events by kind
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadwatch_dispatch_total",
			Help: "Total dispatched files by kind",
		},
		[]string{"kind"},
	)

	// dispatchErrors tracks files that could not be processed
	dispatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadwatch_dispatch_errors_total",
			Help: "Total dispatch failures by kind",
		},
		[]string{"kind"},
	)

	// consumerNotifications tracks deliveries to consumers
	consumerNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadwatch_consumer_notifications_total",
			Help: "Total consumer notifications by outcome",
		},
		[]string{"outcome"},
	)

	// deployments tracks deploy and undeploy operations
	deployments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadwatch_deployments_total",
			Help: "Total archive deployments by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	// feedDropped tracks updates discarded for slow feed subscribers
	feedDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loadwatch_update_feed_dropped_total",
			Help: "Total configuration updates dropped for slow feed subscribers",
		},
	)
)

const (
	kindKeyValue = "key_value"
	kindDocument = "document"
	kindArchive  = "archive"
)

func recordDispatch(kind string) {
	dispatchTotal.WithLabelValues(kind).Inc()
}

func recordDispatchError(kind string) {
	dispatchErrors.WithLabelValues(kind).Inc()
}

func recordNotification(outcome string) {
	consumerNotifications.WithLabelValues(outcome).Inc()
}

func recordDeployment(op, outcome string) {
	deployments.WithLabelValues(op, outcome).Inc()
}

func recordFeedDrop() {
	feedDropped.Inc()
}
