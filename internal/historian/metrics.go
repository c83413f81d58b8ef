// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

package historian

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ifak-eu/mediator/internal/metrics"
)

var (
	workItemDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "historian_work_item_duration_seconds",
		Help:    "the length of time it took a historian worker to execute a work item",
		Buckets: metrics.LatencyBuckets,
	}, []string{"database", "kind"})

	workItemErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "historian_work_item_errors_total",
		Help: "the number of historian work items that failed",
	}, []string{"database", "kind"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "historian_queue_depth",
		Help: "the number of work items currently queued for a historian database",
	}, []string{"database"})

	appendCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "historian_append_coalesced_total",
		Help: "the number of Append work items merged into another Append by the queue discipline",
	}, []string{"database"})
)
