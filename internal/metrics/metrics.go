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

// Package metrics holds shared Prometheus bucket definitions and label
// names, so that every subsystem's histograms are comparable.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LatencyBuckets covers sub-millisecond to 30-second operations, wide
// enough for both in-memory variable-store updates and historian
// round trips.
var LatencyBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30,
}

// VariableLabels names the labels attached to per-variable histograms
// and counters.
var VariableLabels = []string{"module", "object", "variable"}

// ModuleLabels names the labels attached to per-module histograms and
// counters.
var ModuleLabels = []string{"module"}

// Registerer is the subset of prometheus.Registerer used outside this
// package, to keep call sites from depending on the concrete registry.
type Registerer = prometheus.Registerer
