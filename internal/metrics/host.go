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

package metrics

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostCollector exports the process host's CPU, memory, and
// historian-data-directory disk usage as Prometheus gauges. The
// mediator process runs unattended on fixed hardware (spec.md's
// industrial-automation deployment model), so operators expect the
// same host metrics a SCADA supervisor would surface.
type HostCollector struct {
	dataDir string

	cpuPercent  *prometheus.Desc
	memPercent  *prometheus.Desc
	diskPercent *prometheus.Desc
}

// NewHostCollector constructs a collector reporting disk usage for
// dataDir, the historian's configured storage location.
func NewHostCollector(dataDir string) *HostCollector {
	return &HostCollector{
		dataDir:     dataDir,
		cpuPercent:  prometheus.NewDesc("mediator_host_cpu_percent", "Host CPU utilization percentage.", nil, nil),
		memPercent:  prometheus.NewDesc("mediator_host_memory_percent", "Host memory utilization percentage.", nil, nil),
		diskPercent: prometheus.NewDesc("mediator_host_disk_percent", "Disk utilization percentage for the historian data directory.", []string{"path"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (h *HostCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- h.cpuPercent
	ch <- h.memPercent
	ch <- h.diskPercent
}

// Collect implements prometheus.Collector. Sampling failures are
// silently skipped rather than panicking the scrape: a container
// without /proc visibility should still serve the rest of /metrics.
func (h *HostCollector) Collect(ch chan<- prometheus.Metric) {
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		ch <- prometheus.MustNewConstMetric(h.cpuPercent, prometheus.GaugeValue, pcts[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		ch <- prometheus.MustNewConstMetric(h.memPercent, prometheus.GaugeValue, vm.UsedPercent)
	}
	if h.dataDir != "" {
		if usage, err := disk.Usage(h.dataDir); err == nil {
			ch <- prometheus.MustNewConstMetric(h.diskPercent, prometheus.GaugeValue, usage.UsedPercent, h.dataDir)
		}
	}
}

// DiskSpaceCheck returns a diag.Check that fails once the data
// directory's disk usage exceeds maxPercent, so /healthz catches an
// about-to-fail historian write before it happens.
func DiskSpaceCheck(dataDir string, maxPercent float64) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		usage, err := disk.Usage(dataDir)
		if err != nil {
			return errors.Wrapf(err, "reading disk usage for %s", dataDir)
		}
		if usage.UsedPercent > maxPercent {
			return errors.Errorf("disk usage at %s is %.1f%%, exceeds %.1f%%", dataDir, usage.UsedPercent, maxPercent)
		}
		return nil
	}
}
