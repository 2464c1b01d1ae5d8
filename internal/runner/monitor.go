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

package runner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const bytesPerGB = 1 << 30

// Monitor samples the resource usage of a running job: CPU time and memory
// summed over the runner process and its descendants, plus on-disk bytes
// beneath the processing directory. Sampling failures are logged and
// swallowed; the monitor never influences the order outcome.
type Monitor struct {
	orderID       string
	pid           int32
	processingDir string
	interval      time.Duration
	logger        *slog.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once

	start        time.Time
	baseCPU      float64
	peakDiskGB   float64
	peakRSSBytes uint64
	peakVMSBytes uint64
	lastCPU      float64
}

// NewMonitor creates a monitor for the process tree rooted at pid.
func NewMonitor(orderID string, pid int32, processingDir string, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		orderID:       orderID,
		pid:           pid,
		processingDir: processingDir,
		interval:      interval,
		logger:        logger,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the sampling loop.
func (m *Monitor) Start(ctx context.Context) {
	m.start = time.Now()
	m.baseCPU, _, _, _ = m.sampleProcesses(ctx)
	m.logger.Info("resources monitor running", "order_id", m.orderID)

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample(ctx)
			}
		}
	}()
}

// Stop takes a final sample and emits the summary event.
func (m *Monitor) Stop(ctx context.Context) {
	m.once.Do(func() {
		close(m.stop)
		<-m.done

		m.sample(ctx)
		wall := time.Since(m.start).Round(time.Second)
		m.logger.Info("processing resources summary",
			"order_id", m.orderID,
			"wall_time", wall.String(),
			"peak_disk_gb", fmt.Sprintf("%.2f", m.peakDiskGB),
			"peak_rss_bytes", m.peakRSSBytes,
			"peak_vms_bytes", m.peakVMSBytes,
			"cpu_time_s", fmt.Sprintf("%.2f", m.lastCPU-m.baseCPU),
		)
	})
}

// sample records one data point, updating the peaks.
func (m *Monitor) sample(ctx context.Context) {
	cpu, rss, vms, err := m.sampleProcesses(ctx)
	if err != nil {
		m.logger.Debug("resources monitor process sample failed",
			"order_id", m.orderID, "error", err)
	} else {
		m.lastCPU = cpu
		if rss > m.peakRSSBytes {
			m.peakRSSBytes = rss
		}
		if vms > m.peakVMSBytes {
			m.peakVMSBytes = vms
		}
	}

	diskGB := diskUsageGB(m.processingDir)
	if diskGB > m.peakDiskGB {
		m.peakDiskGB = diskGB
	}
	m.logger.Info("disk usage",
		"order_id", m.orderID, "disk_gb", fmt.Sprintf("%.2f", diskGB))
}

// sampleProcesses sums CPU time and memory over the process tree.
func (m *Monitor) sampleProcesses(ctx context.Context) (cpu float64, rss, vms uint64, err error) {
	root, err := process.NewProcessWithContext(ctx, m.pid)
	if err != nil {
		return 0, 0, 0, err
	}

	procs := []*process.Process{root}
	if children, err := root.ChildrenWithContext(ctx); err == nil {
		procs = append(procs, children...)
	}

	for _, p := range procs {
		if times, err := p.TimesWithContext(ctx); err == nil {
			cpu += times.User + times.System
		}
		if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
			rss += mem.RSS
			vms += mem.VMS
		}
	}
	return cpu, rss, vms, nil
}

// diskUsageGB walks dir summing file sizes. Races with files being deleted
// mid-walk are ignored.
func diskUsageGB(dir string) float64 {
	var total int64
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / bytesPerGB
}
