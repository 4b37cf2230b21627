// Package hostmon samples CPU, memory, disk and network usage of the host
// that generates the load.
package hostmon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultInterval is the time between two host readings
const DefaultInterval = 2 * time.Second

// Snapshot is one raw reading of the host counters. Byte and busy-time
// counters are cumulative since boot.
type Snapshot struct {
	Time           time.Time
	CPUPercent     float64
	MemoryPercent  float64
	DiskReadBytes  uint64
	DiskWriteBytes uint64
	DiskBusyMs     map[string]uint64 // per device
	NetSentBytes   uint64
	NetRecvBytes   uint64
}

// Source takes a snapshot of the host
type Source func(ctx context.Context) (Snapshot, error)

// ReadHost reads the host counters. Memory is required; disk and network
// counters are left at zero where the platform does not expose them.
func ReadHost(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Time: time.Now()}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read memory usage: %w", err)
	}
	snap.MemoryPercent = vm.UsedPercent

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}

	if disks, err := disk.IOCountersWithContext(ctx); err == nil {
		snap.DiskBusyMs = make(map[string]uint64, len(disks))
		for name, d := range disks {
			snap.DiskReadBytes += d.ReadBytes
			snap.DiskWriteBytes += d.WriteBytes
			snap.DiskBusyMs[name] = d.IoTime
		}
	}

	if nics, err := psnet.IOCountersWithContext(ctx, false); err == nil && len(nics) > 0 {
		snap.NetSentBytes = nics[0].BytesSent
		snap.NetRecvBytes = nics[0].BytesRecv
	}

	return snap, nil
}

// Reading is a snapshot with the rates derived from the previous one
type Reading struct {
	Time            time.Time
	CPUPercent      float64
	MemoryPercent   float64
	DiskBusyPercent float64 // busiest device
	DiskReadBps     float64
	DiskWriteBps    float64
	NetSentBps      float64
	NetRecvBps      float64
}

// Summary aggregates the readings of a run
type Summary struct {
	Samples            int     `json:"samples" yaml:"samples"`
	CPUAvgPercent      float64 `json:"cpuAvgPercent" yaml:"cpuAvgPercent"`
	CPUMaxPercent      float64 `json:"cpuMaxPercent" yaml:"cpuMaxPercent"`
	MemoryAvgPercent   float64 `json:"memoryAvgPercent" yaml:"memoryAvgPercent"`
	MemoryMaxPercent   float64 `json:"memoryMaxPercent" yaml:"memoryMaxPercent"`
	DiskBusyMaxPercent float64 `json:"diskBusyMaxPercent" yaml:"diskBusyMaxPercent"`
	DiskReadBytes      uint64  `json:"diskReadBytes" yaml:"diskReadBytes"`
	DiskWriteBytes     uint64  `json:"diskWriteBytes" yaml:"diskWriteBytes"`
	NetSentBytes       uint64  `json:"netSentBytes" yaml:"netSentBytes"`
	NetRecvBytes       uint64  `json:"netRecvBytes" yaml:"netRecvBytes"`
}

// Options configures a Sampler
type Options struct {
	Interval  time.Duration
	Logger    *zap.Logger
	OnReading func(Reading) // called from the sampling goroutine
}

// Sampler reads the host on a fixed interval and keeps a running summary
type Sampler struct {
	source    Source
	interval  time.Duration
	logger    *zap.Logger
	onReading func(Reading)

	mu      sync.Mutex
	first   *Snapshot
	prev    *Snapshot
	cpuSum  float64
	memSum  float64
	summary Summary
}

// NewSampler creates a sampler over source
func NewSampler(source Source, opts Options) *Sampler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Sampler{
		source:    source,
		interval:  opts.Interval,
		logger:    opts.Logger,
		onReading: opts.OnReading,
	}
}

// Run samples until ctx is done. The first reading is taken immediately.
func (s *Sampler) Run(ctx context.Context) {
	wait.UntilWithContext(ctx, s.Sample, s.interval)
}

// Sample takes one reading. A failed read is logged and skipped.
func (s *Sampler) Sample(ctx context.Context) {
	snap, err := s.source(ctx)
	if err != nil {
		s.logger.Debug("host sample failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	r := s.add(snap)
	s.mu.Unlock()

	if s.onReading != nil {
		s.onReading(r)
	}
}

func (s *Sampler) add(snap Snapshot) Reading {
	r := Reading{
		Time:          snap.Time,
		CPUPercent:    snap.CPUPercent,
		MemoryPercent: snap.MemoryPercent,
	}

	if s.prev != nil {
		if secs := snap.Time.Sub(s.prev.Time).Seconds(); secs > 0 {
			r.DiskReadBps = float64(delta(snap.DiskReadBytes, s.prev.DiskReadBytes)) / secs
			r.DiskWriteBps = float64(delta(snap.DiskWriteBytes, s.prev.DiskWriteBytes)) / secs
			r.NetSentBps = float64(delta(snap.NetSentBytes, s.prev.NetSentBytes)) / secs
			r.NetRecvBps = float64(delta(snap.NetRecvBytes, s.prev.NetRecvBytes)) / secs
			for name, busy := range snap.DiskBusyMs {
				pct := float64(delta(busy, s.prev.DiskBusyMs[name])) / (secs * 1000) * 100
				r.DiskBusyPercent = max(r.DiskBusyPercent, min(pct, 100))
			}
		}
	} else {
		s.first = &snap
	}
	s.prev = &snap

	sum := &s.summary
	sum.Samples++
	s.cpuSum += r.CPUPercent
	s.memSum += r.MemoryPercent
	sum.CPUAvgPercent = s.cpuSum / float64(sum.Samples)
	sum.MemoryAvgPercent = s.memSum / float64(sum.Samples)
	sum.CPUMaxPercent = max(sum.CPUMaxPercent, r.CPUPercent)
	sum.MemoryMaxPercent = max(sum.MemoryMaxPercent, r.MemoryPercent)
	sum.DiskBusyMaxPercent = max(sum.DiskBusyMaxPercent, r.DiskBusyPercent)
	sum.DiskReadBytes = delta(snap.DiskReadBytes, s.first.DiskReadBytes)
	sum.DiskWriteBytes = delta(snap.DiskWriteBytes, s.first.DiskWriteBytes)
	sum.NetSentBytes = delta(snap.NetSentBytes, s.first.NetSentBytes)
	sum.NetRecvBytes = delta(snap.NetRecvBytes, s.first.NetRecvBytes)

	return r
}

// Summary returns the aggregate of every reading so far
func (s *Sampler) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// delta is cur-prev for counters that may reset
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
