/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stats

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

// SysStats reports resource usage of the daemon process as "sys." counters
type SysStats struct {
	started time.Time
	proc    *process.Process
	prev    *runtime.MemStats
}

// NewSysStats returns SysStats for the current process
func NewSysStats() (*SysStats, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &SysStats{started: time.Now(), proc: proc}, nil
}

// perSecond returns growth of a monotonic runtime counter over interval, false if it went backwards
func perSecond(cur, prev uint64, interval time.Duration) (uint64, bool) {
	secs := uint64(interval / time.Second)
	if cur < prev || secs == 0 {
		return 0, false
	}
	return (cur - prev) / secs, true
}

// Collect returns counters describing the process. Rates need a previous call.
func (s *SysStats) Collect(interval time.Duration) map[string]uint64 {
	m := &runtime.MemStats{}
	runtime.ReadMemStats(m)
	res := map[string]uint64{
		"sys.uptime_s":       uint64(time.Since(s.started) / time.Second),
		"sys.goroutines":     uint64(runtime.NumGoroutine()),
		"sys.heap_alloc":     m.HeapAlloc,
		"sys.heap_inuse":     m.HeapInuse,
		"sys.mem_sys":        m.Sys,
		"sys.gc_count":       uint64(m.NumGC),
		"sys.gc_pause_total": m.PauseTotalNs,
	}
	if pct, err := s.proc.Percent(0); err == nil {
		res["sys.cpu_pct"] = uint64(pct * 100)
	}
	if mem, err := s.proc.MemoryInfo(); err == nil {
		res["sys.rss"] = mem.RSS
		res["sys.vms"] = mem.VMS
	}
	if fds, err := s.proc.NumFDs(); err == nil {
		res["sys.fds"] = uint64(fds)
	}
	if th, err := s.proc.NumThreads(); err == nil {
		res["sys.threads"] = uint64(th)
	}
	if s.prev != nil {
		if v, ok := perSecond(m.Mallocs, s.prev.Mallocs, interval); ok {
			res["sys.mallocs_per_s"] = v
		}
		if v, ok := perSecond(m.PauseTotalNs, s.prev.PauseTotalNs, interval); ok {
			res["sys.gc_pause_ns_per_s"] = v
		}
	}
	s.prev = m
	return res
}

// Run copies collected values into st every interval until ctx is done
func (s *SysStats) Run(ctx context.Context, st *Stats, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for k, v := range s.Collect(interval) {
			st.SetCounter(k, int64(v))
		}
		log.Debugf("collected sys stats")
	}
}
