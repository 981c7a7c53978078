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

// Package timer provides the interval timers the port state machine polls.
package timer

import (
	"math"
	"sync/atomic"
	"time"
)

// TicksPerSecond is timer resolution
const TicksPerSecond = 100

// Kind names a timer
type Kind int

// Timers used by the port
const (
	AnnounceReceipt Kind = iota
	SyncInterval
	AnnounceInterval
	DelayReqInterval
	PDelayReqInterval
	numTimers
)

var kindToString = map[Kind]string{
	AnnounceReceipt:   "ANNOUNCE_RECEIPT",
	SyncInterval:      "SYNC_INTERVAL",
	AnnounceInterval:  "ANNOUNCE_INTERVAL",
	DelayReqInterval:  "DELAYREQ_INTERVAL",
	PDelayReqInterval: "PDELAYREQ_INTERVAL",
}

func (k Kind) String() string {
	return kindToString[k]
}

// IntervalTimer counts down in ticks. Interval of 0 means stopped.
type IntervalTimer struct {
	Interval int
	Left     int
	Expire   bool
}

// TickSource reports ticks elapsed since the previous call
type TickSource interface {
	Elapsed() int
}

// Timers is the set of port timers fed by a tick source
type Timers struct {
	source TickSource
	timers [numTimers]IntervalTimer
}

// New returns stopped timers
func New(source TickSource) *Timers {
	return &Timers{source: source}
}

// Reset stops everything and drops ticks accumulated so far
func (t *Timers) Reset() {
	t.source.Elapsed()
	t.timers = [numTimers]IntervalTimer{}
}

// Start (re)arms the timer. Any positive interval lasts at least one tick.
func (t *Timers) Start(k Kind, seconds float64) {
	if k < 0 || k >= numTimers {
		return
	}
	ticks := int(math.Round(seconds * TicksPerSecond))
	if ticks < 1 && seconds > 0 {
		ticks = 1
	}
	t.timers[k] = IntervalTimer{Interval: ticks, Left: ticks}
}

// Stop disarms the timer and drops a pending expiry
func (t *Timers) Stop(k Kind) {
	if k < 0 || k >= numTimers {
		return
	}
	t.timers[k] = IntervalTimer{}
}

// Update consumes all accumulated ticks. Expired timers reload and latch their expire flag.
func (t *Timers) Update() {
	delta := t.source.Elapsed()
	if delta <= 0 {
		return
	}
	for i := range t.timers {
		it := &t.timers[i]
		if it.Interval <= 0 {
			continue
		}
		it.Left -= delta
		if it.Left <= 0 {
			it.Left = it.Interval
			it.Expire = true
		}
	}
}

// Expired reports and clears the expire flag
func (t *Timers) Expired(k Kind) bool {
	if k < 0 || k >= numTimers {
		return false
	}
	t.Update()
	if !t.timers[k].Expire {
		return false
	}
	t.timers[k].Expire = false
	return true
}

// Get returns a copy of the timer
func (t *Timers) Get(k Kind) IntervalTimer {
	return t.timers[k]
}

// Running reports whether the timer is armed
func (t *Timers) Running(k Kind) bool {
	return t.timers[k].Interval > 0
}

// Monotonic derives ticks from the monotonic clock. Remainders carry over so late calls lose nothing.
type Monotonic struct {
	now  func() time.Time
	last time.Time
}

// NewMonotonic starts counting from now
func NewMonotonic() *Monotonic {
	return &Monotonic{now: time.Now, last: time.Now()}
}

// Elapsed returns whole ticks since the previous call
func (m *Monotonic) Elapsed() int {
	now := m.now()
	tick := time.Second / TicksPerSecond
	n := now.Sub(m.last) / tick
	if n <= 0 {
		return 0
	}
	m.last = m.last.Add(n * tick)
	return int(n)
}

// Counter is a tick source driven externally, e.g. by a periodic ticker goroutine or a test
type Counter struct {
	ticks atomic.Int64
}

// Add accumulates n ticks
func (c *Counter) Add(n int) {
	c.ticks.Add(int64(n))
}

// Elapsed returns and resets accumulated ticks
func (c *Counter) Elapsed() int {
	return int(c.ticks.Swap(0))
}
