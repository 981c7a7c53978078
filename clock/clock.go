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

/*
Package clock adjusts system clocks through the CLOCK_ADJTIME syscall.

SysClock wraps a clock id with the operations a PTP slave needs: read the time,
step it by an offset and set the frequency correction.
*/
package clock

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// PPBToTimexPPM converts ppb to the timex freq unit, ppm with a 16-bit fractional part
const PPBToTimexPPM = 65.536

// clock_adjtime modes from usr/include/linux/timex.h
const (
	// frequency offset
	AdjFrequency uint32 = 0x0002
	// add 'time' to current time
	AdjSetOffset uint32 = 0x0100
	// select nanosecond resolution
	AdjNano uint32 = 0x2000
)

// AdjFreqPPB sets clock frequency correction in PPB
func AdjFreqPPB(clockid int32, freqPPB float64) error {
	tx := &unix.Timex{}
	tx.Freq = int64(freqPPB * PPBToTimexPPM)
	tx.Modes = AdjFrequency
	_, err := unix.ClockAdjtime(clockid, tx)
	return err
}

// StepTimex builds timex that shifts a clock by step
func StepTimex(step time.Duration) *unix.Timex {
	tx := &unix.Timex{}
	tx.Modes = AdjSetOffset | AdjNano
	tx.Time.Sec = int64(step / time.Second)
	tx.Time.Usec = int64(step % time.Second)
	// usec field (nsec with ADJ_NANO) must be non-negative
	if tx.Time.Usec < 0 {
		tx.Time.Sec--
		tx.Time.Usec += int64(time.Second)
	}
	return tx
}

// Step shifts clock by step
func Step(clockid int32, step time.Duration) error {
	_, err := unix.ClockAdjtime(clockid, StepTimex(step))
	return err
}

// SysClock is a clock identified by clock id, CLOCK_REALTIME by default
type SysClock struct {
	ID int32
}

// NewSysClock returns SysClock for CLOCK_REALTIME
func NewSysClock() *SysClock {
	return &SysClock{ID: unix.CLOCK_REALTIME}
}

// GetTime returns current clock time
func (c *SysClock) GetTime() (time.Time, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(c.ID, &ts); err != nil {
		return time.Time{}, fmt.Errorf("reading clock %d: %w", c.ID, err)
	}
	return time.Unix(ts.Unix()), nil
}

// Step shifts the clock by step
func (c *SysClock) Step(step time.Duration) error {
	if err := Step(c.ID, step); err != nil {
		return fmt.Errorf("stepping clock %d by %v: %w", c.ID, step, err)
	}
	return nil
}

// AdjFreqPPB sets frequency correction
func (c *SysClock) AdjFreqPPB(freqPPB float64) error {
	if err := AdjFreqPPB(c.ID, freqPPB); err != nil {
		return fmt.Errorf("adjusting clock %d frequency to %.3f: %w", c.ID, freqPPB, err)
	}
	return nil
}
