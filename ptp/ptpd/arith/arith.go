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
Package arith implements the signed (seconds, nanoseconds) time representation
used for all delay and offset computations, and conversions from and to the
unsigned wire timestamp and the scaled correction field.
*/
package arith

import (
	"fmt"
	"time"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

const nsPerSecond = 1000000000

// Time is a signed duration split in seconds and nanoseconds.
// After every operation |Nanoseconds| < 1e9 and both fields carry the same sign (or Nanoseconds is zero).
type Time struct {
	Seconds     int32
	Nanoseconds int32
}

// Normalize builds a normalized Time from possibly denormalized parts
func Normalize(seconds, nanoseconds int64) Time {
	seconds += nanoseconds / nsPerSecond
	nanoseconds -= nanoseconds / nsPerSecond * nsPerSecond

	if seconds > 0 && nanoseconds < 0 {
		seconds--
		nanoseconds += nsPerSecond
	} else if seconds < 0 && nanoseconds > 0 {
		seconds++
		nanoseconds -= nsPerSecond
	}
	return Time{Seconds: int32(seconds), Nanoseconds: int32(nanoseconds)}
}

// FromNanoseconds converts a nanosecond count
func FromNanoseconds(ns int64) Time {
	return Normalize(0, ns)
}

// FromDuration converts time.Duration
func FromDuration(d time.Duration) Time {
	return FromNanoseconds(d.Nanoseconds())
}

// FromTime converts wall clock time
func FromTime(t time.Time) Time {
	return Normalize(t.Unix(), int64(t.Nanosecond()))
}

// FromTimestamp widens a wire timestamp. Seconds above 2^31-1 do not fit and wrap.
func FromTimestamp(ts ptp.Timestamp) Time {
	return Normalize(int64(int32(ts.Seconds.Seconds())), int64(ts.Nanoseconds))
}

// FromCorrection converts correction field into Time, dropping fractional nanoseconds
func FromCorrection(c ptp.Correction) Time {
	return FromNanoseconds(int64(c) / (1 << 16))
}

// Normalize returns t with the invariant restored
func (t Time) Normalize() Time {
	return Normalize(int64(t.Seconds), int64(t.Nanoseconds))
}

// Add returns t+o
func (t Time) Add(o Time) Time {
	return Normalize(int64(t.Seconds)+int64(o.Seconds), int64(t.Nanoseconds)+int64(o.Nanoseconds))
}

// Sub returns t-o
func (t Time) Sub(o Time) Time {
	return t.Add(o.Neg())
}

// Neg returns -t
func (t Time) Neg() Time {
	return Time{Seconds: -t.Seconds, Nanoseconds: -t.Nanoseconds}
}

// Div returns t/n, truncated to the nanosecond
func (t Time) Div(n int) Time {
	if n == 0 {
		return t
	}
	return FromNanoseconds(t.Nanoseconds64() / int64(n))
}

// IsZero reports whether t is zero
func (t Time) IsZero() bool {
	return t.Seconds == 0 && t.Nanoseconds == 0
}

// Nanoseconds64 returns t as a nanosecond count
func (t Time) Nanoseconds64() int64 {
	return int64(t.Seconds)*nsPerSecond + int64(t.Nanoseconds)
}

// Duration returns t as time.Duration
func (t Time) Duration() time.Duration {
	return time.Duration(t.Nanoseconds64())
}

// Timestamp narrows t to a wire timestamp. Negative values can't be represented and become zero.
func (t Time) Timestamp() ptp.Timestamp {
	if t.Seconds < 0 || t.Nanoseconds < 0 {
		return ptp.Timestamp{}
	}
	return ptp.Timestamp{
		Seconds:     ptp.NewPTPSeconds(uint64(t.Seconds)),
		Nanoseconds: uint32(t.Nanoseconds),
	}
}

func (t Time) String() string {
	if t.Seconds < 0 || t.Nanoseconds < 0 {
		return fmt.Sprintf("-%d.%09d", -int64(t.Seconds), -int64(t.Nanoseconds))
	}
	return fmt.Sprintf("%d.%09d", t.Seconds, t.Nanoseconds)
}
