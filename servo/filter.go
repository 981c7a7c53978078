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

package servo

// OffsetFilter averages the current offset with the previous one
type OffsetFilter struct {
	prev int32
	y    int32
}

// Filter feeds ns into the filter and returns the smoothed value
func (f *OffsetFilter) Filter(ns int32) int32 {
	f.y = ns/2 + f.prev/2
	f.prev = ns
	return f.y
}

// Reset clears the filter
func (f *OffsetFilter) Reset() {
	*f = OffsetFilter{}
}

// Partial forgets the previous sample
func (f *OffsetFilter) Partial() {
	f.prev = 0
}

// DelayFilter is an exponential smoothing filter whose time constant grows up to 2^S samples
type DelayFilter struct {
	S    int
	sExp int64
	prev int32
	y    int64
}

// Filter feeds ns into the filter and returns the smoothed value
func (f *DelayFilter) Filter(ns int32) int32 {
	s := f.S
	// keep (sExp-1)*y within 31 bits
	for s > 0 && abs64(f.y)>>(31-s) != 0 {
		s--
	}
	switch {
	case f.sExp < 1:
		f.sExp = 1
	case f.sExp < 1<<s:
		f.sExp++
	case f.sExp > 1<<s:
		f.sExp = 1 << s
	}
	f.y = (f.sExp-1)*f.y/f.sExp + (int64(ns/2)+int64(f.prev/2))/f.sExp
	f.prev = ns
	return int32(f.y)
}

// Reset clears the filter. The first sample after Reset is averaged with zero.
func (f *DelayFilter) Reset() {
	f.sExp = 0
	f.prev = 0
	f.y = 0
}

// Partial resets only the history, keeping the smoothed value
func (f *DelayFilter) Partial() {
	f.sExp = 0
	f.prev = 0
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
