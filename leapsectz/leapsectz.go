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

// Package leapsectz reads leap seconds from the system time zone database
// so the daemon can derive TAI-UTC offset it announces.
package leapsectz

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// DefaultFile is a zone with leap seconds
const DefaultFile = "/usr/share/zoneinfo/right/UTC"

// TAI-UTC before the first leap second in 1972
const initialOffset = 10

var (
	errBadData     = errors.New("malformed time zone information")
	errNoLeapSecs  = errors.New("no leap seconds information found")
	errBadVersion  = errors.New("unsupported version")
	magic          = [4]byte{'T', 'Z', 'i', 'f'}
	v1TimeSize     = 4
	v2TimeSize     = 8
	localTypeBytes = 6
)

// LeapSecond is a leap second record: Tleap is in "right" time, Nleap is total count after it
type LeapSecond struct {
	Tleap int64
	Nleap int32
}

// Time returns when the leap second takes effect
func (l LeapSecond) Time() time.Time {
	return time.Unix(l.Tleap-int64(l.Nleap)+1, 0)
}

// header fields are named after tzfile(5)
type header struct {
	Magic    [4]byte
	Version  byte
	_        [15]byte
	IsUtcCnt uint32
	IsStdCnt uint32
	LeapCnt  uint32
	TimeCnt  uint32
	TypeCnt  uint32
	CharCnt  uint32
}

// dataLen is the length of data block preceding leap records, and of the records
func (h *header) dataLen(timeSize int) (before int64, leaps int64) {
	before = int64(h.TimeCnt)*int64(timeSize+1) + int64(h.TypeCnt)*int64(localTypeBytes) + int64(h.CharCnt)
	leaps = int64(h.LeapCnt) * int64(timeSize+4)
	return before, leaps
}

func readHeader(r io.Reader) (*header, error) {
	h := &header{}
	if err := binary.Read(r, binary.BigEndian, h); err != nil {
		return nil, errBadData
	}
	if h.Magic != magic {
		return nil, errBadData
	}
	switch h.Version {
	case 0, '2', '3', '4':
	default:
		return nil, errBadVersion
	}
	return h, nil
}

func skip(r io.Reader, n int64) error {
	if m, _ := io.CopyN(io.Discard, r, n); m != n {
		return errBadData
	}
	return nil
}

func parse(r io.Reader) ([]LeapSecond, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	timeSize := v1TimeSize
	if h.Version != 0 {
		// 64-bit data follows the legacy block
		before, leaps := h.dataLen(v1TimeSize)
		if err := skip(r, before+leaps+int64(h.IsStdCnt)+int64(h.IsUtcCnt)); err != nil {
			return nil, err
		}
		if h, err = readHeader(r); err != nil {
			return nil, err
		}
		timeSize = v2TimeSize
	}
	before, _ := h.dataLen(timeSize)
	if err := skip(r, before); err != nil {
		return nil, err
	}
	res := make([]LeapSecond, 0, h.LeapCnt)
	for i := 0; i < int(h.LeapCnt); i++ {
		l := LeapSecond{}
		if timeSize == v1TimeSize {
			var rec struct {
				Tleap int32
				Nleap int32
			}
			if err := binary.Read(r, binary.BigEndian, &rec); err != nil {
				return nil, errBadData
			}
			l.Tleap, l.Nleap = int64(rec.Tleap), rec.Nleap
		} else if err := binary.Read(r, binary.BigEndian, &l); err != nil {
			return nil, errBadData
		}
		res = append(res, l)
	}
	if len(res) == 0 {
		return nil, errNoLeapSecs
	}
	return res, nil
}

// Parse returns the leap seconds listed in the tzfile at path
func Parse(path string) ([]LeapSecond, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ls, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return ls, nil
}

// UTCOffset returns TAI-UTC in effect at t
func UTCOffset(leaps []LeapSecond, t time.Time) int16 {
	var n int32
	for _, l := range leaps {
		if !l.Time().After(t) {
			n = l.Nleap
		}
	}
	return int16(initialOffset + n)
}
