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

package timestamp

import (
	"encoding/binary"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// unix.Cmsghdr size differs depending on platform
var socketControlMessageHeaderOffset = binary.Size(unix.Cmsghdr{})

var timestamping = unix.SO_TIMESTAMPING_NEW

func init() {
	// kernels before 5.x don't know SO_TIMESTAMPING_NEW
	var uname unix.Utsname
	if err := unix.Uname(&uname); err == nil {
		if uname.Release[0] < '5' && uname.Release[1] == '.' {
			timestamping = unix.SO_TIMESTAMPING
		}
	}
}

// scmDataToTime parses the timestamping control message. Of the three timespecs
// only one is set: software timestamps come in the first, hardware ones in the third.
func scmDataToTime(data []byte) (time.Time, error) {
	size := 16
	if len(data) < size*3 {
		return time.Time{}, fmt.Errorf("timestamp control message too short: %d", len(data))
	}
	ts := byteToTime(data[size*2 : size*3])
	// time.Unix(0, 0).IsZero() is false
	if ts.UnixNano() == 0 {
		ts = byteToTime(data[0:size])
		if ts.UnixNano() == 0 {
			return ts, fmt.Errorf("got zero timestamp")
		}
	}
	return ts, nil
}

// byteToTime converts __kernel_timespec LittleEndian bytes into time
func byteToTime(data []byte) time.Time {
	sec := int64(binary.LittleEndian.Uint64(data[0:8]))
	nsec := int64(binary.LittleEndian.Uint64(data[8:]))
	return time.Unix(sec, nsec)
}

// EnableSWTimestampsRx enables software RX timestamps on the socket
func EnableSWTimestampsRx(connFd int) error {
	flags := unix.SOF_TIMESTAMPING_RX_SOFTWARE |
		unix.SOF_TIMESTAMPING_SOFTWARE
	return unix.SetsockoptInt(connFd, unix.SOL_SOCKET, timestamping, flags)
}

// socketControlMessageTimestamp walks control messages looking only for the timestamp
func socketControlMessageTimestamp(b []byte) (time.Time, error) {
	mlen := 0
	for i := 0; i+socketControlMessageHeaderOffset <= len(b); i += mlen {
		h := (*unix.Cmsghdr)(unsafe.Pointer(&b[i]))
		mlen = int(h.Len)
		if mlen == 0 || i+mlen > len(b) {
			break
		}
		// SO_TIMESTAMPING may come back even if SO_TIMESTAMPING_NEW was asked for
		if h.Level == unix.SOL_SOCKET && (int(h.Type) == unix.SO_TIMESTAMPING_NEW || int(h.Type) == unix.SO_TIMESTAMPING) {
			return scmDataToTime(b[i+socketControlMessageHeaderOffset : i+mlen])
		}
	}
	return time.Time{}, fmt.Errorf("failed to find timestamp in socket control message")
}
