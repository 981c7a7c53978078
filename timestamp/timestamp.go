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

// Package timestamp reads kernel receive timestamps of UDP packets
package timestamp

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// ControlSizeBytes is a socket control message buffer size enough to fit the timestamp
	ControlSizeBytes = 128
	// PayloadSizeBytes is enough for any PTP message we handle
	PayloadSizeBytes = 512
)

// Timestamp is the source of receive timestamps
type Timestamp int

// Timestamp sources
const (
	// SW is kernel software timestamp
	SW Timestamp = iota
	// User is time.Now() taken after the packet was read
	User
)

// Unsupported is a string representation of unknown source
const Unsupported = "Unsupported"

var timestampToString = map[Timestamp]string{
	SW:   "software",
	User: "user",
}

func (t Timestamp) String() string {
	if s, ok := timestampToString[t]; ok {
		return s
	}
	return Unsupported
}

// MarshalText timestamp to byte slice
func (t Timestamp) MarshalText() ([]byte, error) {
	s := t.String()
	if s == Unsupported {
		return []byte(s), fmt.Errorf("unknown timestamp type %q", s)
	}
	return []byte(s), nil
}

// UnmarshalText timestamp from byte slice
func (t *Timestamp) UnmarshalText(value []byte) error {
	for k, v := range timestampToString {
		if v == string(value) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown timestamp type %q", string(value))
}

// ConnFd returns file descriptor of a connection
func ConnFd(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var intfd int
	err = sc.Control(func(fd uintptr) {
		intfd = int(fd)
	})
	if err != nil {
		return -1, err
	}
	return intfd, nil
}

// ReadPacketWithRXTimestampBuf reads a packet into buf and returns its size, sender and RX timestamp.
// oob can be reused after the call.
func ReadPacketWithRXTimestampBuf(connFd int, buf, oob []byte) (int, unix.Sockaddr, time.Time, error) {
	n, noob, _, saddr, err := unix.Recvmsg(connFd, buf, oob, 0)
	if err != nil {
		return 0, nil, time.Time{}, fmt.Errorf("failed to read packet: %w", err)
	}
	ts, err := socketControlMessageTimestamp(oob[:noob])
	return n, saddr, ts, err
}

// SockaddrToIP converts socket address to an IP
func SockaddrToIP(sa unix.Sockaddr) net.IP {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return sa.Addr[0:]
	case *unix.SockaddrInet6:
		return sa.Addr[0:]
	}
	return nil
}

// SockaddrToPort returns port of a socket address
func SockaddrToPort(sa unix.Sockaddr) int {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return sa.Port
	case *unix.SockaddrInet6:
		return sa.Port
	}
	return 0
}
