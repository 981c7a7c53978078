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

package dscp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/facebook/ptpd/timestamp"
)

func TestEnable(t *testing.T) {
	testCases := []struct {
		addr  string
		level int
		opt   int
	}{
		{addr: "127.0.0.1", level: unix.IPPROTO_IP, opt: unix.IP_TOS},
		{addr: "::1", level: unix.IPPROTO_IPV6, opt: unix.IPV6_TCLASS},
	}
	for _, tc := range testCases {
		t.Run(tc.addr, func(t *testing.T) {
			ip := net.ParseIP(tc.addr)
			conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip})
			if err != nil {
				t.Skipf("no %s: %v", tc.addr, err)
			}
			defer conn.Close()
			fd, err := timestamp.ConnFd(conn)
			require.NoError(t, err)

			require.NoError(t, Enable(fd, ip, 46))
			v, err := unix.GetsockoptInt(fd, tc.level, tc.opt)
			require.NoError(t, err)
			require.Equal(t, 46<<2, v)
		})
	}
}
