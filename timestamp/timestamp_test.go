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
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestConnFd(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer conn.Close()

	connfd, err := ConnFd(conn)
	require.NoError(t, err)
	require.Greater(t, connfd, 0, "connection fd must be > 0")
}

func TestSockaddrToIPAndPort(t *testing.T) {
	sa4 := &unix.SockaddrInet4{Port: 319, Addr: [4]byte{224, 0, 1, 129}}
	sa6 := &unix.SockaddrInet6{Port: 320}
	copy(sa6.Addr[:], net.ParseIP("::1").To16())

	require.Equal(t, "224.0.1.129", SockaddrToIP(sa4).String())
	require.Equal(t, "::1", SockaddrToIP(sa6).String())
	require.Equal(t, 319, SockaddrToPort(sa4))
	require.Equal(t, 320, SockaddrToPort(sa6))
	require.Nil(t, SockaddrToIP(&unix.SockaddrUnix{}))
	require.Equal(t, 0, SockaddrToPort(&unix.SockaddrUnix{}))
}

func TestTimestampText(t *testing.T) {
	var ts Timestamp
	require.NoError(t, ts.UnmarshalText([]byte("user")))
	require.Equal(t, User, ts)
	require.NoError(t, ts.UnmarshalText([]byte("software")))
	require.Equal(t, SW, ts)

	err := ts.UnmarshalText([]byte("hardware"))
	require.Equal(t, errors.New("unknown timestamp type \"hardware\""), err)
	require.Equal(t, SW, ts)

	text, err := User.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "user", string(text))

	require.Equal(t, Unsupported, Timestamp(42).String())
	_, err = Timestamp(42).MarshalText()
	require.Error(t, err)
}
