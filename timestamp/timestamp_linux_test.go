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
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestByteToTime(t *testing.T) {
	timeb := []byte{63, 155, 21, 96, 0, 0, 0, 0, 52, 156, 191, 42, 0, 0, 0, 0}
	require.Equal(t, int64(1612028735717200436), byteToTime(timeb).UnixNano())
}

func TestScmDataToTime(t *testing.T) {
	hwData := []byte{
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		63, 155, 21, 96, 0, 0, 0, 0, 52, 156, 191, 42, 0, 0, 0, 0,
	}
	swData := []byte{
		63, 155, 21, 96, 0, 0, 0, 0, 52, 156, 191, 42, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
	noData := make([]byte, 48)

	tests := []struct {
		name    string
		data    []byte
		want    int64
		wantErr bool
	}{
		{name: "hardware timestamp", data: hwData, want: 1612028735717200436},
		{name: "software timestamp", data: swData, want: 1612028735717200436},
		{name: "zero timestamp", data: noData, wantErr: true},
		{name: "short", data: swData[:16], wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := scmDataToTime(tt.data)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, res.UnixNano())
		})
	}
}

func TestSocketControlMessageTimestamp(t *testing.T) {
	if timestamping != unix.SO_TIMESTAMPING_NEW {
		t.Skip("only SO_TIMESTAMPING_NEW sample available")
	}
	if runtime.GOARCH != "amd64" {
		t.Skip("sample is for amd64")
	}
	b := []byte{60, 0, 0, 0, 0, 0, 0, 0, 41, 0, 0, 0, 25, 0, 0, 0, 42, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 64, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 65, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 230, 180, 10, 97, 0, 0, 0, 0, 239, 83, 199, 39, 0, 0, 0, 0}
	ts, err := socketControlMessageTimestamp(b)
	require.NoError(t, err)
	require.Equal(t, int64(1628091622667374575), ts.UnixNano())

	_, err = socketControlMessageTimestamp(b[:60])
	require.Error(t, err)
}

// rxSocket is a loopback socket with software RX timestamps enabled
func rxSocket(t *testing.T) (*net.UDPConn, int) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	fd, err := ConnFd(conn)
	require.NoError(t, err)
	require.NoError(t, EnableSWTimestampsRx(fd))
	return conn, fd
}

func TestEnableSWTimestampsRx(t *testing.T) {
	_, fd := rxSocket(t)
	old, _ := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING)
	cur, _ := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING_NEW)
	require.NotZero(t, old+cur, "timestamping is not enabled")
}

func TestReadPacketWithRXTimestampBuf(t *testing.T) {
	conn, fd := rxSocket(t)
	require.NoError(t, unix.SetNonblock(fd, false))

	sender, err := net.DialUDP("udp4", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer sender.Close()
	msg := []byte{0x00, 0x02, 0x00, 0x2c, 42}
	before := time.Now()
	_, err = sender.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, 128)
	oob := make([]byte, ControlSizeBytes)
	n, sa, ts, err := ReadPacketWithRXTimestampBuf(fd, buf, oob)
	require.NoError(t, err)
	require.Equal(t, msg, buf[:n])
	require.WithinDuration(t, before, ts, 5*time.Second)
	require.Equal(t, sender.LocalAddr().(*net.UDPAddr).Port, SockaddrToPort(sa))
	require.True(t, SockaddrToIP(sa).Equal(net.IPv4(127, 0, 0, 1)))
}
