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

package netio

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/ptpd/timestamp"
)

func TestConfigValidate(t *testing.T) {
	cfg := &Config{Iface: "eth0", TTL: 1}
	require.NoError(t, cfg.Validate())

	cfg.TTL = 0
	require.Error(t, cfg.Validate())

	cfg = &Config{Iface: "eth0", TTL: 1, DSCP: 64}
	require.Error(t, cfg.Validate())

	cfg = &Config{Iface: "", TTL: 1}
	require.Error(t, cfg.Validate())

	cfg = &Config{Iface: "eth0", TTL: 1, UnicastAddress: "::1"}
	require.Error(t, cfg.Validate())

	cfg = &Config{Iface: "eth0", TTL: 1, UnicastAddress: "192.168.0.7"}
	require.NoError(t, cfg.Validate())

	cfg = &Config{Iface: "eth0", TTL: 1, Timestamping: timestamp.Timestamp(42)}
	require.Error(t, cfg.Validate())
}

func TestNewAddresses(t *testing.T) {
	tr := New(&Config{Iface: "eth0", TTL: 1, UnicastAddress: "192.168.0.7"})
	require.Equal(t, "224.0.1.129:319", tr.eventAddr.String())
	require.Equal(t, "224.0.1.129:320", tr.generalAddr.String())
	require.Equal(t, "224.0.0.107:319", tr.peerEventAddr.String())
	require.Equal(t, "224.0.0.107:320", tr.peerGeneralAddr.String())
	require.Equal(t, "192.168.0.7:319", tr.unicastEvent.String())
	require.Equal(t, "192.168.0.7:320", tr.unicastGeneral.String())

	tr = New(&Config{Iface: "eth0", TTL: 1})
	require.Nil(t, tr.unicastEvent)
}

// loopbackTransport binds both sockets to ephemeral ports on localhost, skipping multicast setup
func loopbackTransport(t *testing.T, ts timestamp.Timestamp) *Transport {
	tr := New(&Config{Iface: "lo", TTL: 1, Timestamping: ts})
	tr.ip = net.IPv4(127, 0, 0, 1)
	open := func() *conn {
		c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: tr.ip})
		require.NoError(t, err)
		fd, err := timestamp.ConnFd(c)
		require.NoError(t, err)
		require.NoError(t, tr.setupFd(fd))
		return &conn{UDPConn: c, fd: fd}
	}
	tr.event = open()
	tr.general = open()
	t.Cleanup(func() { require.NoError(t, tr.Shutdown()) })
	return tr
}

func TestReceive(t *testing.T) {
	for _, ts := range []timestamp.Timestamp{timestamp.SW, timestamp.User} {
		t.Run(ts.String(), func(t *testing.T) {
			tr := loopbackTransport(t, ts)
			buf := make([]byte, timestamp.PayloadSizeBytes)

			n, rx, err := tr.ReceiveEvent(buf)
			require.NoError(t, err)
			require.Equal(t, 0, n)
			require.True(t, rx.IsZero())

			ready, err := tr.Poll(0)
			require.NoError(t, err)
			require.False(t, ready)

			sender, err := net.DialUDP("udp4", nil, tr.event.LocalAddr().(*net.UDPAddr))
			require.NoError(t, err)
			defer sender.Close()
			before := time.Now()
			_, err = sender.Write([]byte{1, 2, 3, 4})
			require.NoError(t, err)

			ready, err = tr.Poll(time.Second)
			require.NoError(t, err)
			require.True(t, ready)

			n, rx, err = tr.ReceiveEvent(buf)
			require.NoError(t, err)
			require.Equal(t, 4, n)
			require.Equal(t, []byte{1, 2, 3, 4}, buf[:n])
			require.WithinDuration(t, before, rx, time.Second)

			n, _, err = tr.ReceiveGeneral(buf)
			require.NoError(t, err)
			require.Equal(t, 0, n)
		})
	}
}

func TestSendUnicast(t *testing.T) {
	tr := loopbackTransport(t, timestamp.SW)

	group, err := net.ListenUDP("udp4", &net.UDPAddr{IP: tr.ip})
	require.NoError(t, err)
	defer group.Close()
	unicast, err := net.ListenUDP("udp4", &net.UDPAddr{IP: tr.ip})
	require.NoError(t, err)
	defer unicast.Close()

	tr.generalAddr = group.LocalAddr().(*net.UDPAddr)
	tr.unicastGeneral = unicast.LocalAddr().(*net.UDPAddr)
	tr.peerGeneralAddr = group.LocalAddr().(*net.UDPAddr)

	require.NoError(t, tr.SendGeneral([]byte("announce")))
	buf := make([]byte, 64)
	for _, c := range []*net.UDPConn{group, unicast} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
		n, err := c.Read(buf)
		require.NoError(t, err)
		require.Equal(t, "announce", string(buf[:n]))
	}

	// peer delay messages never go to the unicast address
	require.NoError(t, tr.SendPeerGeneral([]byte("pdelay")))
	require.NoError(t, group.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := group.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "pdelay", string(buf[:n]))
	require.NoError(t, unicast.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, err = unicast.Read(buf)
	require.Error(t, err)
}

func TestNotInitialized(t *testing.T) {
	tr := New(&Config{Iface: "eth0", TTL: 1})
	require.Error(t, tr.SendEvent([]byte{1}))
	require.Error(t, tr.SendPeerGeneral([]byte{1}))
	_, err := tr.Poll(time.Millisecond)
	require.Error(t, err)
	_, _, err = tr.ReceiveGeneral(make([]byte, 10))
	require.Error(t, err)
	require.NoError(t, tr.Shutdown())
}

func TestInterfaceIPv4Loopback(t *testing.T) {
	iface, ip, err := InterfaceIPv4("lo")
	if err != nil {
		t.Skipf("netlink is not available: %v", err)
	}
	require.Equal(t, "lo", iface.Name)
	require.Equal(t, "127.0.0.1", ip.String())

	_, _, err = InterfaceIPv4("no-such-interface0")
	require.Error(t, err)
}
