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

package cmd

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

func ptpFrame(t *testing.T, p ptp.Packet, dstPort int) []byte {
	payload, err := ptp.Bytes(p)
	require.NoError(t, err)
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x01, 0x00, 0x5e, 0x00, 0x01, 0x81},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      1,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 0, 1),
		DstIP:    net.IPv4(224, 0, 1, 129),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(dstPort),
		DstPort: layers.UDPPort(dstPort),
	}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func writeCapture(t *testing.T, frames ...[]byte) string {
	path := filepath.Join(t.TempDir(), "ptp.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, int64(i)),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return path
}

var gm = ptp.PortIdentity{ClockIdentity: 0x001122fffe334455, PortNumber: 1}

func testSync() *ptp.SyncDelayReq {
	return &ptp.SyncDelayReq{
		Header: ptp.Header{
			TransportAndMsgType: ptp.NewTransportAndMsgType(ptp.MessageSync, 0),
			Version:             ptp.Version,
			MessageLength:       ptp.SyncLength,
			SourcePortIdentity:  gm,
			SequenceID:          42,
		},
	}
}

func testAnnounce() *ptp.Announce {
	return &ptp.Announce{
		Header: ptp.Header{
			TransportAndMsgType: ptp.NewTransportAndMsgType(ptp.MessageAnnounce, 0),
			Version:             ptp.Version,
			MessageLength:       ptp.AnnounceLength,
			SourcePortIdentity:  gm,
			SequenceID:          7,
		},
		AnnounceBody: ptp.AnnounceBody{
			GrandmasterPriority1: 128,
			GrandmasterIdentity:  gm.ClockIdentity,
		},
	}
}

func TestParseMsgTypes(t *testing.T) {
	filter, err := parseMsgTypes([]string{"sync", "ANNOUNCE"})
	require.NoError(t, err)
	require.Equal(t, map[ptp.MessageType]bool{ptp.MessageSync: true, ptp.MessageAnnounce: true}, filter)

	_, err = parseMsgTypes([]string{"bogus"})
	require.EqualError(t, err, `unsupported msg type "bogus"`)
}

func TestDump(t *testing.T) {
	path := writeCapture(t,
		ptpFrame(t, testSync(), ptp.PortEvent),
		ptpFrame(t, testAnnounce(), ptp.PortGeneral),
	)
	out := &strings.Builder{}
	n, err := dump(out, path, nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Contains(t, out.String(), "192.168.0.1:319 -> 224.0.1.129:319")
	require.Contains(t, out.String(), "192.168.0.1:320 -> 224.0.1.129:320")
	require.Contains(t, out.String(), "SequenceID: (uint16) 42")
}

func TestDumpFilter(t *testing.T) {
	path := writeCapture(t,
		ptpFrame(t, testSync(), ptp.PortEvent),
		ptpFrame(t, testAnnounce(), ptp.PortGeneral),
	)
	out := &strings.Builder{}
	n, err := dump(out, path, map[ptp.MessageType]bool{ptp.MessageAnnounce: true})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Contains(t, out.String(), "SequenceID: (uint16) 7")
	require.NotContains(t, out.String(), ":319")
}

func TestDumpBadInput(t *testing.T) {
	_, err := dump(&strings.Builder{}, filepath.Join(t.TempDir(), "missing.pcap"), nil)
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "garbage.pcap")
	require.NoError(t, os.WriteFile(path, []byte("not a capture"), 0644))
	_, err = dump(&strings.Builder{}, path, nil)
	require.ErrorContains(t, err, "decoding")
}
