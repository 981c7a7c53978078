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
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

var dumpMsgTypesFlag []string

func init() {
	RootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringSliceVarP(&dumpMsgTypesFlag, "msgtype", "m", nil, "only print these PTP message types, e.g. SYNC,ANNOUNCE")

	layers.RegisterUDPPortLayerType(ptp.PortEvent, LayerTypePTP)
	layers.RegisterUDPPortLayerType(ptp.PortGeneral, LayerTypePTP)
}

// LayerPTP is a decoded PTPv2 message on top of UDP
type LayerPTP struct {
	layers.BaseLayer

	Packet ptp.Packet
}

// LayerTypePTP is registered as a layer with gopacket
var LayerTypePTP = gopacket.RegisterLayerType(
	1588,
	gopacket.LayerTypeMetadata{
		Name:    "PTPv2",
		Decoder: gopacket.DecodeFunc(decodePTP),
	},
)

// LayerType returns type this layer implements
func (l *LayerPTP) LayerType() gopacket.LayerType {
	return LayerTypePTP
}

// Payload is empty as it's the final layer
func (l *LayerPTP) Payload() []byte {
	return nil
}

func decodePTP(data []byte, p gopacket.PacketBuilder) error {
	pkt, err := ptp.DecodePacket(data)
	if err != nil {
		return fmt.Errorf("decoding PTPv2 packet: %w", err)
	}
	d := &LayerPTP{
		BaseLayer: layers.BaseLayer{Contents: data},
		Packet:    pkt,
	}
	p.AddLayer(d)
	p.SetApplicationLayer(d)
	return nil
}

func parseMsgTypes(names []string) (map[ptp.MessageType]bool, error) {
	filter := map[ptp.MessageType]bool{}
	for _, name := range names {
		found := false
		for v, s := range ptp.MessageTypeToString {
			if s == strings.ToUpper(name) {
				filter[v] = true
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unsupported msg type %q", name)
		}
	}
	return filter, nil
}

// packetHandle abstracts packet handles provided by pcapgo.Reader and pcapgo.NgReader
type packetHandle interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func openCapture(f *os.File) (packetHandle, error) {
	handle, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if err == nil {
		return handle, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return pcapgo.NewReader(f)
}

func endpoint(packet gopacket.Packet) (string, string) {
	var srcIP, dstIP net.IP
	var srcPort, dstPort layers.UDPPort
	if l, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		srcIP, dstIP = l.SrcIP, l.DstIP
	} else if l, ok := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
		srcIP, dstIP = l.SrcIP, l.DstIP
	}
	if udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		srcPort, dstPort = udp.SrcPort, udp.DstPort
	}
	return net.JoinHostPort(srcIP.String(), strconv.Itoa(int(srcPort))),
		net.JoinHostPort(dstIP.String(), strconv.Itoa(int(dstPort)))
}

// dump writes every PTP message of the capture to w, returns number of messages written
func dump(w io.Writer, input string, filter map[ptp.MessageType]bool) (int, error) {
	f, err := os.Open(input)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	handle, err := openCapture(f)
	if err != nil {
		return 0, fmt.Errorf("decoding %s: %w", input, err)
	}

	n := 0
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range packetSource.Packets() {
		l, ok := packet.Layer(LayerTypePTP).(*LayerPTP)
		if !ok {
			if e := packet.ErrorLayer(); e != nil {
				log.Debugf("skipping packet: %v", e.Error())
			}
			continue
		}
		if len(filter) > 0 && !filter[l.Packet.MessageType()] {
			continue
		}
		src, dst := endpoint(packet)
		spew.Fprintf(w, "%s -> %s\n", src, dst)
		spew.Fdump(w, l.Packet)
		n++
	}
	return n, nil
}

var dumpCmd = &cobra.Command{
	Use:   "dump [file]",
	Short: "Dump PTPv2 messages from a .pcap or .pcapng capture",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()

		filter, err := parseMsgTypes(dumpMsgTypesFlag)
		if err != nil {
			log.Fatal(err)
		}
		if _, err := dump(os.Stdout, args[0], filter); err != nil {
			log.Fatal(err)
		}
	},
}
