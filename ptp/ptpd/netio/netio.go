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

/*
Package netio implements the port network over UDP/IPv4 multicast.

Event messages use port 319, general messages port 320. Kernel software
timestamps are taken on receipt. Multicast loopback is left on, so every message
the port sends comes back to it with the time it left the host.
*/
package netio

import (
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/facebook/ptpd/dscp"
	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/timestamp"
)

// Multicast groups of PTP over UDP/IPv4
var (
	DefaultMulticastIP = net.IPv4(224, 0, 1, 129)
	PeerMulticastIP    = net.IPv4(224, 0, 0, 107)
)

// Config is the network part of daemon configuration
type Config struct {
	Iface          string
	UnicastAddress string
	TTL            int
	DSCP           int
	Timestamping   timestamp.Timestamp
}

// Validate Config is sane
func (c *Config) Validate() error {
	if c.Iface == "" {
		return fmt.Errorf("iface must be specified")
	}
	if c.TTL < 1 || c.TTL > 255 {
		return fmt.Errorf("ttl must be in [1, 255]")
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("dscp must be in [0, 63]")
	}
	if c.UnicastAddress != "" && net.ParseIP(c.UnicastAddress).To4() == nil {
		return fmt.Errorf("unicast_address %q is not an IPv4 address", c.UnicastAddress)
	}
	if c.Timestamping != timestamp.SW && c.Timestamping != timestamp.User {
		return fmt.Errorf("unsupported timestamping %s", c.Timestamping)
	}
	return nil
}

type conn struct {
	*net.UDPConn
	fd int
}

// Transport sends and receives PTP messages on one interface
type Transport struct {
	cfg *Config

	iface *net.Interface
	ip    net.IP

	event   *conn
	general *conn

	eventAddr       *net.UDPAddr
	generalAddr     *net.UDPAddr
	peerEventAddr   *net.UDPAddr
	peerGeneralAddr *net.UDPAddr
	unicastEvent    *net.UDPAddr
	unicastGeneral  *net.UDPAddr

	oob []byte
}

// New returns Transport. Sockets are opened by Init.
func New(cfg *Config) *Transport {
	t := &Transport{
		cfg:             cfg,
		eventAddr:       &net.UDPAddr{IP: DefaultMulticastIP, Port: ptp.PortEvent},
		generalAddr:     &net.UDPAddr{IP: DefaultMulticastIP, Port: ptp.PortGeneral},
		peerEventAddr:   &net.UDPAddr{IP: PeerMulticastIP, Port: ptp.PortEvent},
		peerGeneralAddr: &net.UDPAddr{IP: PeerMulticastIP, Port: ptp.PortGeneral},
		oob:             make([]byte, timestamp.ControlSizeBytes),
	}
	if ip := net.ParseIP(cfg.UnicastAddress); ip != nil {
		t.unicastEvent = &net.UDPAddr{IP: ip, Port: ptp.PortEvent}
		t.unicastGeneral = &net.UDPAddr{IP: ip, Port: ptp.PortGeneral}
	}
	return t
}

// IP returns the interface address the transport uses
func (t *Transport) IP() net.IP {
	return t.ip
}

// Interface returns the interface the transport uses
func (t *Transport) Interface() *net.Interface {
	return t.iface
}

// Init discovers the interface and opens both sockets
func (t *Transport) Init() error {
	iface, ip, err := InterfaceIPv4(t.cfg.Iface)
	if err != nil {
		return err
	}
	t.iface = iface
	t.ip = ip
	log.Infof("using interface %s address %s", iface.Name, ip)

	if t.event, err = t.listen(ptp.PortEvent); err != nil {
		return err
	}
	if t.general, err = t.listen(ptp.PortGeneral); err != nil {
		t.event.Close()
		t.event = nil
		return err
	}
	return nil
}

func (t *Transport) listen(port int) (*conn, error) {
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("binding to port %d: %w", port, err)
	}
	if err := t.setup(c); err != nil {
		c.Close()
		return nil, fmt.Errorf("setting up socket on port %d: %w", port, err)
	}
	fd, err := timestamp.ConnFd(c)
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := t.setupFd(fd); err != nil {
		c.Close()
		return nil, fmt.Errorf("setting up socket on port %d: %w", port, err)
	}
	return &conn{UDPConn: c, fd: fd}, nil
}

func (t *Transport) setup(c *net.UDPConn) error {
	p := ipv4.NewPacketConn(c)
	for _, group := range []net.IP{DefaultMulticastIP, PeerMulticastIP} {
		if err := p.JoinGroup(t.iface, &net.UDPAddr{IP: group}); err != nil {
			return fmt.Errorf("joining %s: %w", group, err)
		}
	}
	if err := p.SetMulticastInterface(t.iface); err != nil {
		return err
	}
	if err := p.SetMulticastTTL(t.cfg.TTL); err != nil {
		return err
	}
	return p.SetMulticastLoopback(true)
}

func (t *Transport) setupFd(fd int) error {
	if t.cfg.Timestamping == timestamp.SW {
		if err := timestamp.EnableSWTimestampsRx(fd); err != nil {
			return fmt.Errorf("enabling software timestamps: %w", err)
		}
	}
	if t.cfg.DSCP > 0 {
		if err := dscp.Enable(fd, t.ip, t.cfg.DSCP); err != nil {
			return err
		}
	}
	// receive returns immediately when nothing is queued
	return unix.SetNonblock(fd, true)
}

// Shutdown closes the sockets
func (t *Transport) Shutdown() error {
	var errs []error
	for _, c := range []*conn{t.event, t.general} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.event = nil
	t.general = nil
	return errors.Join(errs...)
}

func (t *Transport) send(c *conn, b []byte, dst, unicast *net.UDPAddr) error {
	if c == nil {
		return fmt.Errorf("transport is not initialized")
	}
	if _, err := c.WriteToUDP(b, dst); err != nil {
		return fmt.Errorf("sending to %s: %w", dst, err)
	}
	if unicast != nil {
		if _, err := c.WriteToUDP(b, unicast); err != nil {
			return fmt.Errorf("sending to %s: %w", unicast, err)
		}
	}
	return nil
}

// SendEvent sends b to the event port of the PTP group
func (t *Transport) SendEvent(b []byte) error {
	return t.send(t.event, b, t.eventAddr, t.unicastEvent)
}

// SendGeneral sends b to the general port of the PTP group
func (t *Transport) SendGeneral(b []byte) error {
	return t.send(t.general, b, t.generalAddr, t.unicastGeneral)
}

// SendPeerEvent sends b to the event port of the peer delay group
func (t *Transport) SendPeerEvent(b []byte) error {
	return t.send(t.event, b, t.peerEventAddr, nil)
}

// SendPeerGeneral sends b to the general port of the peer delay group
func (t *Transport) SendPeerGeneral(b []byte) error {
	return t.send(t.general, b, t.peerGeneralAddr, nil)
}

// Poll waits up to timeout for either socket to become readable
func (t *Transport) Poll(timeout time.Duration) (bool, error) {
	if t.event == nil || t.general == nil {
		return false, fmt.Errorf("transport is not initialized")
	}
	fds := []unix.PollFd{
		{Fd: int32(t.event.fd), Events: unix.POLLIN},
		{Fd: int32(t.general.fd), Events: unix.POLLIN},
	}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if errors.Is(err, unix.EINTR) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("poll: %w", err)
	}
	return n > 0, nil
}

// ReceiveEvent reads a pending event message. It returns 0 bytes if there is none.
func (t *Transport) ReceiveEvent(b []byte) (int, time.Time, error) {
	return t.receive(t.event, b)
}

// ReceiveGeneral reads a pending general message. It returns 0 bytes if there is none.
func (t *Transport) ReceiveGeneral(b []byte) (int, time.Time, error) {
	return t.receive(t.general, b)
}

func (t *Transport) receive(c *conn, b []byte) (int, time.Time, error) {
	if c == nil {
		return 0, time.Time{}, fmt.Errorf("transport is not initialized")
	}
	if t.cfg.Timestamping == timestamp.User {
		n, _, err := unix.Recvfrom(c.fd, b, 0)
		if errors.Is(err, unix.EAGAIN) {
			return 0, time.Time{}, nil
		}
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("failed to read packet: %w", err)
		}
		return n, time.Now(), nil
	}
	n, _, ts, err := timestamp.ReadPacketWithRXTimestampBuf(c.fd, b, t.oob)
	if errors.Is(err, unix.EAGAIN) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		if n > 0 {
			// packet was read but carries no timestamp
			log.Warningf("no receive timestamp: %v", err)
			return n, time.Time{}, nil
		}
		return 0, time.Time{}, err
	}
	return n, ts, nil
}
