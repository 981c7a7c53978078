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
Package port implements a PTP ordinary clock port: the state machine,
message handlers and the messages the port sends.

Everything runs in the goroutine calling DoState. The network, the clock and
stats are collaborators behind interfaces.
*/
package port

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/ptp/ptpd/arith"
	"github.com/facebook/ptpd/ptp/ptpd/bmc"
	"github.com/facebook/ptpd/ptp/ptpd/foreign"
	"github.com/facebook/ptpd/ptp/ptpd/timer"
	"github.com/facebook/ptpd/servo"
)

// DelayMechanism selects how path delay is measured
type DelayMechanism string

// Delay mechanisms
const (
	E2E DelayMechanism = "E2E"
	P2P DelayMechanism = "P2P"
)

// Config holds protocol settings of the port
type Config struct {
	PortNumber              uint16            `yaml:"port_number"`
	DomainNumber            uint8             `yaml:"domain_number"`
	TransportSpecific       uint8             `yaml:"transport_specific"`
	SlaveOnly               bool              `yaml:"slave_only"`
	DelayMechanism          DelayMechanism    `yaml:"delay_mechanism"`
	TwoStep                 bool              `yaml:"two_step"`
	LogAnnounceInterval     ptp.LogInterval   `yaml:"log_announce_interval"`
	LogSyncInterval         ptp.LogInterval   `yaml:"log_sync_interval"`
	LogMinDelayReqInterval  ptp.LogInterval   `yaml:"log_min_delay_req_interval"`
	LogMinPdelayReqInterval ptp.LogInterval   `yaml:"log_min_pdelay_req_interval"`
	AnnounceReceiptTimeout  int               `yaml:"announce_receipt_timeout"`
	Priority1               uint8             `yaml:"priority1"`
	Priority2               uint8             `yaml:"priority2"`
	ClockClass              ptp.ClockClass    `yaml:"clock_class"`
	ClockAccuracy           ptp.ClockAccuracy `yaml:"clock_accuracy"`
	OffsetScaledLogVariance uint16            `yaml:"offset_scaled_log_variance"`
	CurrentUTCOffset        int16             `yaml:"current_utc_offset"`
	TimeSource              ptp.TimeSource    `yaml:"time_source"`
	MaxForeignRecords       int               `yaml:"max_foreign_records"`
	InboundLatency          time.Duration     `yaml:"inbound_latency"`
	OutboundLatency         time.Duration     `yaml:"outbound_latency"`
	FollowUpOffset          bool              `yaml:"follow_up_offset"`
	DisplayStats            bool              `yaml:"display_stats"`
	DisplayPackets          bool              `yaml:"display_packets"`
	RecordFile              string            `yaml:"record_file"`
	PollTimeout             time.Duration     `yaml:"poll_timeout"`
	Servo                   servo.Config      `yaml:"servo"`
}

// DefaultConfig returns Config with ptpd defaults
func DefaultConfig() *Config {
	return &Config{
		PortNumber:              1,
		DelayMechanism:          E2E,
		TwoStep:                 true,
		LogAnnounceInterval:     1,
		LogSyncInterval:         0,
		LogMinDelayReqInterval:  0,
		LogMinPdelayReqInterval: 1,
		AnnounceReceiptTimeout:  6,
		Priority1:               248,
		Priority2:               248,
		ClockClass:              ptp.ClockClassDefault,
		ClockAccuracy:           ptp.ClockAccuracyUnknown,
		OffsetScaledLogVariance: 0xffff,
		CurrentUTCOffset:        34,
		TimeSource:              ptp.TimeSourceInternalOscillator,
		MaxForeignRecords:       5,
		PollTimeout:             10 * time.Millisecond,
		Servo:                   *servo.DefaultConfig(),
	}
}

func validLogInterval(name string, i ptp.LogInterval) error {
	if i < -7 || i > 7 {
		return fmt.Errorf("%s must be in [-7, 7], got %d", name, i)
	}
	return nil
}

// Validate Config is sane
func (c *Config) Validate() error {
	if c.DelayMechanism != E2E && c.DelayMechanism != P2P {
		return fmt.Errorf("delay_mechanism must be either %q or %q", E2E, P2P)
	}
	if c.MaxForeignRecords < 1 {
		return fmt.Errorf("max_foreign_records must be at least 1")
	}
	if c.AnnounceReceiptTimeout < 2 {
		return fmt.Errorf("announce_receipt_timeout must be at least 2")
	}
	if c.TransportSpecific > 0x0f {
		return fmt.Errorf("transport_specific must fit in 4 bits")
	}
	if c.PollTimeout < 0 {
		return fmt.Errorf("poll_timeout must be 0 or positive")
	}
	for name, i := range map[string]ptp.LogInterval{
		"log_announce_interval":       c.LogAnnounceInterval,
		"log_sync_interval":           c.LogSyncInterval,
		"log_min_delay_req_interval":  c.LogMinDelayReqInterval,
		"log_min_pdelay_req_interval": c.LogMinPdelayReqInterval,
	} {
		if err := validLogInterval(name, i); err != nil {
			return err
		}
	}
	if err := c.Servo.Validate(); err != nil {
		return fmt.Errorf("invalid servo config: %w", err)
	}
	return nil
}

// E2E reports whether end to end delay mechanism is used
func (c *Config) E2E() bool {
	return c.DelayMechanism == E2E
}

// Network sends and receives PTP messages
type Network interface {
	Init() error
	Shutdown() error
	SendEvent(b []byte) error
	SendGeneral(b []byte) error
	SendPeerEvent(b []byte) error
	SendPeerGeneral(b []byte) error
	// Poll waits up to timeout for any socket to become readable
	Poll(timeout time.Duration) (bool, error)
	// ReceiveEvent returns 0 bytes if nothing is pending
	ReceiveEvent(b []byte) (int, time.Time, error)
	ReceiveGeneral(b []byte) (int, time.Time, error)
}

// Clock is the clock the port disciplines
type Clock interface {
	GetTime() (time.Time, error)
	Step(step time.Duration) error
	AdjFreqPPB(freqPPB float64) error
}

// StatsServer is a stats server interface
type StatsServer interface {
	SetCounter(key string, val int64)
	UpdateCounterBy(key string, count int64)
	AddSample(key string, val float64)
}

// Port is a single PTP port of an ordinary clock
type Port struct {
	cfg   *Config
	net   Network
	clock Clock
	stats StatsServer

	servo   *servo.Engine
	timers  *timer.Timers
	foreign *foreign.Table
	record  *Record

	local  bmc.Local
	parent bmc.Parent
	state  ptp.PortState

	recordUpdate    bool
	messageActivity bool

	logMinDelayReqInterval ptp.LogInterval

	sentAnnounceSequenceID  uint16
	sentSyncSequenceID      uint16
	sentDelayReqSequenceID  uint16
	sentPDelayReqSequenceID uint16
	recvSyncSequenceID      uint16

	waitingForFollowUp       bool
	lastSyncCorrection       arith.Time
	lastPDelayRespCorrection arith.Time
	syncReceiveTime          arith.Time
	delayReqSendTime         arith.Time
	delayReqReceiveTime      arith.Time
	pdelayReqSendTime        arith.Time
	pdelayReqReceiveTime     arith.Time
	pdelayRespSendTime       arith.Time
	pdelayRespReceiveTime    arith.Time
	pdelayReqHeader          ptp.Header

	inboundLatency  arith.Time
	outboundLatency arith.Time

	rxBuf []byte
	txBuf []byte
}

// New creates a Port in INITIALIZING state
func New(cfg *Config, clockID ptp.ClockIdentity, n Network, c Clock, ticks timer.TickSource, stats StatsServer) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s, err := servo.NewEngine(&cfg.Servo)
	if err != nil {
		return nil, err
	}
	p := &Port{
		cfg:     cfg,
		net:     n,
		clock:   c,
		stats:   stats,
		servo:   s,
		timers:  timer.New(ticks),
		foreign: foreign.NewTable(cfg.MaxForeignRecords),
		state:   ptp.PortStateInitializing,
		local: bmc.Local{
			PortIdentity: ptp.PortIdentity{ClockIdentity: clockID, PortNumber: cfg.PortNumber},
			Priority1:    cfg.Priority1,
			Priority2:    cfg.Priority2,
			ClockQuality: ptp.ClockQuality{
				ClockClass:              cfg.ClockClass,
				ClockAccuracy:           cfg.ClockAccuracy,
				OffsetScaledLogVariance: cfg.OffsetScaledLogVariance,
			},
			SlaveOnly:        cfg.SlaveOnly,
			CurrentUTCOffset: cfg.CurrentUTCOffset,
			TimeSource:       cfg.TimeSource,
		},
		inboundLatency:  arith.FromDuration(cfg.InboundLatency),
		outboundLatency: arith.FromDuration(cfg.OutboundLatency),
		rxBuf:           make([]byte, 512),
		txBuf:           make([]byte, 512),
	}
	if cfg.SlaveOnly {
		p.local.ClockQuality.ClockClass = ptp.ClockClassSlaveOnly
	}
	if cfg.RecordFile != "" {
		p.record, err = OpenRecord(cfg.RecordFile)
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// State returns current port state
func (p *Port) State() ptp.PortState {
	return p.state
}

// PortIdentity returns identity of the port
func (p *Port) PortIdentity() ptp.PortIdentity {
	return p.local.PortIdentity
}

// Parent returns a copy of parent data set
func (p *Port) Parent() bmc.Parent {
	return p.parent
}

// Servo returns the measurement engine
func (p *Port) Servo() *servo.Engine {
	return p.servo
}

// Foreign returns the foreign master table
func (p *Port) Foreign() *foreign.Table {
	return p.foreign
}

// Record returns the record file, nil if not configured
func (p *Port) Record() *Record {
	return p.record
}

// Close releases resources held by the port
func (p *Port) Close() error {
	var err error
	if p.record != nil {
		err = p.record.Close()
	}
	if nerr := p.net.Shutdown(); nerr != nil && err == nil {
		err = nerr
	}
	return err
}

func (p *Port) inc(key string) {
	if p.stats != nil {
		p.stats.UpdateCounterBy(key, 1)
	}
}

func (p *Port) set(key string, val int64) {
	if p.stats != nil {
		p.stats.SetCounter(key, val)
	}
}

func (p *Port) sample(key string, val float64) {
	if p.stats != nil {
		p.stats.AddSample(key, val)
	}
}

// now returns clock time on the PTP timescale
func (p *Port) now() (arith.Time, error) {
	t, err := p.clock.GetTime()
	if err != nil {
		return arith.Time{}, err
	}
	return arith.FromTime(t).Add(arith.Time{Seconds: int32(p.parent.CurrentUTCOffset)}), nil
}

func (p *Port) isFromCurrentParent(h *ptp.Header) bool {
	return h.SourcePortIdentity == p.parent.ParentPortIdentity
}

func (p *Port) logf(format string, args ...interface{}) {
	log.Debugf("port %d: "+format, append([]interface{}{p.local.PortIdentity.PortNumber}, args...)...)
}
