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

package port

import (
	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/ptp/ptpd/arith"
	"github.com/facebook/ptpd/ptp/ptpd/bmc"
	"github.com/facebook/ptpd/ptp/ptpd/timer"
)

// ToState runs exit actions of the current state and entry actions of the new one
func (p *Port) ToState(state ptp.PortState) {
	p.messageActivity = true
	log.Infof("state %s -> %s", p.state, state)

	switch p.state {
	case ptp.PortStateMaster:
		p.timers.Stop(timer.SyncInterval)
		p.timers.Stop(timer.AnnounceInterval)
		p.timers.Stop(timer.PDelayReqInterval)
	case ptp.PortStateSlave:
		p.timers.Stop(timer.AnnounceReceipt)
		if p.cfg.E2E() {
			p.timers.Stop(timer.DelayReqInterval)
		} else {
			p.timers.Stop(timer.PDelayReqInterval)
		}
		p.initClock()
	case ptp.PortStatePassive:
		p.timers.Stop(timer.PDelayReqInterval)
		p.timers.Stop(timer.AnnounceReceipt)
	case ptp.PortStateListening:
		p.timers.Stop(timer.AnnounceReceipt)
	}

	announceReceipt := float64(p.cfg.AnnounceReceiptTimeout) * p.cfg.LogAnnounceInterval.Seconds()
	switch state {
	case ptp.PortStateListening:
		p.timers.Start(timer.AnnounceReceipt, announceReceipt)
	case ptp.PortStateMaster:
		p.timers.Start(timer.SyncInterval, p.cfg.LogSyncInterval.Seconds())
		p.timers.Start(timer.AnnounceInterval, p.cfg.LogAnnounceInterval.Seconds())
		if !p.cfg.E2E() {
			p.timers.Start(timer.PDelayReqInterval, p.cfg.LogMinPdelayReqInterval.Seconds())
		}
	case ptp.PortStatePassive:
		if !p.cfg.E2E() {
			p.timers.Start(timer.PDelayReqInterval, p.cfg.LogMinPdelayReqInterval.Seconds())
		}
		p.timers.Start(timer.AnnounceReceipt, announceReceipt)
	case ptp.PortStateSlave:
		p.initClock()
		p.servo.SetSyncInterval(p.cfg.LogSyncInterval.Seconds())
		p.waitingForFollowUp = false
		p.pdelayReqSendTime = arith.Time{}
		p.pdelayReqReceiveTime = arith.Time{}
		p.pdelayRespSendTime = arith.Time{}
		p.pdelayRespReceiveTime = arith.Time{}
		p.timers.Start(timer.AnnounceReceipt, announceReceipt)
		if p.cfg.E2E() {
			p.timers.Start(timer.DelayReqInterval, p.logMinDelayReqInterval.Seconds())
		} else {
			p.timers.Start(timer.PDelayReqInterval, p.cfg.LogMinPdelayReqInterval.Seconds())
		}
	}
	p.state = state
	p.set(counterPortState, int64(state))
	if p.cfg.DisplayStats {
		p.displayStats()
	}
}

// initClock resets servo state and levels the clock frequency
func (p *Port) initClock() {
	p.servo.Reset()
	if p.cfg.Servo.NoAdjust {
		return
	}
	if err := p.clock.AdjFreqPPB(0); err != nil {
		log.Errorf("failed to reset clock frequency: %v", err)
		p.inc(counterClockError)
	}
}

func (p *Port) initData() {
	p.foreign.Clear()
	p.recordUpdate = false
	p.waitingForFollowUp = false
	p.logMinDelayReqInterval = p.cfg.LogMinDelayReqInterval
}

// doInit (re)initializes network, data sets and clock, then moves to LISTENING
func (p *Port) doInit() {
	log.Infof("initializing port %s", p.local.PortIdentity)
	if err := p.net.Shutdown(); err != nil {
		log.Debugf("network shutdown: %v", err)
	}
	if err := p.net.Init(); err != nil {
		log.Errorf("failed to initialize network: %v", err)
		p.inc(counterInitError)
		p.ToState(ptp.PortStateFaulty)
		return
	}
	p.initData()
	p.timers.Reset()
	p.initClock()
	bmc.M1(&p.local, &p.parent)
	p.ToState(ptp.PortStateListening)
}

func (p *Port) slaveOnly() bool {
	return p.local.SlaveOnly || p.local.ClockQuality.ClockClass == ptp.ClockClassSlaveOnly
}

// DoState runs one iteration of the state machine: state decision, message handling and timers
func (p *Port) DoState() {
	if p.state == ptp.PortStateInitializing {
		p.doInit()
		return
	}
	p.messageActivity = false

	switch p.state {
	case ptp.PortStateListening, ptp.PortStatePassive, ptp.PortStateSlave, ptp.PortStateMaster:
		if p.recordUpdate {
			p.recordUpdate = false
			state := bmc.Recommend(&p.local, &p.parent, p.foreign)
			if state != p.state {
				p.ToState(state)
			}
		}
	}

	switch p.state {
	case ptp.PortStateFaulty:
		p.ToState(ptp.PortStateInitializing)
	case ptp.PortStateListening, ptp.PortStatePassive, ptp.PortStateUncalibrated, ptp.PortStateSlave:
		p.handle()
		if p.state == ptp.PortStateFaulty {
			return
		}
		if p.timers.Expired(timer.AnnounceReceipt) {
			log.Infof("announce receipt timeout")
			p.foreign.Clear()
			if !p.slaveOnly() {
				bmc.M1(&p.local, &p.parent)
				p.ToState(ptp.PortStateMaster)
			} else if p.state != ptp.PortStateListening {
				p.ToState(ptp.PortStateListening)
			}
		}
		if p.cfg.E2E() {
			if p.timers.Expired(timer.DelayReqInterval) {
				p.issueDelayReq()
			}
		} else if p.timers.Expired(timer.PDelayReqInterval) {
			p.issuePDelayReq()
		}
	case ptp.PortStateMaster:
		if p.timers.Expired(timer.SyncInterval) {
			p.issueSync()
		}
		if p.timers.Expired(timer.AnnounceInterval) {
			p.issueAnnounce()
		}
		if !p.cfg.E2E() && p.timers.Expired(timer.PDelayReqInterval) {
			p.issuePDelayReq()
		}
		if p.state != ptp.PortStateMaster {
			return
		}
		p.handle()
		if p.state == ptp.PortStateMaster && p.slaveOnly() {
			p.ToState(ptp.PortStateListening)
		}
	case ptp.PortStateDisabled:
		p.handle()
	}
}
