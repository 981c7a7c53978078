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
	"time"

	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/ptp/ptpd/arith"
	"github.com/facebook/ptpd/ptp/ptpd/bmc"
	"github.com/facebook/ptpd/ptp/ptpd/timer"
	"github.com/facebook/ptpd/servo"
)

// handle reads at most one message and dispatches it
func (p *Port) handle() {
	if !p.messageActivity {
		ready, err := p.net.Poll(p.cfg.PollTimeout)
		if err != nil {
			log.Errorf("failed to poll sockets: %v", err)
			p.inc(counterRXError)
			p.ToState(ptp.PortStateFaulty)
			return
		}
		if !ready {
			return
		}
	}

	n, ts, err := p.net.ReceiveEvent(p.rxBuf)
	if err != nil {
		log.Errorf("failed to receive on the event socket: %v", err)
		p.inc(counterRXError)
		p.ToState(ptp.PortStateFaulty)
		return
	}
	if n == 0 {
		n, ts, err = p.net.ReceiveGeneral(p.rxBuf)
		if err != nil {
			log.Errorf("failed to receive on the general socket: %v", err)
			p.inc(counterRXError)
			p.ToState(ptp.PortStateFaulty)
			return
		}
		if n == 0 {
			return
		}
	}
	p.messageActivity = true
	p.HandleMessage(p.rxBuf[:n], ts)
}

// HandleMessage processes a single received message with its receive timestamp
func (p *Port) HandleMessage(b []byte, ts time.Time) {
	if ts.IsZero() {
		log.Warningf("dropping message without receive timestamp")
		p.inc(counterRXNoTimestamp)
		return
	}
	h, err := ptp.UnmarshalHeader(b)
	if err != nil {
		log.Errorf("message shorter than header length: %v", err)
		p.inc(counterRXShortHeader)
		p.ToState(ptp.PortStateFaulty)
		return
	}
	if h.Version&0x0f != ptp.Version {
		p.logf("ignore version %d message", h.Version)
		p.inc(counterRXIgnored)
		return
	}
	if h.DomainNumber != p.cfg.DomainNumber {
		p.logf("ignore message from domain %d", h.DomainNumber)
		p.inc(counterRXIgnored)
		return
	}

	fromSelf := h.SourcePortIdentity == p.local.PortIdentity
	t := arith.FromTime(ts).Add(arith.Time{Seconds: int32(p.parent.CurrentUTCOffset)})
	if !fromSelf && t.Seconds > 0 {
		t = t.Sub(p.inboundLatency)
	}
	p.inc(rxCounter(h.MessageType()))

	switch h.MessageType() {
	case ptp.MessageAnnounce:
		p.handleAnnounce(h, b, fromSelf)
	case ptp.MessageSync:
		p.handleSync(h, b, t, fromSelf)
	case ptp.MessageFollowUp:
		p.handleFollowUp(h, b, fromSelf)
	case ptp.MessageDelayReq:
		p.handleDelayReq(h, b, t, fromSelf)
	case ptp.MessageDelayResp:
		p.handleDelayResp(h, b)
	case ptp.MessagePDelayReq:
		p.handlePDelayReq(h, b, t, fromSelf)
	case ptp.MessagePDelayResp:
		p.handlePDelayResp(h, b, t, fromSelf)
	case ptp.MessagePDelayRespFollowUp:
		p.handlePDelayRespFollowUp(h, b)
	case ptp.MessageManagement, ptp.MessageSignaling:
		p.logf("%s not supported, ignored", h.MessageType())
	default:
		log.Warningf("unrecognized message type %s", h.MessageType())
		p.inc(counterRXDecodeError)
	}
}

// decode unpacks the message body. Short or broken messages are dropped.
func (p *Port) decode(b []byte, pkt ptp.Packet) bool {
	if err := ptp.FromBytes(b, pkt); err != nil {
		log.Warningf("dropping message: %v", err)
		p.inc(counterRXDecodeError)
		return false
	}
	if p.cfg.DisplayPackets {
		p.displayPacket(pkt)
	}
	return true
}

func (p *Port) seqMismatch(format string, args ...interface{}) {
	p.logf(format, args...)
	p.inc(counterRXSequenceMismatch)
}

func (p *Port) restartAnnounceReceipt() {
	p.timers.Start(timer.AnnounceReceipt, float64(p.cfg.AnnounceReceiptTimeout)*p.cfg.LogAnnounceInterval.Seconds())
}

func (p *Port) handleAnnounce(h *ptp.Header, b []byte, fromSelf bool) {
	switch p.state {
	case ptp.PortStateInitializing, ptp.PortStateFaulty, ptp.PortStateDisabled:
		return
	}
	if fromSelf {
		return
	}
	announce := &ptp.Announce{}
	if !p.decode(b, announce) {
		return
	}

	switch p.state {
	case ptp.PortStateUncalibrated, ptp.PortStateSlave:
		p.recordUpdate = true
		if p.isFromCurrentParent(h) {
			bmc.S1(&p.parent, announce)
		} else {
			p.foreign.Add(announce)
		}
		p.restartAnnounceReceipt()
	default:
		p.foreign.Add(announce)
		p.recordUpdate = true
	}
}

func (p *Port) handleSync(h *ptp.Header, b []byte, t arith.Time, fromSelf bool) {
	switch p.state {
	case ptp.PortStateInitializing, ptp.PortStateFaulty, ptp.PortStateDisabled:
		return
	case ptp.PortStateUncalibrated, ptp.PortStateSlave:
		if fromSelf || !p.isFromCurrentParent(h) {
			return
		}
		sync := &ptp.SyncDelayReq{}
		if !p.decode(b, sync) {
			return
		}
		p.syncReceiveTime = t
		p.recordSync(h.SequenceID, t)
		correction := arith.FromCorrection(h.CorrectionField)
		if p.cfg.FollowUpOffset && h.TwoStep() {
			p.waitingForFollowUp = true
			p.recvSyncSequenceID = h.SequenceID
			p.lastSyncCorrection = correction
			return
		}
		p.waitingForFollowUp = false
		p.updateOffset(arith.FromTimestamp(sync.OriginTimestamp), correction)
		p.updateClock()
	default:
		if !fromSelf {
			p.logf("sync from another master %s", h.SourcePortIdentity)
			return
		}
		// our own Sync came back, t is when it left
		if p.cfg.TwoStep {
			p.issueFollowUp(t.Add(p.outboundLatency))
		}
	}
}

func (p *Port) handleFollowUp(h *ptp.Header, b []byte, fromSelf bool) {
	if fromSelf {
		return
	}
	switch p.state {
	case ptp.PortStateUncalibrated, ptp.PortStateSlave:
		if !p.isFromCurrentParent(h) {
			p.logf("follow up is not from current parent")
			return
		}
		if !p.waitingForFollowUp {
			p.logf("slave was not waiting for a follow up")
			return
		}
		if p.recvSyncSequenceID != h.SequenceID {
			p.seqMismatch("follow up sequence %d doesn't match sync %d", h.SequenceID, p.recvSyncSequenceID)
			return
		}
		followUp := &ptp.FollowUp{}
		if !p.decode(b, followUp) {
			return
		}
		p.waitingForFollowUp = false
		correction := arith.FromCorrection(h.CorrectionField).Add(p.lastSyncCorrection)
		p.updateOffset(arith.FromTimestamp(followUp.PreciseOriginTimestamp), correction)
		p.updateClock()
	case ptp.PortStateMaster:
		p.logf("follow up from another master %s", h.SourcePortIdentity)
	}
}

func (p *Port) handleDelayReq(h *ptp.Header, b []byte, t arith.Time, fromSelf bool) {
	if !p.cfg.E2E() {
		p.logf("delay request disregarded in peer to peer mode")
		return
	}
	switch p.state {
	case ptp.PortStateSlave:
		if fromSelf {
			p.delayReqSendTime = t.Add(p.outboundLatency)
		}
	case ptp.PortStateMaster:
		req := &ptp.SyncDelayReq{}
		if !p.decode(b, req) {
			return
		}
		p.issueDelayResp(t, &req.Header)
	}
}

func (p *Port) handleDelayResp(h *ptp.Header, b []byte) {
	if !p.cfg.E2E() {
		p.logf("delay response disregarded in peer to peer mode")
		return
	}
	if p.state != ptp.PortStateSlave {
		return
	}
	resp := &ptp.DelayResp{}
	if !p.decode(b, resp) {
		return
	}
	if !p.isFromCurrentParent(h) ||
		resp.RequestingPortIdentity != p.local.PortIdentity ||
		h.SequenceID != p.sentDelayReqSequenceID-1 {
		p.seqMismatch("delay response %d from %s doesn't match the delay request %d", h.SequenceID, h.SourcePortIdentity, p.sentDelayReqSequenceID-1)
		return
	}
	p.delayReqReceiveTime = arith.FromTimestamp(resp.ReceiveTimestamp)
	if !p.servo.UpdateDelay(p.delayReqSendTime, p.delayReqReceiveTime, arith.FromCorrection(h.CorrectionField)) {
		p.inc(counterServoOutlier)
	}
	p.sample(sampleMeanPathDelay, float64(p.servo.MeanPathDelay().Nanoseconds64()))
	if h.LogMessageInterval >= -7 && h.LogMessageInterval <= 7 {
		p.logMinDelayReqInterval = h.LogMessageInterval
	}
}

func (p *Port) handlePDelayReq(h *ptp.Header, b []byte, t arith.Time, fromSelf bool) {
	if p.cfg.E2E() {
		p.logf("peer delay request disregarded in end to end mode")
		return
	}
	switch p.state {
	case ptp.PortStateSlave, ptp.PortStateMaster, ptp.PortStatePassive:
		if fromSelf {
			p.pdelayReqSendTime = t.Add(p.outboundLatency)
			return
		}
		req := &ptp.PDelayReq{}
		if !p.decode(b, req) {
			return
		}
		p.pdelayReqHeader = req.Header
		p.issuePDelayResp(t, &req.Header)
	}
}

func (p *Port) handlePDelayResp(h *ptp.Header, b []byte, t arith.Time, fromSelf bool) {
	if p.cfg.E2E() {
		p.logf("peer delay response disregarded in end to end mode")
		return
	}
	switch p.state {
	case ptp.PortStateSlave, ptp.PortStateMaster:
	default:
		return
	}
	if fromSelf {
		if p.cfg.TwoStep {
			p.issuePDelayRespFollowUp(t.Add(p.outboundLatency), &p.pdelayReqHeader)
		}
		return
	}
	resp := &ptp.PDelayResp{}
	if !p.decode(b, resp) {
		return
	}
	if h.SequenceID != p.sentPDelayReqSequenceID-1 || resp.RequestingPortIdentity != p.local.PortIdentity {
		p.seqMismatch("peer delay response %d doesn't match the peer delay request %d", h.SequenceID, p.sentPDelayReqSequenceID-1)
		return
	}
	p.pdelayRespReceiveTime = t
	correction := arith.FromCorrection(h.CorrectionField)
	if h.TwoStep() {
		p.pdelayReqReceiveTime = arith.FromTimestamp(resp.RequestReceiptTimestamp)
		p.lastPDelayRespCorrection = correction
		return
	}
	p.updatePeerDelay(correction, false)
}

func (p *Port) handlePDelayRespFollowUp(h *ptp.Header, b []byte) {
	if p.cfg.E2E() {
		p.logf("peer delay response follow up disregarded in end to end mode")
		return
	}
	switch p.state {
	case ptp.PortStateSlave, ptp.PortStateMaster:
	default:
		return
	}
	followUp := &ptp.PDelayRespFollowUp{}
	if !p.decode(b, followUp) {
		return
	}
	if h.SequenceID != p.sentPDelayReqSequenceID-1 || followUp.RequestingPortIdentity != p.local.PortIdentity {
		p.seqMismatch("peer delay response follow up %d doesn't match the peer delay request %d", h.SequenceID, p.sentPDelayReqSequenceID-1)
		return
	}
	p.pdelayRespSendTime = arith.FromTimestamp(followUp.ResponseOriginTimestamp)
	correction := arith.FromCorrection(h.CorrectionField).Add(p.lastPDelayRespCorrection)
	p.updatePeerDelay(correction, true)
}

func (p *Port) updateOffset(origin, correction arith.Time) {
	raw := p.servo.UpdateOffset(origin, p.syncReceiveTime, correction)
	p.sample(sampleOffset, float64(raw.Nanoseconds64()))
	p.set(counterOffset, p.servo.Offset().Nanoseconds64())
	p.set(counterRawOffset, raw.Nanoseconds64())
}

func (p *Port) updatePeerDelay(correction arith.Time, twoStep bool) {
	ok := p.servo.UpdatePeerDelay(p.pdelayReqSendTime, p.pdelayReqReceiveTime, p.pdelayRespSendTime, p.pdelayRespReceiveTime, correction, twoStep)
	if !ok {
		p.inc(counterServoOutlier)
		return
	}
	p.sample(sampleMeanPathDelay, float64(p.servo.MeanPathDelay().Nanoseconds64()))
}

// updateClock asks the servo what to do and applies it to the clock
func (p *Port) updateClock() {
	cmd := p.servo.UpdateClock(uint64(p.syncReceiveTime.Nanoseconds64()))
	p.set(counterMeanPathDelay, p.servo.MeanPathDelay().Nanoseconds64())
	switch cmd.Kind {
	case servo.CommandStep:
		log.Infof("stepping clock by %s", cmd.Step)
		if err := p.clock.Step(cmd.Step.Duration()); err != nil {
			log.Errorf("failed to step clock: %v", err)
			p.inc(counterClockError)
		}
		p.inc(counterClockStep)
		p.initClock()
	case servo.CommandSlew:
		if err := p.clock.AdjFreqPPB(float64(cmd.Freq)); err != nil {
			log.Errorf("failed to adjust clock frequency: %v", err)
			p.inc(counterClockError)
		}
		p.set(counterFreq, int64(cmd.Freq))
	default:
		if cmd.Reason == servo.ReasonOutlier {
			p.inc(counterServoOutlier)
		}
	}
	if p.cfg.DisplayStats {
		p.displayStats()
	}
}
