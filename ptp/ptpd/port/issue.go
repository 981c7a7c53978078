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
)

type sendFunc func(b []byte) error

func (p *Port) header(msgType ptp.MessageType, length int, seq uint16, interval ptp.LogInterval) ptp.Header {
	h := ptp.Header{
		TransportAndMsgType: ptp.NewTransportAndMsgType(msgType, p.cfg.TransportSpecific),
		Version:             ptp.Version,
		MessageLength:       uint16(length),
		DomainNumber:        p.cfg.DomainNumber,
		SourcePortIdentity:  p.local.PortIdentity,
		SequenceID:          seq,
		ControlField:        ptp.ControlFor(msgType),
		LogMessageInterval:  interval,
	}
	if p.cfg.TwoStep {
		switch msgType {
		case ptp.MessageSync, ptp.MessagePDelayResp:
			h.FlagField |= ptp.FlagTwoStep
		}
	}
	return h
}

// send serializes the packet and hands it to the network. Failure makes the port FAULTY.
func (p *Port) send(pkt ptp.Packet, fn sendFunc) bool {
	n, err := ptp.BytesTo(pkt, p.txBuf)
	if err != nil {
		log.Errorf("failed to marshal %s: %v", pkt.MessageType(), err)
		p.inc(counterTXError)
		p.ToState(ptp.PortStateFaulty)
		return false
	}
	if p.cfg.DisplayPackets {
		p.displayPacket(pkt)
	}
	if err := fn(p.txBuf[:n]); err != nil {
		log.Errorf("failed to send %s: %v", pkt.MessageType(), err)
		p.inc(counterTXError)
		p.ToState(ptp.PortStateFaulty)
		return false
	}
	p.inc(txCounter(pkt.MessageType()))
	return true
}

// originTime is now() or zero if the clock can't be read
func (p *Port) originTime() arith.Time {
	t, err := p.now()
	if err != nil {
		log.Errorf("failed to read clock: %v", err)
		p.inc(counterClockError)
	}
	return t
}

func (p *Port) issueAnnounce() {
	a := &ptp.Announce{
		Header: p.header(ptp.MessageAnnounce, ptp.AnnounceLength, p.sentAnnounceSequenceID, p.cfg.LogAnnounceInterval),
		AnnounceBody: ptp.AnnounceBody{
			OriginTimestamp:         p.originTime().Timestamp(),
			CurrentUTCOffset:        p.parent.CurrentUTCOffset,
			GrandmasterPriority1:    p.parent.GrandmasterPriority1,
			GrandmasterClockQuality: p.parent.GrandmasterClockQuality,
			GrandmasterPriority2:    p.parent.GrandmasterPriority2,
			GrandmasterIdentity:     p.parent.GrandmasterIdentity,
			StepsRemoved:            p.parent.StepsRemoved,
			TimeSource:              p.parent.TimeSource,
		},
	}
	if p.send(a, p.net.SendGeneral) {
		p.sentAnnounceSequenceID++
	}
}

func (p *Port) issueSync() {
	s := &ptp.SyncDelayReq{
		Header: p.header(ptp.MessageSync, ptp.SyncLength, p.sentSyncSequenceID, p.cfg.LogSyncInterval),
		SyncDelayReqBody: ptp.SyncDelayReqBody{
			OriginTimestamp: p.originTime().Timestamp(),
		},
	}
	if p.send(s, p.net.SendEvent) {
		p.sentSyncSequenceID++
	}
}

// issueFollowUp announces the precise send time of the last Sync
func (p *Port) issueFollowUp(precise arith.Time) {
	f := &ptp.FollowUp{
		Header: p.header(ptp.MessageFollowUp, ptp.FollowUpLength, p.sentSyncSequenceID-1, p.cfg.LogSyncInterval),
		FollowUpBody: ptp.FollowUpBody{
			PreciseOriginTimestamp: precise.Timestamp(),
		},
	}
	p.send(f, p.net.SendGeneral)
}

func (p *Port) issueDelayReq() {
	d := &ptp.SyncDelayReq{
		Header: p.header(ptp.MessageDelayReq, ptp.DelayReqLength, p.sentDelayReqSequenceID, ptp.LogIntervalUnused),
		SyncDelayReqBody: ptp.SyncDelayReqBody{
			OriginTimestamp: p.originTime().Timestamp(),
		},
	}
	if p.send(d, p.net.SendEvent) {
		p.sentDelayReqSequenceID++
	}
}

// issueDelayResp answers a Delay_Req received at t
func (p *Port) issueDelayResp(t arith.Time, req *ptp.Header) {
	h := p.header(ptp.MessageDelayResp, ptp.DelayRespLength, req.SequenceID, p.logMinDelayReqInterval)
	h.DomainNumber = req.DomainNumber
	h.CorrectionField = req.CorrectionField
	d := &ptp.DelayResp{
		Header: h,
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       t.Timestamp(),
			RequestingPortIdentity: req.SourcePortIdentity,
		},
	}
	p.send(d, p.net.SendGeneral)
}

func (p *Port) issuePDelayReq() {
	d := &ptp.PDelayReq{
		Header: p.header(ptp.MessagePDelayReq, ptp.PDelayReqLength, p.sentPDelayReqSequenceID, ptp.LogIntervalUnused),
		PDelayReqBody: ptp.PDelayReqBody{
			OriginTimestamp: p.originTime().Timestamp(),
		},
	}
	if p.send(d, p.net.SendPeerEvent) {
		p.sentPDelayReqSequenceID++
	}
}

// issuePDelayResp answers a Pdelay_Req received at t
func (p *Port) issuePDelayResp(t arith.Time, req *ptp.Header) {
	h := p.header(ptp.MessagePDelayResp, ptp.PDelayRespLength, req.SequenceID, ptp.LogIntervalUnused)
	h.DomainNumber = req.DomainNumber
	d := &ptp.PDelayResp{
		Header: h,
		PDelayRespBody: ptp.PDelayRespBody{
			RequestReceiptTimestamp: t.Timestamp(),
			RequestingPortIdentity:  req.SourcePortIdentity,
		},
	}
	p.send(d, p.net.SendPeerEvent)
}

// issuePDelayRespFollowUp announces when our Pdelay_Resp to req actually left
func (p *Port) issuePDelayRespFollowUp(t arith.Time, req *ptp.Header) {
	h := p.header(ptp.MessagePDelayRespFollowUp, ptp.PDelayRespFollowUpLength, req.SequenceID, ptp.LogIntervalUnused)
	h.CorrectionField = req.CorrectionField
	d := &ptp.PDelayRespFollowUp{
		Header: h,
		PDelayRespFollowUpBody: ptp.PDelayRespFollowUpBody{
			ResponseOriginTimestamp: t.Timestamp(),
			RequestingPortIdentity:  req.SourcePortIdentity,
		},
	}
	p.send(d, p.net.SendPeerGeneral)
}
