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

// Package protocol implements the PTPv2 (IEEE 1588-2008) wire format used by an ordinary clock.
// All references are given for IEEE 1588-2008.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Version is what version of PTP protocol we implement
const Version uint8 = 2

// UDP port numbers.
// The UDP destination port of a PTP event message shall be 319.
// The UDP destination port of a PTP general message shall be 320.
const (
	PortEvent   = 319
	PortGeneral = 320
)

// Multicast destinations, Annex D.3
const (
	DefaultMulticastAddress = "224.0.1.129"
	PeerMulticastAddress    = "224.0.0.107"
)

// Message lengths on the wire
const (
	HeaderLength             = 34
	AnnounceLength           = 64
	SyncLength               = 44
	FollowUpLength           = 44
	DelayReqLength           = 44
	DelayRespLength          = 54
	PDelayReqLength          = 54
	PDelayRespLength         = 54
	PDelayRespFollowUpLength = 54
	ManagementLength         = 48
	SignalingLength          = 44
)

// MinLength returns the shortest acceptable buffer for the message type
func MinLength(t MessageType) (int, error) {
	switch t {
	case MessageSync:
		return SyncLength, nil
	case MessageDelayReq:
		return DelayReqLength, nil
	case MessagePDelayReq:
		return PDelayReqLength, nil
	case MessagePDelayResp:
		return PDelayRespLength, nil
	case MessageFollowUp:
		return FollowUpLength, nil
	case MessageDelayResp:
		return DelayRespLength, nil
	case MessagePDelayRespFollowUp:
		return PDelayRespFollowUpLength, nil
	case MessageAnnounce:
		return AnnounceLength, nil
	case MessageSignaling:
		return SignalingLength, nil
	case MessageManagement:
		return ManagementLength, nil
	}
	return 0, &DecodeError{Type: t, Err: ErrUnknownType}
}

// Table 23 controlField values
const (
	ControlSync      uint8 = 0
	ControlDelayReq  uint8 = 1
	ControlFollowUp  uint8 = 2
	ControlDelayResp uint8 = 3
	ControlOther     uint8 = 5
)

// ControlFor returns controlField value for the message type
func ControlFor(t MessageType) uint8 {
	switch t {
	case MessageSync:
		return ControlSync
	case MessageDelayReq:
		return ControlDelayReq
	case MessageFollowUp:
		return ControlFollowUp
	case MessageDelayResp:
		return ControlDelayResp
	}
	return ControlOther
}

// Header Table 18 Common message header
type Header struct {
	TransportAndMsgType TransportAndMsgType // first 4 bits is transportSpecific, next 4 bits are msgtype
	Version             uint8
	MessageLength       uint16
	DomainNumber        uint8
	FlagField           uint16
	CorrectionField     Correction
	SourcePortIdentity  PortIdentity
	SequenceID          uint16
	ControlField        uint8
	LogMessageInterval  LogInterval
}

// MessageType returns MessageType
func (p *Header) MessageType() MessageType {
	return p.TransportAndMsgType.MsgType()
}

// SetSequence populates sequence field
func (p *Header) SetSequence(sequence uint16) {
	p.SequenceID = sequence
}

// TwoStep reports whether TWO_STEP flag is set
func (p *Header) TwoStep() bool {
	return p.FlagField&FlagTwoStep != 0
}

// flags used in FlagField as per Table 20 Values of flagField
const (
	// first octet
	FlagAlternateMaster  uint16 = 1 << (8 + 0)
	FlagTwoStep          uint16 = 1 << (8 + 1)
	FlagUnicast          uint16 = 1 << (8 + 2)
	FlagProfileSpecific1 uint16 = 1 << (8 + 5)
	FlagProfileSpecific2 uint16 = 1 << (8 + 6)
	// second octet
	FlagLeap61                uint16 = 1 << 0
	FlagLeap59                uint16 = 1 << 1
	FlagCurrentUtcOffsetValid uint16 = 1 << 2
	FlagPTPTimescale          uint16 = 1 << 3
	FlagTimeTraceable         uint16 = 1 << 4
	FlagFrequencyTraceable    uint16 = 1 << 5
)

// headerMarshalBinaryTo writes the 34 header octets, reserved ones zeroed
func headerMarshalBinaryTo(p *Header, b []byte) int {
	b[0] = byte(p.TransportAndMsgType)
	b[1] = p.Version & 0x0f
	binary.BigEndian.PutUint16(b[2:], p.MessageLength)
	b[4] = p.DomainNumber
	b[5] = 0
	binary.BigEndian.PutUint16(b[6:], p.FlagField)
	hi, lo := p.CorrectionField.Halves()
	binary.BigEndian.PutUint32(b[8:], hi)
	binary.BigEndian.PutUint32(b[12:], lo)
	copy(b[16:20], []byte{0, 0, 0, 0})
	p.SourcePortIdentity.marshalTo(b[20:])
	binary.BigEndian.PutUint16(b[30:], p.SequenceID)
	b[32] = p.ControlField
	b[33] = byte(p.LogMessageInterval)
	return HeaderLength
}

func unmarshalHeader(p *Header, b []byte) {
	p.TransportAndMsgType = TransportAndMsgType(b[0])
	p.Version = b[1] & 0x0f
	p.MessageLength = binary.BigEndian.Uint16(b[2:])
	p.DomainNumber = b[4]
	p.FlagField = binary.BigEndian.Uint16(b[6:])
	p.CorrectionField = CorrectionFromHalves(binary.BigEndian.Uint32(b[8:]), binary.BigEndian.Uint32(b[12:]))
	p.SourcePortIdentity = unmarshalPortIdentity(b[20:])
	p.SequenceID = binary.BigEndian.Uint16(b[30:])
	p.ControlField = b[32]
	p.LogMessageInterval = LogInterval(b[33])
}

// UnmarshalHeader decodes the common header only
func UnmarshalHeader(b []byte) (*Header, error) {
	if len(b) < HeaderLength {
		return nil, &DecodeError{Need: HeaderLength, Have: len(b), Err: ErrShortHeader}
	}
	h := &Header{}
	unmarshalHeader(h, b)
	return h, nil
}

func checkBuffer(b []byte, need int) error {
	if len(b) < HeaderLength {
		return &DecodeError{Need: HeaderLength, Have: len(b), Err: ErrShortHeader}
	}
	if len(b) < need {
		return &DecodeError{Type: TransportAndMsgType(b[0]).MsgType(), Need: need, Have: len(b), Err: ErrShortMessage}
	}
	return nil
}

// General PTP messages

// AnnounceBody Table 25 Announce message fields
type AnnounceBody struct {
	OriginTimestamp         Timestamp
	CurrentUTCOffset        int16
	GrandmasterPriority1    uint8
	GrandmasterClockQuality ClockQuality
	GrandmasterPriority2    uint8
	GrandmasterIdentity     ClockIdentity
	StepsRemoved            uint16
	TimeSource              TimeSource
}

// Announce is a full Announce packet
type Announce struct {
	Header
	AnnounceBody
}

// MarshalBinaryTo marshals Announce into b
func (p *Announce) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < AnnounceLength {
		return 0, fmt.Errorf("not enough buffer to write Announce")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	p.OriginTimestamp.marshalTo(b[n:])
	binary.BigEndian.PutUint16(b[44:], uint16(p.CurrentUTCOffset))
	b[46] = 0
	b[47] = p.GrandmasterPriority1
	b[48] = byte(p.GrandmasterClockQuality.ClockClass)
	b[49] = byte(p.GrandmasterClockQuality.ClockAccuracy)
	binary.BigEndian.PutUint16(b[50:], p.GrandmasterClockQuality.OffsetScaledLogVariance)
	b[52] = p.GrandmasterPriority2
	binary.BigEndian.PutUint64(b[53:], uint64(p.GrandmasterIdentity))
	binary.BigEndian.PutUint16(b[61:], p.StepsRemoved)
	b[63] = byte(p.TimeSource)
	return AnnounceLength, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *Announce) UnmarshalBinary(b []byte) error {
	if err := checkBuffer(b, AnnounceLength); err != nil {
		return err
	}
	unmarshalHeader(&p.Header, b)
	p.OriginTimestamp = unmarshalTimestamp(b[34:])
	p.CurrentUTCOffset = int16(binary.BigEndian.Uint16(b[44:]))
	p.GrandmasterPriority1 = b[47]
	p.GrandmasterClockQuality.ClockClass = ClockClass(b[48])
	p.GrandmasterClockQuality.ClockAccuracy = ClockAccuracy(b[49])
	p.GrandmasterClockQuality.OffsetScaledLogVariance = binary.BigEndian.Uint16(b[50:])
	p.GrandmasterPriority2 = b[52]
	p.GrandmasterIdentity = ClockIdentity(binary.BigEndian.Uint64(b[53:]))
	p.StepsRemoved = binary.BigEndian.Uint16(b[61:])
	p.TimeSource = TimeSource(b[63])
	return nil
}

// SyncDelayReqBody Table 26 Sync and Delay_Req message fields
type SyncDelayReqBody struct {
	OriginTimestamp Timestamp
}

// SyncDelayReq is a full Sync/Delay_Req packet
type SyncDelayReq struct {
	Header
	SyncDelayReqBody
}

// MarshalBinaryTo marshals Sync or Delay_Req into b
func (p *SyncDelayReq) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < SyncLength {
		return 0, fmt.Errorf("not enough buffer to write %s", p.MessageType())
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	p.OriginTimestamp.marshalTo(b[n:])
	return SyncLength, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *SyncDelayReq) UnmarshalBinary(b []byte) error {
	if err := checkBuffer(b, SyncLength); err != nil {
		return err
	}
	unmarshalHeader(&p.Header, b)
	p.OriginTimestamp = unmarshalTimestamp(b[34:])
	return nil
}

// FollowUpBody Table 27 Follow_Up message fields
type FollowUpBody struct {
	PreciseOriginTimestamp Timestamp
}

// FollowUp is a full Follow_Up packet
type FollowUp struct {
	Header
	FollowUpBody
}

// MarshalBinaryTo marshals Follow_Up into b
func (p *FollowUp) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < FollowUpLength {
		return 0, fmt.Errorf("not enough buffer to write FollowUp")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	p.PreciseOriginTimestamp.marshalTo(b[n:])
	return FollowUpLength, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *FollowUp) UnmarshalBinary(b []byte) error {
	if err := checkBuffer(b, FollowUpLength); err != nil {
		return err
	}
	unmarshalHeader(&p.Header, b)
	p.PreciseOriginTimestamp = unmarshalTimestamp(b[34:])
	return nil
}

// DelayRespBody Table 28 Delay_Resp message fields
type DelayRespBody struct {
	ReceiveTimestamp       Timestamp
	RequestingPortIdentity PortIdentity
}

// DelayResp is a full Delay_Resp packet
type DelayResp struct {
	Header
	DelayRespBody
}

// MarshalBinaryTo marshals Delay_Resp into b
func (p *DelayResp) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < DelayRespLength {
		return 0, fmt.Errorf("not enough buffer to write DelayResp")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	p.ReceiveTimestamp.marshalTo(b[n:])
	p.RequestingPortIdentity.marshalTo(b[44:])
	return DelayRespLength, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *DelayResp) UnmarshalBinary(b []byte) error {
	if err := checkBuffer(b, DelayRespLength); err != nil {
		return err
	}
	unmarshalHeader(&p.Header, b)
	p.ReceiveTimestamp = unmarshalTimestamp(b[34:])
	p.RequestingPortIdentity = unmarshalPortIdentity(b[44:])
	return nil
}

// PDelayReqBody Table 29 Pdelay_Req message fields
type PDelayReqBody struct {
	OriginTimestamp Timestamp
}

// PDelayReq is a full Pdelay_Req packet. The 10 reserved octets are always written as zeroes.
type PDelayReq struct {
	Header
	PDelayReqBody
}

// MarshalBinaryTo marshals Pdelay_Req into b
func (p *PDelayReq) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < PDelayReqLength {
		return 0, fmt.Errorf("not enough buffer to write PDelayReq")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	p.OriginTimestamp.marshalTo(b[n:])
	copy(b[44:54], make([]byte, 10))
	return PDelayReqLength, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *PDelayReq) UnmarshalBinary(b []byte) error {
	if err := checkBuffer(b, PDelayReqLength); err != nil {
		return err
	}
	unmarshalHeader(&p.Header, b)
	p.OriginTimestamp = unmarshalTimestamp(b[34:])
	return nil
}

// PDelayRespBody Table 30 Pdelay_Resp message fields
type PDelayRespBody struct {
	RequestReceiptTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayResp is a full Pdelay_Resp packet
type PDelayResp struct {
	Header
	PDelayRespBody
}

// MarshalBinaryTo marshals Pdelay_Resp into b
func (p *PDelayResp) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < PDelayRespLength {
		return 0, fmt.Errorf("not enough buffer to write PDelayResp")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	p.RequestReceiptTimestamp.marshalTo(b[n:])
	p.RequestingPortIdentity.marshalTo(b[44:])
	return PDelayRespLength, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *PDelayResp) UnmarshalBinary(b []byte) error {
	if err := checkBuffer(b, PDelayRespLength); err != nil {
		return err
	}
	unmarshalHeader(&p.Header, b)
	p.RequestReceiptTimestamp = unmarshalTimestamp(b[34:])
	p.RequestingPortIdentity = unmarshalPortIdentity(b[44:])
	return nil
}

// PDelayRespFollowUpBody Table 31 Pdelay_Resp_Follow_Up message fields
type PDelayRespFollowUpBody struct {
	ResponseOriginTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayRespFollowUp is a full Pdelay_Resp_Follow_Up packet
type PDelayRespFollowUp struct {
	Header
	PDelayRespFollowUpBody
}

// MarshalBinaryTo marshals Pdelay_Resp_Follow_Up into b
func (p *PDelayRespFollowUp) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < PDelayRespFollowUpLength {
		return 0, fmt.Errorf("not enough buffer to write PDelayRespFollowUp")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	p.ResponseOriginTimestamp.marshalTo(b[n:])
	p.RequestingPortIdentity.marshalTo(b[44:])
	return PDelayRespFollowUpLength, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *PDelayRespFollowUp) UnmarshalBinary(b []byte) error {
	if err := checkBuffer(b, PDelayRespFollowUpLength); err != nil {
		return err
	}
	unmarshalHeader(&p.Header, b)
	p.ResponseOriginTimestamp = unmarshalTimestamp(b[34:])
	p.RequestingPortIdentity = unmarshalPortIdentity(b[44:])
	return nil
}

// Opaque is a Management or Signaling packet. Only the header is decoded,
// the rest is kept as is.
type Opaque struct {
	Header
	Payload []byte
}

// MarshalBinaryTo marshals the header and copies the payload
func (p *Opaque) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < HeaderLength+len(p.Payload) {
		return 0, fmt.Errorf("not enough buffer to write %s", p.MessageType())
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	return n + copy(b[n:], p.Payload), nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *Opaque) UnmarshalBinary(b []byte) error {
	if err := checkBuffer(b, HeaderLength); err != nil {
		return err
	}
	unmarshalHeader(&p.Header, b)
	need, err := MinLength(p.MessageType())
	if err != nil {
		return err
	}
	if err := checkBuffer(b, need); err != nil {
		return err
	}
	p.Payload = append([]byte(nil), b[HeaderLength:]...)
	return nil
}

// Packet is an interface to abstract all different packets
type Packet interface {
	MessageType() MessageType
	SetSequence(uint16)
	MarshalBinaryTo([]byte) (int, error)
	UnmarshalBinary([]byte) error
}

// BytesTo marshals packet into provided buffer, returning number of bytes written
func BytesTo(p Packet, buf []byte) (int, error) {
	return p.MarshalBinaryTo(buf)
}

// Bytes converts any packet to []bytes
func Bytes(p Packet) ([]byte, error) {
	buf := make([]byte, 512)
	n, err := p.MarshalBinaryTo(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// FromBytes parses []byte into any packet
func FromBytes(rawBytes []byte, p Packet) error {
	return p.UnmarshalBinary(rawBytes)
}

// DecodePacket provides single entry point to try and decode any []bytes to PTPv2 packet.
// Resulting Packet user can then either switch based on MessageType(), or just with type switch.
func DecodePacket(b []byte) (Packet, error) {
	msgType, err := ProbeMsgType(b)
	if err != nil {
		return nil, &DecodeError{Need: HeaderLength, Have: len(b), Err: ErrShortHeader}
	}
	if len(b) < HeaderLength {
		return nil, &DecodeError{Type: msgType, Need: HeaderLength, Have: len(b), Err: ErrShortHeader}
	}
	var p Packet
	switch msgType {
	case MessageSync, MessageDelayReq:
		p = &SyncDelayReq{}
	case MessagePDelayReq:
		p = &PDelayReq{}
	case MessagePDelayResp:
		p = &PDelayResp{}
	case MessageFollowUp:
		p = &FollowUp{}
	case MessageDelayResp:
		p = &DelayResp{}
	case MessagePDelayRespFollowUp:
		p = &PDelayRespFollowUp{}
	case MessageAnnounce:
		p = &Announce{}
	case MessageSignaling, MessageManagement:
		p = &Opaque{}
	default:
		return nil, &DecodeError{Type: msgType, Err: ErrUnknownType}
	}

	if err := FromBytes(b, p); err != nil {
		return nil, err
	}
	return p, nil
}
