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

package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPortIdentity = PortIdentity{
	PortNumber:    1,
	ClockIdentity: 36138748164966842,
}

func TestParseSync(t *testing.T) {
	raw := []uint8{
		0x00, 0x02, 0x00, 0x2c, 0x00, 0x00, 0x02, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x80, 0x63, 0xff,
		0xff, 0x00, 0x09, 0xba, 0x00, 0x01, 0x00, 0x74,
		0x00, 0x00, 0x00, 0x00, 0x45, 0xb1, 0x11, 0x5a,
		0x0a, 0x64, 0xfa, 0xb0,
	}
	packet := new(SyncDelayReq)
	err := FromBytes(raw, packet)
	require.NoError(t, err)
	want := SyncDelayReq{
		Header: Header{
			TransportAndMsgType: NewTransportAndMsgType(MessageSync, 0),
			Version:             Version,
			MessageLength:       SyncLength,
			DomainNumber:        0,
			FlagField:           FlagTwoStep,
			CorrectionField:     NewCorrection(1),
			SourcePortIdentity:  testPortIdentity,
			SequenceID:          116,
			ControlField:        ControlSync,
			LogMessageInterval:  0,
		},
		SyncDelayReqBody: SyncDelayReqBody{
			OriginTimestamp: Timestamp{
				Seconds:     [6]byte{0x0, 0x00, 0x45, 0xb1, 0x11, 0x5a},
				Nanoseconds: 174389936,
			},
		},
	}
	require.Equal(t, want, *packet)
	require.True(t, packet.TwoStep())
	b, err := Bytes(packet)
	require.NoError(t, err)
	assert.Equal(t, raw, b)

	pp, err := DecodePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, &want, pp)
}

func TestParseAnnounce(t *testing.T) {
	want := &Announce{
		Header: Header{
			TransportAndMsgType: NewTransportAndMsgType(MessageAnnounce, 0),
			Version:             Version,
			MessageLength:       AnnounceLength,
			DomainNumber:        3,
			SourcePortIdentity:  testPortIdentity,
			SequenceID:          7,
			ControlField:        ControlOther,
			LogMessageInterval:  1,
		},
		AnnounceBody: AnnounceBody{
			CurrentUTCOffset:     -37,
			GrandmasterPriority1: 128,
			GrandmasterClockQuality: ClockQuality{
				ClockClass:              ClockClass6,
				ClockAccuracy:           ClockAccuracyNanosecond100,
				OffsetScaledLogVariance: 0x59e0,
			},
			GrandmasterPriority2: 129,
			GrandmasterIdentity:  0x1122334455667788,
			StepsRemoved:         0x0102,
			TimeSource:           TimeSourceGPS,
		},
	}
	b, err := Bytes(want)
	require.NoError(t, err)
	require.Len(t, b, AnnounceLength)

	require.Equal(t, []byte{0xff, 0xdb}, b[44:46])
	require.Equal(t, uint8(0), b[46])
	require.Equal(t, uint8(128), b[47])
	require.Equal(t, uint8(6), b[48])
	require.Equal(t, uint8(0x21), b[49])
	require.Equal(t, []byte{0x59, 0xe0}, b[50:52])
	require.Equal(t, uint8(129), b[52])
	require.Equal(t, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}, b[53:61])
	require.Equal(t, []byte{0x01, 0x02}, b[61:63])
	require.Equal(t, uint8(0x20), b[63])

	got, err := DecodePacket(b)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestParseDelayResp(t *testing.T) {
	want := &DelayResp{
		Header: Header{
			TransportAndMsgType: NewTransportAndMsgType(MessageDelayResp, 0),
			Version:             Version,
			MessageLength:       DelayRespLength,
			CorrectionField:     NewCorrection(-2.5),
			SourcePortIdentity:  testPortIdentity,
			SequenceID:          0xffff,
			ControlField:        ControlDelayResp,
			LogMessageInterval:  -1,
		},
		DelayRespBody: DelayRespBody{
			ReceiveTimestamp: Timestamp{Seconds: NewPTPSeconds(1700000000), Nanoseconds: 1},
			RequestingPortIdentity: PortIdentity{
				ClockIdentity: 0xaabbccddeeff0011,
				PortNumber:    0xfffe,
			},
		},
	}
	b, err := Bytes(want)
	require.NoError(t, err)
	require.Len(t, b, DelayRespLength)
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11, 0xff, 0xfe}, b[44:54])
	require.Equal(t, uint8(0xff), b[33])

	got := &DelayResp{}
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, want, got)
}

func TestRoundTripBoundaries(t *testing.T) {
	maxTS := Timestamp{Seconds: NewPTPSeconds(MaxPTPSeconds), Nanoseconds: 999999999}
	maxID := PortIdentity{ClockIdentity: 0xffffffffffffffff, PortNumber: 0xffff}
	header := func(mt MessageType, length uint16) Header {
		return Header{
			TransportAndMsgType: NewTransportAndMsgType(mt, 0xf),
			Version:             Version,
			MessageLength:       length,
			DomainNumber:        0xff,
			FlagField:           FlagTwoStep | FlagPTPTimescale,
			CorrectionField:     Correction(-0x7fffffffffffffff),
			SourcePortIdentity:  maxID,
			SequenceID:          0xffff,
			ControlField:        ControlFor(mt),
			LogMessageInterval:  -128,
		}
	}
	tests := []struct {
		name string
		in   Packet
	}{
		{"sync", &SyncDelayReq{Header: header(MessageSync, SyncLength), SyncDelayReqBody: SyncDelayReqBody{OriginTimestamp: maxTS}}},
		{"delay_req", &SyncDelayReq{Header: header(MessageDelayReq, DelayReqLength), SyncDelayReqBody: SyncDelayReqBody{OriginTimestamp: maxTS}}},
		{"follow_up", &FollowUp{Header: header(MessageFollowUp, FollowUpLength), FollowUpBody: FollowUpBody{PreciseOriginTimestamp: maxTS}}},
		{"delay_resp", &DelayResp{Header: header(MessageDelayResp, DelayRespLength), DelayRespBody: DelayRespBody{ReceiveTimestamp: maxTS, RequestingPortIdentity: maxID}}},
		{"pdelay_req", &PDelayReq{Header: header(MessagePDelayReq, PDelayReqLength), PDelayReqBody: PDelayReqBody{OriginTimestamp: maxTS}}},
		{"pdelay_resp", &PDelayResp{Header: header(MessagePDelayResp, PDelayRespLength), PDelayRespBody: PDelayRespBody{RequestReceiptTimestamp: maxTS, RequestingPortIdentity: maxID}}},
		{"pdelay_resp_follow_up", &PDelayRespFollowUp{Header: header(MessagePDelayRespFollowUp, PDelayRespFollowUpLength), PDelayRespFollowUpBody: PDelayRespFollowUpBody{ResponseOriginTimestamp: maxTS, RequestingPortIdentity: maxID}}},
		{"announce", &Announce{Header: header(MessageAnnounce, AnnounceLength), AnnounceBody: AnnounceBody{
			OriginTimestamp:         maxTS,
			CurrentUTCOffset:        32767,
			GrandmasterPriority1:    255,
			GrandmasterClockQuality: ClockQuality{ClockClass: 255, ClockAccuracy: 255, OffsetScaledLogVariance: 0xffff},
			GrandmasterPriority2:    255,
			GrandmasterIdentity:     0xffffffffffffffff,
			StepsRemoved:            0xffff,
			TimeSource:              0xff,
		}}},
		{"zero sync", &SyncDelayReq{Header: Header{TransportAndMsgType: NewTransportAndMsgType(MessageSync, 0), MessageLength: SyncLength}}},
		{"management", &Opaque{Header: header(MessageManagement, ManagementLength), Payload: make([]byte, ManagementLength-HeaderLength)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Bytes(tt.in)
			require.NoError(t, err)
			got, err := DecodePacket(b)
			require.NoError(t, err)
			require.Equal(t, tt.in, got)
		})
	}
}

func TestDecodeShortBuffers(t *testing.T) {
	for mt := range MessageTypeToString {
		need, err := MinLength(mt)
		require.NoError(t, err)
		raw := make([]byte, need-1)
		raw[0] = byte(mt)
		_, err = DecodePacket(raw)
		require.Error(t, err, mt.String())
		var de *DecodeError
		require.True(t, errors.As(err, &de))
		if need-1 < HeaderLength {
			require.ErrorIs(t, err, ErrShortHeader)
		} else {
			require.ErrorIs(t, err, ErrShortMessage)
			require.Equal(t, mt, de.Type)
			require.Equal(t, need, de.Need)
		}
	}
	for i := 0; i < HeaderLength; i++ {
		_, err := DecodePacket(make([]byte, i))
		require.ErrorIs(t, err, ErrShortHeader)
	}
	_, err := UnmarshalHeader(make([]byte, HeaderLength-1))
	require.ErrorIs(t, err, ErrShortHeader)
}

func TestDecodeUnknownType(t *testing.T) {
	raw := make([]byte, 64)
	raw[0] = 0x4
	_, err := DecodePacket(raw)
	require.ErrorIs(t, err, ErrUnknownType)
	require.Equal(t, "decoding UNKNOWN(4): unrecognized message type", err.Error())
}

func TestMarshalZeroesReserved(t *testing.T) {
	p := &PDelayReq{
		Header: Header{
			TransportAndMsgType: NewTransportAndMsgType(MessagePDelayReq, 0),
			Version:             Version,
			MessageLength:       PDelayReqLength,
			SourcePortIdentity:  testPortIdentity,
			LogMessageInterval:  LogIntervalUnused,
			ControlField:        ControlOther,
		},
	}
	buf := make([]byte, 100)
	for i := range buf {
		buf[i] = 0xaa
	}
	n, err := BytesTo(p, buf)
	require.NoError(t, err)
	require.Equal(t, PDelayReqLength, n)
	require.Equal(t, uint8(0), buf[5])
	require.Equal(t, []byte{0, 0, 0, 0}, buf[16:20])
	require.Equal(t, make([]byte, 10), buf[44:54])
	require.Equal(t, uint8(0x7f), buf[33])

	_, err = BytesTo(p, make([]byte, 10))
	require.Error(t, err)
}

func TestHeaderNibbles(t *testing.T) {
	p := &SyncDelayReq{Header: Header{TransportAndMsgType: NewTransportAndMsgType(MessageDelayReq, 8), Version: 0xf2}}
	b, err := Bytes(p)
	require.NoError(t, err)
	require.Equal(t, uint8(0x81), b[0])
	require.Equal(t, uint8(0x02), b[1])

	h, err := UnmarshalHeader(b)
	require.NoError(t, err)
	require.Equal(t, MessageDelayReq, h.MessageType())
	require.Equal(t, uint8(8), h.TransportAndMsgType.TransportSpecific())
	require.Equal(t, Version, h.Version)
}

func TestCorrectionHalves(t *testing.T) {
	c := Correction(-1)
	hi, lo := c.Halves()
	require.Equal(t, uint32(0xffffffff), hi)
	require.Equal(t, uint32(0xffffffff), lo)
	require.Equal(t, c, CorrectionFromHalves(hi, lo))

	c = NewCorrection(-1.5)
	hi, lo = c.Halves()
	require.Equal(t, c, CorrectionFromHalves(hi, lo))
	require.Equal(t, -1.5, CorrectionFromHalves(hi, lo).Nanoseconds())
}
