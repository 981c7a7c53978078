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

package bmc

import (
	"testing"

	"github.com/stretchr/testify/require"

	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/ptp/ptpd/foreign"
)

var localPort = ptp.PortIdentity{ClockIdentity: 0x4857ddfffe086488, PortNumber: 1}

func defaultLocal() *Local {
	return &Local{
		PortIdentity: localPort,
		Priority1:    248,
		Priority2:    248,
		ClockQuality: ptp.ClockQuality{
			ClockClass:              ptp.ClockClassDefault,
			ClockAccuracy:           ptp.ClockAccuracyUnknown,
			OffsetScaledLogVariance: 0xffff,
		},
		CurrentUTCOffset: 34,
		TimeSource:       ptp.TimeSourceInternalOscillator,
	}
}

func announce(clock ptp.ClockIdentity, p1 uint8, class ptp.ClockClass) *ptp.Announce {
	return &ptp.Announce{
		Header: ptp.Header{
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: clock, PortNumber: 1},
		},
		AnnounceBody: ptp.AnnounceBody{
			CurrentUTCOffset:     37,
			GrandmasterPriority1: p1,
			GrandmasterClockQuality: ptp.ClockQuality{
				ClockClass:              class,
				ClockAccuracy:           ptp.ClockAccuracyMicrosecond1,
				OffsetScaledLogVariance: 0x4e5d,
			},
			GrandmasterPriority2: 128,
			GrandmasterIdentity:  clock,
			StepsRemoved:         0,
			TimeSource:           ptp.TimeSourceGPS,
		},
	}
}

func TestDscmp2(t *testing.T) {
	pi1 := ptp.PortIdentity{PortNumber: 1, ClockIdentity: 5212879185253000328}
	pi2 := ptp.PortIdentity{PortNumber: 1, ClockIdentity: 0}
	a1 := &Dataset{StepsRemoved: 1, Sender: pi1}
	a2 := &Dataset{StepsRemoved: 3, Sender: pi1}
	a3 := &Dataset{StepsRemoved: 1, Sender: pi2}
	a4 := &Dataset{StepsRemoved: 2, Sender: pi2}
	require.Equal(t, Unknown, Dscmp2(a1, a1))
	require.Equal(t, ABetter, Dscmp2(a1, a2))
	require.Equal(t, BBetter, Dscmp2(a2, a1))
	require.Equal(t, BBetterTopo, Dscmp2(a1, a3))
	require.Equal(t, ABetterTopo, Dscmp2(a3, a1))
	require.Equal(t, ABetterTopo, Dscmp2(a1, a4))
}

func TestDscmp2HighBitIdentities(t *testing.T) {
	// identities with the top bit set must not overflow the comparison
	a := &Dataset{Sender: ptp.PortIdentity{ClockIdentity: 0x8000000000000000, PortNumber: 1}}
	b := &Dataset{Sender: ptp.PortIdentity{ClockIdentity: 0x0000000000000001, PortNumber: 1}}
	require.Equal(t, BBetterTopo, Dscmp2(a, b))
	require.Equal(t, ABetterTopo, Dscmp2(b, a))
}

func TestDscmp(t *testing.T) {
	a3 := &Dataset{GrandmasterIdentity: 1, Priority1: 1}
	a4 := &Dataset{GrandmasterIdentity: 2, Priority1: 2}
	a5 := &Dataset{GrandmasterIdentity: 1, ClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass7}}
	a6 := &Dataset{GrandmasterIdentity: 2, ClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass13}}
	a7 := &Dataset{GrandmasterIdentity: 1, ClockQuality: ptp.ClockQuality{ClockAccuracy: 42}}
	a8 := &Dataset{GrandmasterIdentity: 2, ClockQuality: ptp.ClockQuality{ClockAccuracy: 69}}
	a9 := &Dataset{GrandmasterIdentity: 1, ClockQuality: ptp.ClockQuality{OffsetScaledLogVariance: 42}}
	a10 := &Dataset{GrandmasterIdentity: 2, ClockQuality: ptp.ClockQuality{OffsetScaledLogVariance: 69}}
	a11 := &Dataset{GrandmasterIdentity: 1, Priority2: 1}
	a12 := &Dataset{GrandmasterIdentity: 2, Priority2: 2}
	a13 := &Dataset{GrandmasterIdentity: 1}
	a14 := &Dataset{GrandmasterIdentity: 2}
	require.Equal(t, ABetter, Dscmp(a3, a4))
	require.Equal(t, BBetter, Dscmp(a4, a3))
	require.Equal(t, ABetter, Dscmp(a5, a6))
	require.Equal(t, BBetter, Dscmp(a6, a5))
	require.Equal(t, ABetter, Dscmp(a7, a8))
	require.Equal(t, BBetter, Dscmp(a8, a7))
	require.Equal(t, ABetter, Dscmp(a9, a10))
	require.Equal(t, BBetter, Dscmp(a10, a9))
	require.Equal(t, ABetter, Dscmp(a11, a12))
	require.Equal(t, BBetter, Dscmp(a12, a11))
	require.Equal(t, ABetter, Dscmp(a13, a14))
	require.Equal(t, BBetter, Dscmp(a14, a13))
}

func TestDscmpIdenticalBodiesDistinctPorts(t *testing.T) {
	a := announce(7, 128, ptp.ClockClass6)
	b := announce(7, 128, ptp.ClockClass6)
	b.SourcePortIdentity.PortNumber = 2
	dsA := FromAnnounce(a, localPort)
	dsB := FromAnnounce(b, localPort)
	require.Equal(t, ABetterTopo, Dscmp(dsA, dsB))
	require.Equal(t, BBetterTopo, Dscmp(dsB, dsA))
}

func TestRecommendLocalDominates(t *testing.T) {
	l := defaultLocal()
	l.Priority1 = 1
	p := &Parent{}
	table := foreign.NewTable(5)
	table.Add(announce(10, 128, ptp.ClockClass6))
	table.Add(announce(11, 200, ptp.ClockClass7))

	require.Equal(t, ptp.PortStateMaster, Recommend(l, p, table))
	require.Equal(t, localPort.ClockIdentity, p.GrandmasterIdentity)
	require.Equal(t, localPort.ClockIdentity, p.ParentPortIdentity.ClockIdentity)
	require.Equal(t, uint16(0), p.StepsRemoved)
	require.Equal(t, l.ClockQuality, p.GrandmasterClockQuality)
	require.Equal(t, int16(34), p.CurrentUTCOffset)
}

func TestRecommendForeignDominates(t *testing.T) {
	l := defaultLocal()
	p := &Parent{}
	table := foreign.NewTable(5)
	table.Add(announce(11, 200, ptp.ClockClass7))
	table.Add(announce(10, 128, ptp.ClockClass6))
	table.Add(announce(12, 128, ptp.ClockClass13))

	require.Equal(t, ptp.PortStateSlave, Recommend(l, p, table))
	require.Equal(t, 1, table.Best())
	require.Equal(t, ptp.PortIdentity{ClockIdentity: 10, PortNumber: 1}, p.ParentPortIdentity)
	require.Equal(t, ptp.ClockIdentity(10), p.GrandmasterIdentity)
	require.Equal(t, uint16(1), p.StepsRemoved)
	require.Equal(t, uint8(128), p.GrandmasterPriority1)
	require.Equal(t, int16(37), p.CurrentUTCOffset)
	require.Equal(t, ptp.TimeSourceGPS, p.TimeSource)
}

func TestRecommendOrderIndependent(t *testing.T) {
	candidates := []*ptp.Announce{
		announce(10, 128, ptp.ClockClass6),
		announce(11, 128, ptp.ClockClass6),
		announce(12, 100, ptp.ClockClass13),
		announce(13, 128, ptp.ClockClass7),
	}
	for start := range candidates {
		table := foreign.NewTable(len(candidates))
		for i := range candidates {
			table.Add(candidates[(start+i)%len(candidates)])
		}
		best := Best(table, localPort)
		require.GreaterOrEqual(t, best, 0)
		require.Equal(t, ptp.ClockIdentity(12), table.Record(best).PortIdentity.ClockIdentity)
	}
}

func TestRecommendSlaveOnly(t *testing.T) {
	l := defaultLocal()
	l.Priority1 = 0
	l.SlaveOnly = true
	p := &Parent{}
	table := foreign.NewTable(5)
	table.Add(announce(10, 255, ptp.ClockClass58))
	require.Equal(t, ptp.PortStateSlave, Recommend(l, p, table))
	require.Equal(t, ptp.ClockIdentity(10), p.GrandmasterIdentity)
}

func TestRecommendEmptyTable(t *testing.T) {
	l := defaultLocal()
	p := &Parent{}
	table := foreign.NewTable(5)
	require.Equal(t, ptp.PortStateMaster, Recommend(l, p, table))
	require.Equal(t, localPort.ClockIdentity, p.GrandmasterIdentity)

	l.SlaveOnly = true
	require.Equal(t, ptp.PortStateListening, Recommend(l, p, table))

	l.SlaveOnly = false
	l.ClockQuality.ClockClass = ptp.ClockClassSlaveOnly
	require.Equal(t, ptp.PortStateListening, Recommend(l, p, table))
}
