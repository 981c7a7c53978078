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
Package bmc implements best master clock selection for an ordinary clock:
data set comparison, state decision and the m1/s1 data set updates.
*/
package bmc

import (
	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/ptp/ptpd/foreign"
)

// ComparisonResult is the type to represent comparisons
type ComparisonResult int8

const (
	// ABetterTopo means A is better based on topology
	ABetterTopo ComparisonResult = 2
	// ABetter means A is better based on data set content
	ABetter ComparisonResult = 1
	// Unknown means both data sets describe the same path
	Unknown ComparisonResult = 0
	// BBetter means B is better based on data set content
	BBetter ComparisonResult = -1
	// BBetterTopo means B is better based on topology
	BBetterTopo ComparisonResult = -2
)

// Dataset is what gets compared during election
type Dataset struct {
	GrandmasterIdentity ptp.ClockIdentity
	Priority1           uint8
	ClockQuality        ptp.ClockQuality
	Priority2           uint8
	StepsRemoved        uint16
	// port the data set was sent from
	Sender ptp.PortIdentity
	// port the data set was received on
	Receiver ptp.PortIdentity
}

// Local is the default data set of the local clock plus its port
type Local struct {
	PortIdentity     ptp.PortIdentity
	Priority1        uint8
	Priority2        uint8
	ClockQuality     ptp.ClockQuality
	SlaveOnly        bool
	CurrentUTCOffset int16
	TimeSource       ptp.TimeSource
}

// Parent holds parent, current and time properties data sets
type Parent struct {
	ParentPortIdentity      ptp.PortIdentity
	GrandmasterIdentity     ptp.ClockIdentity
	GrandmasterClockQuality ptp.ClockQuality
	GrandmasterPriority1    uint8
	GrandmasterPriority2    uint8
	StepsRemoved            uint16
	CurrentUTCOffset        int16
	TimeSource              ptp.TimeSource
}

// D0 is the local clock described as if it was a master
func (l *Local) D0() *Dataset {
	return &Dataset{
		GrandmasterIdentity: l.PortIdentity.ClockIdentity,
		Priority1:           l.Priority1,
		ClockQuality:        l.ClockQuality,
		Priority2:           l.Priority2,
		StepsRemoved:        0,
		Sender:              l.PortIdentity,
		Receiver:            l.PortIdentity,
	}
}

// FromAnnounce builds the data set of a foreign master received on port receiver
func FromAnnounce(a *ptp.Announce, receiver ptp.PortIdentity) *Dataset {
	return &Dataset{
		GrandmasterIdentity: a.GrandmasterIdentity,
		Priority1:           a.GrandmasterPriority1,
		ClockQuality:        a.GrandmasterClockQuality,
		Priority2:           a.GrandmasterPriority2,
		StepsRemoved:        a.StepsRemoved,
		Sender:              a.SourcePortIdentity,
		Receiver:            receiver,
	}
}

// Dscmp2 finds better data set based on network topology, used when both come from the same grandmaster
func Dscmp2(a *Dataset, b *Dataset) ComparisonResult {
	if uint32(a.StepsRemoved)+1 < uint32(b.StepsRemoved) {
		return ABetter
	}
	if uint32(b.StepsRemoved)+1 < uint32(a.StepsRemoved) {
		return BBetter
	}
	if a.StepsRemoved < b.StepsRemoved {
		return ABetterTopo
	}
	if a.StepsRemoved > b.StepsRemoved {
		return BBetterTopo
	}

	diff := a.Sender.Compare(b.Sender)
	if diff == 0 {
		diff = a.Receiver.Compare(b.Receiver)
	}
	if diff < 0 {
		return ABetterTopo
	}
	if diff > 0 {
		return BBetterTopo
	}
	return Unknown
}

// Dscmp finds better data set. Attributes are compared in order: grandmaster priority1,
// clock class, accuracy, variance, priority2, grandmaster identity, then topology.
func Dscmp(a *Dataset, b *Dataset) ComparisonResult {
	if a.GrandmasterIdentity == b.GrandmasterIdentity {
		return Dscmp2(a, b)
	}
	if a.Priority1 < b.Priority1 {
		return ABetter
	}
	if a.Priority1 > b.Priority1 {
		return BBetter
	}
	if a.ClockQuality.ClockClass < b.ClockQuality.ClockClass {
		return ABetter
	}
	if a.ClockQuality.ClockClass > b.ClockQuality.ClockClass {
		return BBetter
	}
	if a.ClockQuality.ClockAccuracy < b.ClockQuality.ClockAccuracy {
		return ABetter
	}
	if a.ClockQuality.ClockAccuracy > b.ClockQuality.ClockAccuracy {
		return BBetter
	}
	if a.ClockQuality.OffsetScaledLogVariance < b.ClockQuality.OffsetScaledLogVariance {
		return ABetter
	}
	if a.ClockQuality.OffsetScaledLogVariance > b.ClockQuality.OffsetScaledLogVariance {
		return BBetter
	}
	if a.Priority2 < b.Priority2 {
		return ABetter
	}
	if a.Priority2 > b.Priority2 {
		return BBetter
	}
	if a.GrandmasterIdentity < b.GrandmasterIdentity {
		return ABetter
	}
	return BBetter
}

// M1 makes the local clock its own parent
func M1(l *Local, p *Parent) {
	p.StepsRemoved = 0
	p.ParentPortIdentity = ptp.PortIdentity{ClockIdentity: l.PortIdentity.ClockIdentity}
	p.GrandmasterIdentity = l.PortIdentity.ClockIdentity
	p.GrandmasterClockQuality = l.ClockQuality
	p.GrandmasterPriority1 = l.Priority1
	p.GrandmasterPriority2 = l.Priority2
	p.CurrentUTCOffset = l.CurrentUTCOffset
	p.TimeSource = l.TimeSource
}

// S1 adopts the master that sent the Announce as parent
func S1(p *Parent, a *ptp.Announce) {
	p.StepsRemoved = a.StepsRemoved + 1
	p.ParentPortIdentity = a.SourcePortIdentity
	p.GrandmasterIdentity = a.GrandmasterIdentity
	p.GrandmasterClockQuality = a.GrandmasterClockQuality
	p.GrandmasterPriority1 = a.GrandmasterPriority1
	p.GrandmasterPriority2 = a.GrandmasterPriority2
	p.CurrentUTCOffset = a.CurrentUTCOffset
	p.TimeSource = a.TimeSource
}

// Best returns index of the best record in the table, or -1 if there are no candidates
func Best(table *foreign.Table, receiver ptp.PortIdentity) int {
	best := -1
	var bestDS *Dataset
	for i := 0; i < table.Len(); i++ {
		r := table.Record(i)
		if r.Count < 1 {
			continue
		}
		ds := FromAnnounce(&r.Announce, receiver)
		if bestDS == nil || Dscmp(ds, bestDS) > 0 {
			best = i
			bestDS = ds
		}
	}
	return best
}

// Recommend runs the state decision. It updates the table's best record and, for MASTER/SLAVE
// recommendations, the parent data set.
func Recommend(l *Local, p *Parent, table *foreign.Table) ptp.PortState {
	best := Best(table, l.PortIdentity)
	if best < 0 {
		if l.SlaveOnly || l.ClockQuality.ClockClass == ptp.ClockClassSlaveOnly {
			return ptp.PortStateListening
		}
		M1(l, p)
		return ptp.PortStateMaster
	}
	table.SetBest(best)
	r := table.Record(best)

	if l.SlaveOnly {
		S1(p, &r.Announce)
		return ptp.PortStateSlave
	}
	if Dscmp(l.D0(), FromAnnounce(&r.Announce, l.PortIdentity)) > 0 {
		M1(l, p)
		return ptp.PortStateMaster
	}
	S1(p, &r.Announce)
	return ptp.PortStateSlave
}
