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

package stats

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

func TestJSONStats(t *testing.T) {
	s := NewJSONStats(NewStats())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	want := &Status{
		State:               "SLAVE",
		PortIdentity:        "001122.fffe.334455-1",
		ParentPortIdentity:  "00aabb.fffe.ccddee-1",
		GrandmasterIdentity: "00aabb.fffe.ccddee",
		GrandmasterClockQuality: ptp.ClockQuality{
			ClockClass:              ptp.ClockClass6,
			ClockAccuracy:           ptp.ClockAccuracyNanosecond100,
			OffsetScaledLogVariance: 0x4e5d,
		},
		GrandmasterPriority1: 128,
		GrandmasterPriority2: 128,
		StepsRemoved:         1,
		CurrentUTCOffset:     37,
		Offset:               -250,
		MeanPathDelay:        3000,
		Freq:                 -1200,
		ForeignMasters:       1,
	}
	s.SetStatus(want)
	s.UpdateCounterBy("rx.sync", 5)

	got, err := FetchStatus(ts.URL)
	require.NoError(t, err)
	require.Equal(t, want, got)

	counters, err := FetchCounters(ts.URL)
	require.NoError(t, err)
	require.Equal(t, Counters{"rx.sync": 5}, counters)
}
