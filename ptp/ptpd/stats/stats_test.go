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
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

func TestStatsCounters(t *testing.T) {
	s := NewStats()
	s.UpdateCounterBy("rx.sync", 1)
	s.UpdateCounterBy("rx.sync", 2)
	s.SetCounter("port.state", int64(ptp.PortStateSlave))
	require.Equal(t, Counters{"rx.sync": 3, "port.state": 9}, s.GetCounters())

	s.Reset()
	require.Equal(t, Counters{"rx.sync": 0, "port.state": 0}, s.GetCounters())
}

func TestStatsAddSample(t *testing.T) {
	s := NewStats()
	s.AddSample("offset_ns", 10)
	s.AddSample("offset_ns", 30)
	c := s.GetCounters()
	require.Equal(t, int64(20), c["offset_ns.mean"])
	require.Greater(t, c["offset_ns.stddev"], int64(0))

	s.Reset()
	s.AddSample("offset_ns", -5)
	require.Equal(t, int64(-5), s.GetCounters()["offset_ns.mean"])
}

func TestCountersPortStats(t *testing.T) {
	c := Counters{"rx.sync": 10, "rx.announce": 2, "tx.delay_req": 10, "port.state": 9}
	tx, rx := c.PortStats()
	require.Equal(t, map[string]uint64{"delay_req": 10}, tx)
	require.Equal(t, map[string]uint64{"sync": 10, "announce": 2}, rx)
	require.Equal(t, []string{"port.state", "rx.announce", "rx.sync", "tx.delay_req"}, c.Keys())
}

func TestFetchCounters(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/counters", r.URL.Path)
		fmt.Fprintln(w, `{"rx.sync": 10, "servo.offset_ns": -42}`)
	}))
	defer ts.Close()

	c, err := FetchCounters(ts.URL)
	require.NoError(t, err)
	require.Equal(t, Counters{"rx.sync": 10, "servo.offset_ns": -42}, c)
}

func TestFetchStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := FetchStatus(ts.URL)
	require.Error(t, err)
}
