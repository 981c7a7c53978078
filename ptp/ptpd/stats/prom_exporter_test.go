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
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlattenKey(t *testing.T) {
	require.Equal(t, "ptpd_servo_offset_ns", flattenKey("servo.offset_ns"))
	require.Equal(t, "ptpd_sys_gc_pause_ns_per_s", flattenKey("sys.gc_pause_ns_per_s"))
	require.Equal(t, "ptpd_a_b_c_d", flattenKey("a-b=c/d"))
}

func TestPrometheusExporter(t *testing.T) {
	s := NewStats()
	e := NewPrometheusExporter(s, 0, time.Second)
	s.SetCounter("servo.offset_ns", -42)
	e.scrapeMetrics()
	// second scrape updates the same gauge
	s.SetCounter("servo.offset_ns", 17)
	e.scrapeMetrics()

	mfs, err := e.registry.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	require.Equal(t, "ptpd_servo_offset_ns", mfs[0].GetName())
	require.Equal(t, float64(17), mfs[0].GetMetric()[0].GetGauge().GetValue())

	ts := httptest.NewServer(e.Handler())
	defer ts.Close()
	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(b), "ptpd_servo_offset_ns 17")
}
