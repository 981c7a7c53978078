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
Package stats collects ptpd counters and exposes them over HTTP as JSON and
as Prometheus gauges.
*/
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eclesh/welford"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// counter prefixes of per message type packet counters
const (
	TxPrefix = "tx."
	RxPrefix = "rx."
)

// Status is a snapshot of the port as seen by monitoring
type Status struct {
	State                   string           `json:"state"`
	PortIdentity            string           `json:"port_identity"`
	ParentPortIdentity      string           `json:"parent_port_identity"`
	GrandmasterIdentity     string           `json:"grandmaster_identity"`
	GrandmasterClockQuality ptp.ClockQuality `json:"grandmaster_clock_quality"`
	GrandmasterPriority1    uint8            `json:"grandmaster_priority1"`
	GrandmasterPriority2    uint8            `json:"grandmaster_priority2"`
	StepsRemoved            int              `json:"steps_removed"`
	CurrentUTCOffset        int              `json:"current_utc_offset"`
	Offset                  int64            `json:"offset_ns"`
	MeanPathDelay           int64            `json:"mean_path_delay_ns"`
	Freq                    int64            `json:"freq_ppb"`
	ForeignMasters          int              `json:"foreign_masters"`
}

// Stats keeps counters and running statistics of samples
type Stats struct {
	mux      sync.Mutex
	counters map[string]int64
	samples  map[string]*welford.Stats
	status   Status
}

// NewStats created new instance of Stats
func NewStats() *Stats {
	return &Stats{
		counters: map[string]int64{},
		samples:  map[string]*welford.Stats{},
	}
}

// UpdateCounterBy will increment counter
func (s *Stats) UpdateCounterBy(key string, count int64) {
	s.mux.Lock()
	s.counters[key] += count
	s.mux.Unlock()
}

// SetCounter will set a counter to the provided value.
func (s *Stats) SetCounter(key string, val int64) {
	s.mux.Lock()
	s.counters[key] = val
	s.mux.Unlock()
}

// AddSample feeds val into running statistics of key.
// Mean and standard deviation are exported as key.mean and key.stddev counters.
func (s *Stats) AddSample(key string, val float64) {
	s.mux.Lock()
	w, ok := s.samples[key]
	if !ok {
		w = welford.New()
		s.samples[key] = w
	}
	w.Add(val)
	s.counters[key+".mean"] = int64(w.Mean())
	s.counters[key+".stddev"] = int64(w.Stddev())
	s.mux.Unlock()
}

// SetStatus replaces the port snapshot
func (s *Stats) SetStatus(st *Status) {
	s.mux.Lock()
	s.status = *st
	s.mux.Unlock()
}

// GetStatus returns the port snapshot
func (s *Stats) GetStatus() Status {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.status
}

// GetCounters returns an map of counters
func (s *Stats) GetCounters() Counters {
	ret := make(Counters)
	s.mux.Lock()
	for key, val := range s.counters {
		ret[key] = val
	}
	s.mux.Unlock()
	return ret
}

// Reset all the values of counters and drops sample history
func (s *Stats) Reset() {
	s.mux.Lock()
	for k := range s.counters {
		s.counters[k] = 0
	}
	s.samples = map[string]*welford.Stats{}
	s.mux.Unlock()
}

// Counters is counters exported by ptpd
type Counters map[string]int64

// Keys returns counter names sorted
func (c Counters) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PortStats returns two maps: packet type to counter, TX and RX
func (c Counters) PortStats() (tx map[string]uint64, rx map[string]uint64) {
	tx = map[string]uint64{}
	rx = map[string]uint64{}
	for k, v := range c {
		if strings.HasPrefix(k, TxPrefix) {
			tx[strings.TrimPrefix(k, TxPrefix)] = uint64(v)
		}
		if strings.HasPrefix(k, RxPrefix) {
			rx[strings.TrimPrefix(k, RxPrefix)] = uint64(v)
		}
	}
	return
}

func fetch(url string, v interface{}) error {
	c := http.Client{
		Timeout: time.Second * 2,
	}
	resp, err := c.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// FetchStatus returns the port snapshot fetched from the url
func FetchStatus(url string) (*Status, error) {
	st := &Status{}
	if err := fetch(url, st); err != nil {
		return nil, err
	}
	return st, nil
}

// FetchCounters returns counters map fetched from the url
func FetchCounters(url string) (Counters, error) {
	counters := make(Counters)
	if err := fetch(fmt.Sprintf("%s/counters", url), &counters); err != nil {
		return nil, err
	}
	return counters, nil
}
