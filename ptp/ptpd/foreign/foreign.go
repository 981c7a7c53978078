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

// Package foreign keeps the fixed-capacity ring of candidate masters seen via Announce messages.
package foreign

import (
	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// Record is what we know about a single foreign master
type Record struct {
	PortIdentity ptp.PortIdentity
	// number of Announce messages received from this master
	Count    int
	Announce ptp.Announce
}

// Header is the header of the most recent Announce
func (r *Record) Header() *ptp.Header {
	return &r.Announce.Header
}

// Table is a lossy ring of foreign master records.
// New masters overwrite the slot under the insertion cursor once the ring is full.
type Table struct {
	records []Record
	count   int
	cursor  int
	best    int
}

// NewTable returns a table able to hold up to max records
func NewTable(max int) *Table {
	if max < 1 {
		max = 1
	}
	return &Table{records: make([]Record, max)}
}

// Capacity of the table
func (t *Table) Capacity() int {
	return len(t.records)
}

// Len returns number of valid records
func (t *Table) Len() int {
	return t.count
}

// Record returns i-th valid record
func (t *Table) Record(i int) *Record {
	if i < 0 || i >= t.count {
		return nil
	}
	return &t.records[i]
}

// Best returns index of the record elected last time
func (t *Table) Best() int {
	return t.best
}

// SetBest remembers the elected record, lookups start from it
func (t *Table) SetBest(i int) {
	if i >= 0 && i < t.count {
		t.best = i
	}
}

// Add records the Announce. Existing master gets its count incremented and data refreshed,
// unknown master takes the slot under the cursor. Returns slot index.
func (t *Table) Add(a *ptp.Announce) int {
	src := a.SourcePortIdentity
	j := t.best
	if j >= t.count {
		j = 0
	}
	for i := 0; i < t.count; i++ {
		if t.records[j].PortIdentity == src {
			t.records[j].Count++
			t.records[j].Announce = *a
			return j
		}
		j = (j + 1) % t.count
	}

	if t.count < len(t.records) {
		t.count++
	}
	j = t.cursor
	t.records[j] = Record{
		PortIdentity: src,
		Count:        1,
		Announce:     *a,
	}
	t.cursor = (t.cursor + 1) % len(t.records)
	return j
}

// Clear forgets all records
func (t *Table) Clear() {
	t.count = 0
	t.cursor = 0
	t.best = 0
}
