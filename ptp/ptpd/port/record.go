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
	"bufio"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/ptpd/ptp/ptpd/arith"
)

// Record appends "<sequenceId> <receiveTimeNs>" lines for every Sync accepted from the parent
type Record struct {
	sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// OpenRecord opens path for appending
func OpenRecord(path string) (*Record, error) {
	r := &Record{path: path}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Record) open() error {
	f, err := os.OpenFile(r.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening record file: %w", err)
	}
	r.f = f
	r.w = bufio.NewWriter(f)
	return nil
}

// Write adds one line and flushes it
func (r *Record) Write(seq uint16, receiveNs int64) error {
	r.Lock()
	defer r.Unlock()
	if r.w == nil {
		return fmt.Errorf("record file %s is closed", r.path)
	}
	if _, err := fmt.Fprintf(r.w, "%d %d\n", seq, receiveNs); err != nil {
		return err
	}
	return r.w.Flush()
}

// Reopen closes and opens the file again, used after log rotation
func (r *Record) Reopen() error {
	r.Lock()
	defer r.Unlock()
	if err := r.close(); err != nil {
		log.Warningf("closing record file: %v", err)
	}
	return r.open()
}

// Close flushes and closes the file
func (r *Record) Close() error {
	r.Lock()
	defer r.Unlock()
	return r.close()
}

func (r *Record) close() error {
	if r.f == nil {
		return nil
	}
	ferr := r.w.Flush()
	err := r.f.Close()
	r.f = nil
	r.w = nil
	if ferr != nil {
		return ferr
	}
	return err
}

func (p *Port) recordSync(seq uint16, t arith.Time) {
	if p.record == nil {
		return
	}
	if err := p.record.Write(seq, t.Nanoseconds64()); err != nil {
		log.Errorf("failed to write record: %v", err)
	}
}
