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

package servo

import (
	"math"

	log "github.com/sirupsen/logrus"
)

const freqEstMargin = 0.001

// PiServoCfg holds the PI gains scaling
type PiServoCfg struct {
	PiKpScale    float64
	PiKpExponent float64
	PiKpNormMax  float64
	PiKiScale    float64
	PiKiExponent float64
	PiKiNormMax  float64
}

// DefaultPiServoCfg returns default PI config
func DefaultPiServoCfg() *PiServoCfg {
	return &PiServoCfg{
		PiKpScale:   0.7,
		PiKpNormMax: 1.0,
		PiKiScale:   0.3,
		PiKiNormMax: 2.0,
	}
}

// PiServo estimates frequency from the first two samples and then runs a PI loop
type PiServo struct {
	StepThreshold      int64
	FirstStepThreshold int64
	FirstUpdate        bool

	maxFreq  float64
	offset   [2]int64
	local    [2]uint64
	drift    float64
	kp       float64
	ki       float64
	lastFreq float64
	count    int
	cfg      *PiServoCfg
}

// NewPiServo creates PiServo limited to maxFreq ppb
func NewPiServo(cfg *PiServoCfg, maxFreq float64) *PiServo {
	s := &PiServo{cfg: cfg, maxFreq: maxFreq}
	s.SyncInterval(1)
	return s
}

// Sample implements Controller
func (s *PiServo) Sample(offset int64, localTs uint64) (float64, State) {
	state := StateInit
	ppb := s.lastFreq
	absOffset := abs64(offset)

	switch s.count {
	case 0:
		s.offset[0] = offset
		s.local[0] = localTs
		s.count = 1
	case 1:
		s.offset[1] = offset
		s.local[1] = localTs
		if s.local[0] >= s.local[1] {
			s.count = 0
			break
		}
		localDiff := float64(s.local[1]-s.local[0]) / 1e9
		localDiff += localDiff * freqEstMargin
		freqEstInterval := math.Min(0.016/s.ki, 1000.0)
		if localDiff < freqEstInterval {
			log.Warningf("servo sampled too often, %.3fs since first sample", localDiff)
			break
		}

		s.drift += (1e9 - s.drift) * float64(s.offset[1]-s.offset[0]) / float64(s.local[1]-s.local[0])
		s.drift = math.Max(-s.maxFreq, math.Min(s.maxFreq, s.drift))

		if (s.FirstUpdate && s.FirstStepThreshold > 0 && s.FirstStepThreshold < absOffset) ||
			(s.StepThreshold > 0 && s.StepThreshold < absOffset) {
			state = StateJump
		} else {
			state = StateLocked
		}
		ppb = s.drift
		s.count = 2
	case 2:
		// start over, the jump happens on the next pass through case 1
		if s.StepThreshold > 0 && s.StepThreshold < absOffset {
			s.count = 0
			break
		}
		state = StateLocked
		kiTerm := s.ki * float64(offset)
		ppb = s.kp*float64(offset) + s.drift + kiTerm
		if ppb < -s.maxFreq {
			ppb = -s.maxFreq
		} else if ppb > s.maxFreq {
			ppb = s.maxFreq
		} else {
			s.drift += kiTerm
		}
	}
	s.lastFreq = ppb
	return ppb, state
}

// SyncInterval rescales the gains for the sync interval in seconds
func (s *PiServo) SyncInterval(interval float64) {
	s.kp = math.Min(s.cfg.PiKpScale*math.Pow(interval, s.cfg.PiKpExponent), s.cfg.PiKpNormMax/interval)
	s.ki = math.Min(s.cfg.PiKiScale*math.Pow(interval, s.cfg.PiKiExponent), s.cfg.PiKiNormMax/interval)
}

// SetLastFreq seeds the frequency estimate
func (s *PiServo) SetLastFreq(freq float64) {
	s.lastFreq = freq
	s.drift = freq
}

// Reset implements Controller
func (s *PiServo) Reset() {
	s.count = 0
	s.drift = 0
	s.lastFreq = 0
}
