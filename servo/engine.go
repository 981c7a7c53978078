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
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/ptpd/ptp/ptpd/arith"
)

// Engine keeps the servo state of a slave: filtered offset and delay, and the controller
type Engine struct {
	cfg *Config

	ofm OffsetFilter
	owd DelayFilter

	controller Controller

	masterToSlave arith.Time
	slaveToMaster arith.Time
	meanPathDelay arith.Time
	offset        arith.Time
	rawOffset     arith.Time
	rawDelay      arith.Time
	lastFreq      int32
	state         State
}

// NewEngine creates Engine from validated config
func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg: cfg,
		owd: DelayFilter{S: cfg.S},
	}
	switch cfg.Controller {
	case ControllerPI:
		pi := NewPiServo(DefaultPiServoCfg(), MaxFreqPPB)
		pi.StepThreshold = cfg.MaxStep.Nanoseconds()
		e.controller = pi
	default:
		e.controller = NewPTPDController(cfg.AP, cfg.AI)
	}
	return e, nil
}

// SetSyncInterval passes the sync interval to controllers that scale by it
func (e *Engine) SetSyncInterval(seconds float64) {
	if pi, ok := e.controller.(*PiServo); ok {
		pi.SyncInterval(seconds)
	}
}

// Reset clears filters and the controller, as done when the clock is (re)initialized
func (e *Engine) Reset() {
	e.masterToSlave = arith.Time{}
	e.slaveToMaster = arith.Time{}
	e.offset = arith.Time{}
	e.rawOffset = arith.Time{}
	e.ofm.Reset()
	e.owd.Reset()
	e.owd.S = e.cfg.S
	e.controller.Reset()
	e.lastFreq = 0
	e.state = StateInit
}

// UpdateOffset computes offset from master out of a sync origin and its local receive time.
// It returns the unfiltered offset.
func (e *Engine) UpdateOffset(origin, receive, correction arith.Time) arith.Time {
	e.masterToSlave = receive.Sub(origin).Sub(correction)
	e.offset = e.masterToSlave.Sub(e.meanPathDelay)
	e.rawOffset = e.offset
	if e.offset.Seconds != 0 {
		// can't filter seconds
		e.ofm.Partial()
		return e.rawOffset
	}
	e.offset.Nanoseconds = e.ofm.Filter(e.offset.Nanoseconds)
	return e.rawOffset
}

// UpdateDelay computes mean path delay from a delay request exchange.
// It returns false if the sample was dropped as an outlier.
func (e *Engine) UpdateDelay(reqSend, reqReceive, correction arith.Time) bool {
	e.slaveToMaster = reqReceive.Sub(reqSend).Sub(correction)
	delay := e.masterToSlave.Add(e.slaveToMaster).Div(2)
	return e.filterDelay(delay)
}

// UpdatePeerDelay computes link delay from a peer delay exchange.
// t1 and t4 are local send/receive times, t2 and t3 come from the peer.
// For one-step responders t2 and t3 are ignored.
func (e *Engine) UpdatePeerDelay(t1, t2, t3, t4, correction arith.Time, twoStep bool) bool {
	var delay arith.Time
	if twoStep {
		delay = t4.Sub(t1).Sub(t3.Sub(t2))
	} else {
		delay = t4.Sub(t1)
	}
	delay = delay.Sub(correction).Div(2)
	return e.filterDelay(delay)
}

func (e *Engine) filterDelay(delay arith.Time) bool {
	e.rawDelay = delay
	if e.cfg.MaxDelay > 0 && delay.Duration() > e.cfg.MaxDelay {
		log.Infof("delay %s is greater than administratively set maximum %v, sample dropped", delay, e.cfg.MaxDelay)
		return false
	}
	e.meanPathDelay = delay
	if delay.Seconds != 0 {
		e.owd.Partial()
		return true
	}
	e.meanPathDelay.Nanoseconds = e.owd.Filter(delay.Nanoseconds)
	return true
}

func (e *Engine) noAdjust(c Command) Command {
	if e.cfg.NoAdjust {
		return Command{Kind: CommandNone, Reason: ReasonNoAdjust}
	}
	return c
}

// UpdateClock decides on the clock correction for the current offset.
// localTs is the local time of the measurement in ns, used by controllers that estimate drift over time.
// The clock is held while the last delay sample is over MaxDelay.
func (e *Engine) UpdateClock(localTs uint64) Command {
	if e.cfg.MaxDelay > 0 && e.rawDelay.Duration() > e.cfg.MaxDelay {
		return Command{Kind: CommandNone, Reason: ReasonOutlier}
	}
	if e.cfg.MaxAdjust > 0 && abs64(e.offset.Nanoseconds64()) > e.cfg.MaxAdjust.Nanoseconds() {
		log.Infof("offset %s is greater than administratively set maximum %v, clock not adjusted", e.offset, e.cfg.MaxAdjust)
		return Command{Kind: CommandNone, Reason: ReasonMaxAdjust}
	}

	if e.offset.Seconds != 0 || abs64(e.offset.Nanoseconds64()) >= e.cfg.MaxStep.Nanoseconds() {
		if e.cfg.NoResetClock {
			freq := int32(MaxFreqPPB)
			if e.offset.Nanoseconds64() < 0 {
				freq = -freq
			}
			return e.noAdjust(Command{Kind: CommandSlew, Freq: -freq})
		}
		return e.noAdjust(Command{Kind: CommandStep, Step: e.offset.Neg()})
	}

	ppb, state := e.controller.Sample(e.offset.Nanoseconds64(), localTs)
	e.state = state
	switch state {
	case StateJump:
		return e.noAdjust(Command{Kind: CommandStep, Step: e.offset.Neg()})
	case StateInit:
		return Command{Kind: CommandNone}
	}
	e.lastFreq = -int32(ppb)
	return e.noAdjust(Command{Kind: CommandSlew, Freq: e.lastFreq})
}

// Offset returns filtered offset from master
func (e *Engine) Offset() arith.Time {
	return e.offset
}

// RawOffset returns offset from master before filtering
func (e *Engine) RawOffset() arith.Time {
	return e.rawOffset
}

// MeanPathDelay returns filtered mean path delay
func (e *Engine) MeanPathDelay() arith.Time {
	return e.meanPathDelay
}

// RawDelay returns the last computed delay before filtering
func (e *Engine) RawDelay() arith.Time {
	return e.rawDelay
}

// MasterToSlave returns the last master to slave delay
func (e *Engine) MasterToSlave() arith.Time {
	return e.masterToSlave
}

// SlaveToMaster returns the last slave to master delay
func (e *Engine) SlaveToMaster() arith.Time {
	return e.slaveToMaster
}

// Freq returns the last frequency correction, ppb
func (e *Engine) Freq() int32 {
	return e.lastFreq
}

// State returns controller state
func (e *Engine) State() State {
	return e.state
}

func (e *Engine) String() string {
	return fmt.Sprintf("offset %s delay %s freq %d", e.offset, e.meanPathDelay, e.lastFreq)
}
