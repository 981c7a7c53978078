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
	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

func (p *Port) displayStats() {
	fields := log.Fields{
		"state": p.state.String(),
	}
	switch p.state {
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
		fields["parent"] = p.parent.ParentPortIdentity.String()
		fields["offset"] = p.servo.Offset().String()
		fields["mean_path_delay"] = p.servo.MeanPathDelay().String()
		fields["freq_ppb"] = p.servo.Freq()
		fields["servo"] = p.servo.State().String()
	case ptp.PortStateMaster:
		fields["foreign"] = p.foreign.Len()
	}
	log.WithFields(fields).Info("stats")
}

func (p *Port) displayPacket(pkt ptp.Packet) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	log.Debugf("%s:\n%s", pkt.MessageType(), spew.Sdump(pkt))
}
