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
	"fmt"
	"strings"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// counter keys exported via StatsServer
const (
	counterPortState          = "port.state"
	counterOffset             = "servo.offset_ns"
	counterRawOffset          = "servo.raw_offset_ns"
	counterMeanPathDelay      = "servo.mean_path_delay_ns"
	counterFreq               = "servo.freq_ppb"
	counterServoOutlier       = "servo.outlier"
	counterClockStep          = "clock.step"
	counterClockError         = "clock.error"
	counterInitError          = "port.init_error"
	counterRXError            = "rx.error"
	counterRXNoTimestamp      = "rx.no_timestamp"
	counterRXShortHeader      = "rx.short_header"
	counterRXDecodeError      = "rx.decode_error"
	counterRXIgnored          = "rx.ignored"
	counterRXSequenceMismatch = "rx.sequence_mismatch"
	counterTXError            = "tx.error"
)

// sample keys
const (
	sampleOffset        = "offset_ns"
	sampleMeanPathDelay = "mean_path_delay_ns"
)

func msgCounter(dir string, t ptp.MessageType) string {
	return fmt.Sprintf("%s.%s", dir, strings.ToLower(t.String()))
}

func rxCounter(t ptp.MessageType) string {
	return msgCounter("rx", t)
}

func txCounter(t ptp.MessageType) string {
	return msgCounter("tx", t)
}
