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
Package servo turns offset and path delay measurements into clock corrections.

Measurements are filtered (a two-sample average for the offset, an
exponential filter with growing stiffness for the path delay) and fed into
a controller. The default controller is the classic attenuated
proportional-integral loop, a linuxptp style PI servo is available as an
alternative.
*/
package servo

import (
	"fmt"
	"time"

	"github.com/facebook/ptpd/ptp/ptpd/arith"
)

// MaxFreqPPB is the largest frequency correction ever requested, in ppb
const MaxFreqPPB = 512000

// State of the controller after a sample
type State uint8

// All the states controller can be in
const (
	StateInit State = iota
	StateJump
	StateLocked
)

var stateToString = map[State]string{
	StateInit:   "INIT",
	StateJump:   "JUMP",
	StateLocked: "LOCKED",
}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// Controller computes frequency correction from a filtered offset
type Controller interface {
	// Sample takes offset (slave minus master) in ns and local timestamp of the measurement.
	// Returned frequency is the amount the clock should be slowed down by, in ppb.
	Sample(offset int64, localTs uint64) (float64, State)
	Reset()
}

// Supported controllers
const (
	ControllerPTPD = "ptpd"
	ControllerPI   = "pi"
)

// Config for the measurement engine
type Config struct {
	AP           int           `yaml:"ap"`
	AI           int           `yaml:"ai"`
	S            int           `yaml:"s"`
	MaxStep      time.Duration `yaml:"max_step"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAdjust    time.Duration `yaml:"max_adjust"`
	NoAdjust     bool          `yaml:"no_adjust"`
	NoResetClock bool          `yaml:"no_reset_clock"`
	Controller   string        `yaml:"controller"`
}

// DefaultConfig returns Config with ptpd defaults
func DefaultConfig() *Config {
	return &Config{
		AP:         10,
		AI:         1000,
		S:          6,
		MaxStep:    time.Second,
		Controller: ControllerPTPD,
	}
}

// Validate Config
func (c *Config) Validate() error {
	if c.AP < 1 {
		return fmt.Errorf("ap must be at least 1")
	}
	if c.AI < 1 {
		return fmt.Errorf("ai must be at least 1")
	}
	if c.S < 0 || c.S > 30 {
		return fmt.Errorf("s must be in [0, 30]")
	}
	if c.MaxStep <= 0 {
		return fmt.Errorf("max_step must be positive")
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("max_delay must be 0 or positive")
	}
	if c.MaxAdjust < 0 {
		return fmt.Errorf("max_adjust must be 0 or positive")
	}
	if c.Controller != ControllerPTPD && c.Controller != ControllerPI {
		return fmt.Errorf("unsupported controller %q", c.Controller)
	}
	return nil
}

// CommandKind says what has to be done to the clock
type CommandKind uint8

// Clock commands
const (
	CommandNone CommandKind = iota
	CommandStep
	CommandSlew
)

var commandToString = map[CommandKind]string{
	CommandNone: "NONE",
	CommandStep: "STEP",
	CommandSlew: "SLEW",
}

func (c CommandKind) String() string {
	return commandToString[c]
}

// Reason why no correction was produced
type Reason uint8

// Reasons
const (
	ReasonNone Reason = iota
	ReasonOutlier
	ReasonMaxAdjust
	ReasonNoAdjust
)

// Command is the output of UpdateClock
type Command struct {
	Kind CommandKind
	// Step is the amount to add to the clock
	Step arith.Time
	// Freq is the frequency adjustment to apply, ppb
	Freq   int32
	Reason Reason
}

func (c Command) String() string {
	switch c.Kind {
	case CommandStep:
		return fmt.Sprintf("step %s", c.Step)
	case CommandSlew:
		return fmt.Sprintf("slew %d ppb", c.Freq)
	}
	return "none"
}
