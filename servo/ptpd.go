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

// PTPDController is the attenuated PI loop: the integral term accumulates offset/ai,
// the output is offset/ap plus the accumulated drift
type PTPDController struct {
	ap    int64
	ai    int64
	drift int64
}

// NewPTPDController creates PTPDController. Attenuations below 1 are raised to 1.
func NewPTPDController(ap, ai int) *PTPDController {
	if ap < 1 {
		ap = 1
	}
	if ai < 1 {
		ai = 1
	}
	return &PTPDController{ap: int64(ap), ai: int64(ai)}
}

// Sample implements Controller. The controller is always locked.
func (c *PTPDController) Sample(offset int64, _ uint64) (float64, State) {
	c.drift += offset / c.ai
	if c.drift > MaxFreqPPB {
		c.drift = MaxFreqPPB
	} else if c.drift < -MaxFreqPPB {
		c.drift = -MaxFreqPPB
	}
	return float64(offset/c.ap + c.drift), StateLocked
}

// Drift returns the integral accumulator
func (c *PTPDController) Drift() int64 {
	return c.drift
}

// Reset clears the accumulator
func (c *PTPDController) Reset() {
	c.drift = 0
}
