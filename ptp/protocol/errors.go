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

package protocol

import (
	"errors"
	"fmt"
)

// Decode error kinds
var (
	ErrShortHeader  = errors.New("message shorter than header")
	ErrShortMessage = errors.New("message shorter than minimum for its type")
	ErrUnknownType  = errors.New("unrecognized message type")
)

// DecodeError is returned when bytes can't be turned into a message
type DecodeError struct {
	Type MessageType
	Need int
	Have int
	Err  error
}

func (e *DecodeError) Error() string {
	if errors.Is(e.Err, ErrUnknownType) {
		return fmt.Sprintf("decoding %s: %v", e.Type, e.Err)
	}
	if errors.Is(e.Err, ErrShortHeader) {
		return fmt.Sprintf("%v: need %d bytes, got %d", e.Err, e.Need, e.Have)
	}
	return fmt.Sprintf("not enough data to decode %s: need %d bytes, got %d", e.Type, e.Need, e.Have)
}

// Unwrap returns the error kind
func (e *DecodeError) Unwrap() error {
	return e.Err
}
