// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package state

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid phase transition")

// Phase is the code-replacement lifecycle of the process
type Phase uint8

const (
	PhaseRestoring Phase = iota
	PhaseRunning
	PhaseCheckpointing
	PhaseReplaced
)

func (p Phase) String() string {
	switch p {
	case PhaseRestoring:
		return "restoring"
	case PhaseRunning:
		return "running"
	case PhaseCheckpointing:
		return "checkpointing"
	case PhaseReplaced:
		return "replaced"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

var phaseTransitions = map[Phase][]Phase{
	PhaseRestoring:     {PhaseRunning},
	PhaseRunning:       {PhaseCheckpointing},
	PhaseCheckpointing: {PhaseReplaced, PhaseRunning},
	// a replacement that fails to exec returns to Running
	PhaseReplaced: {PhaseRestoring, PhaseRunning},
}

// CanTransition reports whether the lifecycle allows moving from p to next
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}
