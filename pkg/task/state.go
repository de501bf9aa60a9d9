// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package task

import (
	"github.com/a2aproject/a2a-go/a2a"
)

// State represents the current state of a task.
type State string

const (
	// StateSubmitted means the task has been created but not started.
	StateSubmitted State = "submitted"

	// StateWorking means an execution routine is processing the task.
	StateWorking State = "working"

	// StateInputRequired means the task is waiting for more input.
	StateInputRequired State = "input-required"

	// StateCompleted means the action returned successfully.
	StateCompleted State = "completed"

	// StateCanceled means the task was canceled before it finished.
	StateCanceled State = "canceled"

	// StateFailed means the action failed or could not be resolved.
	StateFailed State = "failed"

	// StateRejected means the agent declined the task.
	StateRejected State = "rejected"

	// StateAuthRequired means the task needs authentication.
	StateAuthRequired State = "auth-required"

	// StateUnknown is used when the state cannot be determined.
	StateUnknown State = "unknown"
)

// States lists every state. Both lookup tables below must cover all of them.
var States = []State{
	StateSubmitted,
	StateWorking,
	StateInputRequired,
	StateCompleted,
	StateCanceled,
	StateFailed,
	StateRejected,
	StateAuthRequired,
	StateUnknown,
}

// wireStates maps internal states to the A2A wire enum.
var wireStates = map[State]a2a.TaskState{
	StateSubmitted:     a2a.TaskStateSubmitted,
	StateWorking:       a2a.TaskStateWorking,
	StateInputRequired: a2a.TaskStateInputRequired,
	StateCompleted:     a2a.TaskStateCompleted,
	StateCanceled:      a2a.TaskStateCanceled,
	StateFailed:        a2a.TaskStateFailed,
	StateRejected:      a2a.TaskStateRejected,
	StateAuthRequired:  a2a.TaskStateAuthRequired,
	StateUnknown:       a2a.TaskStateUnknown,
}

// simpleStatuses maps internal states to the status strings used by the
// REST surface and by status filters.
var simpleStatuses = map[State]string{
	StateSubmitted:     "pending",
	StateWorking:       "running",
	StateInputRequired: "input_required",
	StateCompleted:     "completed",
	StateCanceled:      "canceled",
	StateFailed:        "failed",
	StateRejected:      "rejected",
	StateAuthRequired:  "auth_required",
	StateUnknown:       "unknown",
}

// IsTerminal returns whether this state is terminal (no more transitions).
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled, StateRejected:
		return true
	}
	return false
}

// IsCancelable returns whether a task in this state may be canceled.
func (s State) IsCancelable() bool {
	return s == StateSubmitted || s == StateWorking
}

// WireState returns the A2A wire state for s.
func WireState(s State) a2a.TaskState {
	if ws, ok := wireStates[s]; ok {
		return ws
	}
	return a2a.TaskStateUnknown
}

// StateFromWire returns the internal state for an A2A wire state.
func StateFromWire(ws a2a.TaskState) State {
	for s, w := range wireStates {
		if w == ws {
			return s
		}
	}
	return StateUnknown
}

// SimpleStatus returns the simplified status string for s.
func SimpleStatus(s State) string {
	if status, ok := simpleStatuses[s]; ok {
		return status
	}
	return simpleStatuses[StateUnknown]
}

// IsValidStatus reports whether status is a known simplified status string.
func IsValidStatus(status string) bool {
	for _, s := range simpleStatuses {
		if s == status {
			return true
		}
	}
	return false
}
