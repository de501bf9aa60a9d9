// Copyright 2025 Kadir Pekel
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

package protocol

import (
	"maps"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/conductor/pkg/task"
)

// TaskToWire converts a task snapshot to the A2A wire Task. When
// historyLength is set, only the last historyLength history entries are
// kept; an empty history is omitted.
func TaskToWire(t *task.Task, historyLength *int) *a2a.Task {
	snap := t.Clone()

	ts := snap.CreatedAt
	switch {
	case snap.CompletedAt != nil:
		ts = *snap.CompletedAt
	case snap.StartedAt != nil:
		ts = *snap.StartedAt
	}

	wire := &a2a.Task{
		ID:        a2a.TaskID(snap.ID),
		ContextID: snap.ContextID,
		Status: a2a.TaskStatus{
			State:     task.WireState(snap.State),
			Message:   statusMessage(snap.History),
			Timestamp: &ts,
		},
		Metadata: maps.Clone(snap.Metadata),
	}

	if len(snap.Artifacts) > 0 {
		wire.Artifacts = snap.Artifacts
	}

	history := snap.History
	if historyLength != nil {
		n := max(*historyLength, 0)
		if len(history) > n {
			history = history[len(history)-n:]
		}
	}
	if len(history) > 0 {
		wire.History = history
	}

	return wire
}

// statusMessage returns the most recent agent message, if any.
func statusMessage(history []*a2a.Message) *a2a.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] != nil && history[i].Role == a2a.MessageRoleAgent {
			return history[i]
		}
	}
	return nil
}
