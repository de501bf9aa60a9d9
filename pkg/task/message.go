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
	"maps"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"
)

// AgentMessage builds an agent-role text message bound to a task.
func AgentMessage(text, contextID, taskID string) *a2a.Message {
	msg := a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: text})
	msg.ContextID = contextID
	msg.TaskID = a2a.TaskID(taskID)
	return msg
}

// CloneMessage copies msg with a fresh message id and the given context and
// task references. Parts are copied by value.
func CloneMessage(msg *a2a.Message, contextID, taskID string) *a2a.Message {
	if msg == nil {
		return nil
	}
	c := *msg
	c.ID = uuid.New().String()
	c.ContextID = contextID
	c.TaskID = a2a.TaskID(taskID)
	c.Parts = make([]a2a.Part, len(msg.Parts))
	copy(c.Parts, msg.Parts)
	c.Metadata = maps.Clone(msg.Metadata)
	return &c
}

// MessageText concatenates the text parts of msg.
func MessageText(msg *a2a.Message) string {
	if msg == nil {
		return ""
	}

	var text string
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case a2a.TextPart:
			text += p.Text
		case *a2a.TextPart:
			text += p.Text
		}
	}
	return text
}
