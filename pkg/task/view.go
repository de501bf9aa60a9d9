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

import "time"

// Progress is the progress block of a View.
type Progress struct {
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
}

// View is the REST representation of a task. Result is set only when the
// task completed and Error only when it failed.
type View struct {
	ID          string         `json:"id"`
	AgentType   string         `json:"agent_type"`
	Action      string         `json:"action"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	Progress    Progress       `json:"progress"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// NewView builds the view of a snapshot.
func NewView(t *Task) View {
	v := View{
		ID:          t.ID,
		AgentType:   t.AgentType,
		Action:      t.Action,
		Status:      SimpleStatus(t.State),
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Progress: Progress{
			Percentage: t.Progress,
			Message:    t.ProgressMessage,
		},
	}
	switch t.State {
	case StateCompleted:
		v.Result = t.Result
	case StateFailed:
		v.Error = t.Error
	}
	return v
}
