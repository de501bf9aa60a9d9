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

// Package task provides the task record tracked by the orchestrator.
//
// A Task is the unit of agent work. This package implements:
//   - The lifecycle state machine (submitted → working → completed/failed/canceled)
//   - The wire and simplified status vocabularies kept in lockstep
//   - Guarded transitions that never leave a terminal state
//   - Task history and artifact bookkeeping
package task

import (
	"maps"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"
)

// Progress messages recorded at each lifecycle step.
const (
	ProgressRunning   = "Running"
	ProgressCompleted = "Completed"
	ProgressFailed    = "Failed"
	ProgressCanceled  = "Canceled"

	// DefaultSummary is used when a result carries no human-readable text.
	DefaultSummary = "Task completed successfully."

	// CancelMessage is appended to the history of a canceled task.
	CancelMessage = "Task was cancelled."

	// ResultArtifactName names the artifact carrying a completed result.
	ResultArtifactName = "result"
)

// summaryKeys are consulted in order when summarizing a result.
var summaryKeys = []string{"response", "message", "summary"}

// Task represents a unit of agent work.
// Fields are guarded by an internal lock; callers outside the orchestrator
// should only ever see values returned by Clone.
type Task struct {
	// ID is the unique identifier for this task.
	ID string

	// UserID owns the task.
	UserID string

	AgentType string
	Action    string

	// Payload is the input handed to the agent action. Never mutated.
	Payload map[string]any

	// ContextID groups related tasks and messages.
	ContextID string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	State           State
	StatusMessage   string
	Progress        int
	ProgressMessage string

	// Result is set only once the task is completed or failed.
	Result map[string]any

	// Error is set only on failure.
	Error string

	History   []*a2a.Message
	Artifacts []*a2a.Artifact
	Metadata  map[string]any

	// OriginMessage is the protocol message that triggered the task, if any.
	OriginMessage *a2a.Message

	mu sync.RWMutex
}

// Params describes a task to create.
type Params struct {
	UserID        string
	AgentType     string
	Action        string
	Payload       map[string]any
	ContextID     string
	OriginMessage *a2a.Message
	Metadata      map[string]any
}

// New creates a task in the submitted state.
func New(p Params) *Task {
	payload := p.Payload
	if payload == nil {
		payload = make(map[string]any)
	}
	metadata := maps.Clone(p.Metadata)
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &Task{
		ID:            uuid.New().String(),
		UserID:        p.UserID,
		AgentType:     p.AgentType,
		Action:        p.Action,
		Payload:       payload,
		ContextID:     p.ContextID,
		CreatedAt:     time.Now(),
		State:         StateSubmitted,
		History:       make([]*a2a.Message, 0),
		Artifacts:     make([]*a2a.Artifact, 0),
		Metadata:      metadata,
		OriginMessage: p.OriginMessage,
	}
}

// GetState returns the current state (thread-safe).
func (t *Task) GetState() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.State
}

// Status returns the simplified status string of the current state.
func (t *Task) Status() string {
	return SimpleStatus(t.GetState())
}

// Start moves the task to working and anchors the origin message as the
// first history entry. Returns false if the task already reached a terminal
// state, in which case nothing changes.
func (t *Task) Start(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State.IsTerminal() {
		return false
	}

	t.StartedAt = &now
	t.State = StateWorking
	t.Progress = 25
	t.ProgressMessage = ProgressRunning

	if t.OriginMessage != nil {
		t.History = append(t.History, CloneMessage(t.OriginMessage, t.ContextID, t.ID))
	}
	return true
}

// Complete records a successful result. The summary text is derived from the
// result and appended as an agent message, and the result itself is attached
// as a data artifact. Returns false if the task is already terminal; the
// result is then discarded.
func (t *Task) Complete(now time.Time, result map[string]any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State.IsTerminal() {
		return false
	}

	if result == nil {
		result = make(map[string]any)
	}
	summary := Summarize(result)

	t.Result = result
	t.Error = ""
	t.State = StateCompleted
	t.StatusMessage = summary
	t.Progress = 100
	t.ProgressMessage = ProgressCompleted
	t.History = append(t.History, AgentMessage(summary, t.ContextID, t.ID))
	t.Artifacts = append(t.Artifacts, ResultArtifact(result))
	t.CompletedAt = &now
	return true
}

// ResultArtifact wraps a result map in a single data part artifact.
func ResultArtifact(result map[string]any) *a2a.Artifact {
	return &a2a.Artifact{
		ID:    a2a.NewArtifactID(),
		Name:  ResultArtifactName,
		Parts: a2a.ContentParts{a2a.DataPart{Data: maps.Clone(result)}},
	}
}

// Fail records a failure. A synthetic result is stored unless one was set.
// Returns false if the task is already terminal.
func (t *Task) Fail(now time.Time, errText string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State.IsTerminal() {
		return false
	}

	t.State = StateFailed
	t.Error = errText
	t.StatusMessage = "Error: " + errText
	t.Progress = 100
	t.ProgressMessage = ProgressFailed
	t.History = append(t.History, AgentMessage(t.StatusMessage, t.ContextID, t.ID))
	if t.Result == nil {
		t.Result = map[string]any{
			"success": false,
			"error":   errText,
		}
	}
	t.CompletedAt = &now
	return true
}

// Cancel moves a submitted or working task to canceled.
// Returns false if the task cannot be canceled from its current state.
func (t *Task) Cancel(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.State.IsCancelable() {
		return false
	}

	t.State = StateCanceled
	t.StatusMessage = CancelMessage
	t.Progress = 100
	t.ProgressMessage = ProgressCanceled
	t.History = append(t.History, AgentMessage(CancelMessage, t.ContextID, t.ID))
	t.CompletedAt = &now
	return true
}

// OwnedBy reports whether userID owns the task.
func (t *Task) OwnedBy(userID string) bool {
	return t.UserID == userID
}

// Clone returns a point-in-time copy that shares no mutable state with t.
// Messages and artifacts are shared by pointer since they are never mutated
// once appended.
func (t *Task) Clone() *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c := &Task{
		ID:              t.ID,
		UserID:          t.UserID,
		AgentType:       t.AgentType,
		Action:          t.Action,
		Payload:         maps.Clone(t.Payload),
		ContextID:       t.ContextID,
		CreatedAt:       t.CreatedAt,
		StartedAt:       copyTime(t.StartedAt),
		CompletedAt:     copyTime(t.CompletedAt),
		State:           t.State,
		StatusMessage:   t.StatusMessage,
		Progress:        t.Progress,
		ProgressMessage: t.ProgressMessage,
		Result:          maps.Clone(t.Result),
		Error:           t.Error,
		History:         append([]*a2a.Message(nil), t.History...),
		Artifacts:       append([]*a2a.Artifact(nil), t.Artifacts...),
		Metadata:        maps.Clone(t.Metadata),
		OriginMessage:   t.OriginMessage,
	}
	return c
}

// Summarize returns the first non-empty string among the response, message
// and summary keys of result, or DefaultSummary.
func Summarize(result map[string]any) string {
	for _, key := range summaryKeys {
		if s, ok := result[key].(string); ok && s != "" {
			return s
		}
	}
	return DefaultSummary
}

func copyTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}
