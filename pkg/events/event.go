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

// Package events publishes task lifecycle events to external brokers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/kadirpekel/conductor/pkg/task"
)

// Type identifies a lifecycle event.
type Type string

const (
	TypeSubmitted Type = "task.submitted"
	TypeStarted   Type = "task.started"
	TypeCompleted Type = "task.completed"
	TypeFailed    Type = "task.failed"
	TypeCanceled  Type = "task.canceled"
)

// Event is a point-in-time notification about a task.
type Event struct {
	Type      Type      `json:"type"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	ContextID string    `json:"context_id"`
	AgentType string    `json:"agent_type"`
	Action    string    `json:"action"`
	State     string    `json:"state"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// FromTask builds an event from a task snapshot.
func FromTask(typ Type, t *task.Task) Event {
	snap := t.Clone()
	return Event{
		Type:      typ,
		TaskID:    snap.ID,
		UserID:    snap.UserID,
		ContextID: snap.ContextID,
		AgentType: snap.AgentType,
		Action:    snap.Action,
		State:     string(snap.State),
		Status:    task.SimpleStatus(snap.State),
		Progress:  snap.Progress,
		Message:   snap.StatusMessage,
		Error:     snap.Error,
		Timestamp: time.Now().UTC(),
	}
}

// TerminalType returns the event type for a terminal state.
func TerminalType(s task.State) Type {
	switch s {
	case task.StateCompleted:
		return TypeCompleted
	case task.StateCanceled:
		return TypeCanceled
	default:
		return TypeFailed
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi fans an event out to several publishers.
type Multi []Publisher

// Publish delivers to every publisher and joins their errors.
func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
