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

package agent

import (
	"context"
	"fmt"
)

// Handler executes one agent action.
type Handler func(ctx context.Context, payload map[string]any) (any, error)

// Action describes a named agent action and its handler.
type Action struct {
	Name        string
	Description string

	// Parameters lists the payload keys the action understands.
	Parameters []string

	Handler Handler
}

// Agent is a named collection of actions.
type Agent struct {
	name        string
	description string
	actions     map[string]Action
	order       []string
}

// New creates an agent from its actions. Later actions with a duplicate
// name replace earlier ones.
func New(name, description string, actions ...Action) *Agent {
	a := &Agent{
		name:        name,
		description: description,
		actions:     make(map[string]Action, len(actions)),
	}
	for _, action := range actions {
		a.add(action)
	}
	return a
}

func (a *Agent) add(action Action) {
	if _, exists := a.actions[action.Name]; !exists {
		a.order = append(a.order, action.Name)
	}
	a.actions[action.Name] = action
}

// Name returns the display name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent description.
func (a *Agent) Description() string { return a.description }

// Handler returns the handler registered for action.
func (a *Agent) Handler(action string) (Handler, bool) {
	act, ok := a.actions[action]
	if !ok || act.Handler == nil {
		return nil, false
	}
	return act.Handler, true
}

// Actions returns the actions in declaration order.
func (a *Agent) Actions() []Action {
	out := make([]Action, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.actions[name])
	}
	return out
}

// Errors
var (
	ErrAgentNotFound  = &Error{Code: "agent_not_found", Message: "agent not found"}
	ErrActionNotFound = &Error{Code: "action_not_found", Message: "action not supported"}
)

// Error is an agent routing error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// UnsupportedActionError reports that agentType has no action named action.
func UnsupportedActionError(agentType, action string) error {
	return fmt.Errorf("agent %s does not support action %s: %w", agentType, action, ErrActionNotFound)
}
