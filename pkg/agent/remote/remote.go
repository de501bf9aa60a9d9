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

// Package remote builds agents whose actions are served by another A2A
// endpoint. Each action forwards a message/send carrying the action and
// payload in the message metadata.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/task"
)

// DefaultTimeout bounds a forwarded call when none is configured.
const DefaultTimeout = 30 * time.Second

// ActionConfig declares one forwarded action.
type ActionConfig struct {
	Name        string
	Description string
}

// Config configures a remote agent.
type Config struct {
	Type        string
	Name        string
	Description string

	// Endpoint is the JSON-RPC URL of the remote agent.
	Endpoint string
	Actions  []ActionConfig
	Timeout  time.Duration
}

// Sender delivers a message to the remote agent.
type Sender interface {
	SendMessage(ctx context.Context, params *a2a.MessageSendParams) (a2a.SendMessageResult, error)
}

// SenderFactory opens a Sender for an agent card.
type SenderFactory func(ctx context.Context, card *a2a.AgentCard) (Sender, func() error, error)

// Remote forwards actions to an A2A endpoint.
type Remote struct {
	cfg     Config
	card    *a2a.AgentCard
	connect SenderFactory
	logger  *slog.Logger
}

// Option configures a Remote.
type Option func(*Remote)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Remote) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSenderFactory replaces the a2a-go client used to reach the endpoint.
func WithSenderFactory(f SenderFactory) Option {
	return func(r *Remote) {
		if f != nil {
			r.connect = f
		}
	}
}

// New validates cfg and creates the remote agent.
func New(cfg Config, opts ...Option) (*Remote, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("remote agent type is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote agent %s: endpoint is required", cfg.Type)
	}
	if len(cfg.Actions) == 0 {
		return nil, fmt.Errorf("remote agent %s: at least one action is required", cfg.Type)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Type
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	r := &Remote{
		cfg: cfg,
		card: &a2a.AgentCard{
			Name:               cfg.Name,
			Description:        cfg.Description,
			URL:                cfg.Endpoint,
			PreferredTransport: a2a.TransportProtocolJSONRPC,
			ProtocolVersion:    "0.3.0",
			DefaultInputModes:  []string{"text/plain", "application/json"},
			DefaultOutputModes: []string{"text/plain", "application/json"},
		},
		connect: defaultSenderFactory,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func defaultSenderFactory(ctx context.Context, card *a2a.AgentCard) (Sender, func() error, error) {
	client, err := a2aclient.NewFromCard(ctx, card)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Destroy, nil
}

// Agent returns the local agent handle.
func (r *Remote) Agent() *agent.Agent {
	actions := make([]agent.Action, 0, len(r.cfg.Actions))
	for _, ac := range r.cfg.Actions {
		name := ac.Name
		actions = append(actions, agent.Action{
			Name:        name,
			Description: ac.Description,
			Handler: func(ctx context.Context, payload map[string]any) (any, error) {
				return r.call(ctx, name, payload)
			},
		})
	}
	return agent.New(r.cfg.Name, r.cfg.Description, actions...)
}

// Config returns the configuration the agent was built with.
func (r *Remote) Config() Config {
	return r.cfg
}

func (r *Remote) call(ctx context.Context, action string, payload map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	sender, closeFn, err := r.connect(ctx, r.card)
	if err != nil {
		return nil, fmt.Errorf("failed to reach remote agent %s: %w", r.cfg.Type, err)
	}
	if closeFn != nil {
		defer func() { _ = closeFn() }()
	}

	text, _ := payload["message"].(string)
	if text == "" {
		text = action
	}
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: text})
	msg.Metadata = map[string]any{
		"action":  action,
		"payload": maps.Clone(payload),
	}

	r.logger.Debug("Forwarding action to remote agent", "type", r.cfg.Type, "action", action, "endpoint", r.cfg.Endpoint)

	res, err := sender.SendMessage(ctx, &a2a.MessageSendParams{Message: msg})
	if err != nil {
		return nil, fmt.Errorf("remote agent %s: %w", r.cfg.Type, err)
	}
	return interpret(r.cfg.Type, res)
}

// interpret converts a remote response to an action result.
func interpret(agentType string, res a2a.SendMessageResult) (map[string]any, error) {
	switch v := res.(type) {
	case *a2a.Task:
		text := ""
		if v.Status.Message != nil {
			text = task.MessageText(v.Status.Message)
		}
		switch v.Status.State {
		case a2a.TaskStateFailed, a2a.TaskStateRejected, a2a.TaskStateCanceled:
			if text == "" {
				text = string(v.Status.State)
			}
			return nil, fmt.Errorf("remote agent %s: %s", agentType, strings.TrimPrefix(text, "Error: "))
		}
		if data := resultData(v); data != nil {
			return data, nil
		}
		return map[string]any{"response": text, "remote_task_id": string(v.ID)}, nil
	case *a2a.Message:
		return map[string]any{"response": task.MessageText(v)}, nil
	default:
		return nil, fmt.Errorf("remote agent %s: unexpected response %T", agentType, res)
	}
}

// resultData returns the last data part found in the task's artifacts.
func resultData(t *a2a.Task) map[string]any {
	var out map[string]any
	for _, art := range t.Artifacts {
		if art == nil {
			continue
		}
		for _, part := range art.Parts {
			switch p := part.(type) {
			case a2a.DataPart:
				out = p.Data
			case *a2a.DataPart:
				out = p.Data
			}
		}
	}
	return out
}
