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
	"fmt"
	"log/slog"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/conductor/pkg/registry"
)

// Capability map keys understood by ListAvailable.
const (
	CapabilityName        = "name"
	CapabilityDescription = "description"
	CapabilityActions     = "actions"
)

// Registration is a registry entry for one agent type.
type Registration struct {
	Type         string
	Agent        *Agent
	Capabilities map[string]any
	Endpoint     string
}

// ActionInfo describes an action for discovery.
type ActionInfo struct {
	Name        string   `json:"name" mapstructure:"name"`
	Description string   `json:"description" mapstructure:"description"`
	Parameters  []string `json:"parameters" mapstructure:"parameters"`
}

// Info describes a registered agent for discovery.
type Info struct {
	Type        string       `json:"type"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Endpoint    string       `json:"endpoint,omitempty"`
	Actions     []ActionInfo `json:"actions"`

	// Inferred is set when Actions was derived from the agent's action map
	// because no capability list was declared. Such lists are approximate.
	Inferred bool `json:"inferred,omitempty"`
}

// Registry maps agent types to agents. Written at startup, read on every
// submission.
type Registry struct {
	entries *registry.BaseRegistry[*Registration]
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: registry.NewBaseRegistry[*Registration](),
		logger:  logger,
	}
}

// Register stores the agent under agentType, replacing any earlier entry.
func (r *Registry) Register(agentType string, a *Agent, capabilities map[string]any, endpoint string) error {
	if agentType == "" {
		return fmt.Errorf("agent type cannot be empty")
	}
	if a == nil {
		return fmt.Errorf("agent %q cannot be nil", agentType)
	}

	replaced, err := r.entries.Put(agentType, &Registration{
		Type:         agentType,
		Agent:        a,
		Capabilities: capabilities,
		Endpoint:     endpoint,
	})
	if err != nil {
		return err
	}

	r.logger.Info("Registered agent", "type", agentType, "actions", len(a.Actions()), "endpoint", endpoint, "replaced", replaced)
	return nil
}

// Resolve returns the agent registered under agentType.
func (r *Registry) Resolve(agentType string) (*Agent, error) {
	entry, ok := r.entries.Get(agentType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentType)
	}
	return entry.Agent, nil
}

// Lookup returns the full registration for agentType.
func (r *Registry) Lookup(agentType string) (*Registration, bool) {
	return r.entries.Get(agentType)
}

// Endpoint returns the external endpoint recorded for agentType, if any.
func (r *Registry) Endpoint(agentType string) string {
	entry, ok := r.entries.Get(agentType)
	if !ok {
		return ""
	}
	return entry.Endpoint
}

// Types returns the registered agent types in sorted order.
func (r *Registry) Types() []string {
	return r.entries.Names()
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	return r.entries.Count()
}

// ListAvailable describes every registered agent, ordered by type.
func (r *Registry) ListAvailable() []Info {
	entries := r.entries.List()
	out := make([]Info, 0, len(entries))
	for _, entry := range entries {
		out = append(out, r.describe(entry))
	}
	return out
}

// Describe returns the description of a single agent.
func (r *Registry) Describe(agentType string) (Info, bool) {
	entry, ok := r.entries.Get(agentType)
	if !ok {
		return Info{}, false
	}
	return r.describe(entry), true
}

func (r *Registry) describe(entry *Registration) Info {
	info := Info{
		Type:        entry.Type,
		Name:        entry.Agent.Name(),
		Description: entry.Agent.Description(),
		Endpoint:    entry.Endpoint,
	}
	if name, ok := entry.Capabilities[CapabilityName].(string); ok && name != "" {
		info.Name = name
	}
	if desc, ok := entry.Capabilities[CapabilityDescription].(string); ok && desc != "" {
		info.Description = desc
	}

	if declared, ok := entry.Capabilities[CapabilityActions]; ok {
		var actions []ActionInfo
		err := mapstructure.Decode(declared, &actions)
		if err == nil {
			info.Actions = normalizeActions(actions)
			return info
		}
		r.logger.Warn("Ignoring malformed capability actions", "type", entry.Type, "error", err)
	}

	// Approximate: every action in the map is listed, parameters undeclared.
	info.Inferred = true
	info.Actions = make([]ActionInfo, 0)
	for _, action := range entry.Agent.Actions() {
		info.Actions = append(info.Actions, ActionInfo{
			Name:        action.Name,
			Description: action.Description,
			Parameters:  []string{},
		})
	}
	return info
}

func normalizeActions(actions []ActionInfo) []ActionInfo {
	if actions == nil {
		return []ActionInfo{}
	}
	for i := range actions {
		if actions[i].Parameters == nil {
			actions[i].Parameters = []string{}
		}
	}
	return actions
}

// DescribeActions returns the capability list for an agent's own action
// declarations, including parameters. Use it to register an agent with an
// explicit capability map.
func DescribeActions(a *Agent) []ActionInfo {
	out := make([]ActionInfo, 0, len(a.Actions()))
	for _, action := range a.Actions() {
		params := action.Parameters
		if params == nil {
			params = []string{}
		}
		out = append(out, ActionInfo{
			Name:        action.Name,
			Description: action.Description,
			Parameters:  params,
		})
	}
	return out
}
