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

// Package config defines the conductor configuration and loads it from
// YAML or JSON.
//
// A typical conductor.yaml:
//
//	server:
//	  port: 8080
//	auth:
//	  enabled: true
//	  secret: ${JWT_SECRET}
//	orchestrator:
//	  max_concurrent: 5
//	docstore:
//	  path: ./data/documents
//	agents:
//	  remote:
//	    - type: summarizer
//	      endpoint: http://summarizer:8080/a2a/agents/summarizer
//	      actions:
//	        - name: summarize
package config

import (
	"errors"
	"fmt"

	"github.com/kadirpekel/conductor/pkg/observability"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server,omitempty" json:"server,omitempty"`
	Logger        LoggerConfig         `yaml:"logger,omitempty" json:"logger,omitempty"`
	Auth          AuthConfig           `yaml:"auth,omitempty" json:"auth,omitempty"`
	Orchestrator  OrchestratorConfig   `yaml:"orchestrator,omitempty" json:"orchestrator,omitempty"`
	DocStore      DocStoreConfig       `yaml:"docstore,omitempty" json:"docstore,omitempty"`
	Archive       ArchiveConfig        `yaml:"archive,omitempty" json:"archive,omitempty"`
	Events        EventsConfig         `yaml:"events,omitempty" json:"events,omitempty"`
	MCP           MCPConfig            `yaml:"mcp,omitempty" json:"mcp,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty" json:"observability,omitempty"`
	Agents        AgentsConfig         `yaml:"agents,omitempty" json:"agents,omitempty"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Logger.SetDefaults()
	c.Auth.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.DocStore.SetDefaults()
	c.Archive.SetDefaults()
	c.Events.SetDefaults()
	c.MCP.SetDefaults()
	c.Observability.SetDefaults()
	c.Agents.SetDefaults()
}

// Validate checks every section and reports all failures at once.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		fn   func() error
	}{
		{"server", c.Server.Validate},
		{"logger", c.Logger.Validate},
		{"auth", c.Auth.Validate},
		{"orchestrator", c.Orchestrator.Validate},
		{"docstore", c.DocStore.Validate},
		{"archive", c.Archive.Validate},
		{"events", c.Events.Validate},
		{"mcp", c.MCP.Validate},
		{"observability", c.Observability.Validate},
		{"agents", c.Agents.Validate},
	}

	var errs []error
	for _, s := range sections {
		if err := s.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// BoolValue dereferences b, returning def when nil.
func BoolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
