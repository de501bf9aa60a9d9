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

package config

import (
	"fmt"
	"time"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"default=0.0.0.0"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"minimum=1,maximum=65535,default=8080"`

	// BaseURL is the externally visible URL used in agent cards.
	// Derived from host and port when empty.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
	IdleTimeout     time.Duration `yaml:"idle_timeout,omitempty" json:"idle_timeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	// Blocking message/send waits for the action to finish.
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Address returns host:port for the listener.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ResolvedBaseURL returns BaseURL, or one derived from host and port.
func (c *ServerConfig) ResolvedBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	host := c.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// OrchestratorConfig configures task execution.
type OrchestratorConfig struct {
	// MaxConcurrent bounds background tasks running at once.
	MaxConcurrent int `yaml:"max_concurrent,omitempty" json:"max_concurrent,omitempty" jsonschema:"minimum=1,default=5"`

	// TaskTimeout bounds a single action. Zero disables the bound.
	TaskTimeout time.Duration `yaml:"task_timeout,omitempty" json:"task_timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *OrchestratorConfig) SetDefaults() {
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 5
	}
}

// Validate checks the orchestrator configuration.
func (c *OrchestratorConfig) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	if c.TaskTimeout < 0 {
		return fmt.Errorf("task_timeout must be non-negative")
	}
	return nil
}

// MCPConfig configures the MCP bridge.
type MCPConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"default=true"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"default=/mcp"`

	// DefaultUser owns MCP tasks when auth is disabled.
	DefaultUser string `yaml:"default_user,omitempty" json:"default_user,omitempty" jsonschema:"default=mcp_user"`
}

// SetDefaults applies default values.
func (c *MCPConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Path == "" {
		c.Path = "/mcp"
	}
	if c.DefaultUser == "" {
		c.DefaultUser = "mcp_user"
	}
}

// Validate checks the MCP configuration.
func (c *MCPConfig) Validate() error {
	if c.Path != "" && c.Path[0] != '/' {
		return fmt.Errorf("path must start with /")
	}
	return nil
}

// IsEnabled reports whether the bridge is mounted.
func (c *MCPConfig) IsEnabled() bool {
	return BoolValue(c.Enabled, true)
}
