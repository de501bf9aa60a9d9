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

// DocStoreConfig configures the document store.
type DocStoreConfig struct {
	// Path enables persistence. Empty keeps documents in memory.
	Path     string         `yaml:"path,omitempty" json:"path,omitempty"`
	Compress bool           `yaml:"compress,omitempty" json:"compress,omitempty"`
	Embedder EmbedderConfig `yaml:"embedder,omitempty" json:"embedder,omitempty"`
}

// EmbedderConfig selects the embedding function.
type EmbedderConfig struct {
	Provider  string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=hash,enum=ollama,enum=openai,default=hash"`
	Model     string `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKey    string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Dimension int    `yaml:"dimension,omitempty" json:"dimension,omitempty"`
}

// SetDefaults applies default values.
func (c *DocStoreConfig) SetDefaults() {
	if c.Embedder.Provider == "" {
		c.Embedder.Provider = "hash"
	}
}

// Validate checks the docstore configuration.
func (c *DocStoreConfig) Validate() error {
	switch c.Embedder.Provider {
	case "", "hash", "ollama":
	case "openai":
		if c.Embedder.APIKey == "" && c.Embedder.BaseURL == "" {
			return fmt.Errorf("embedder: api_key is required for openai")
		}
	default:
		return fmt.Errorf("embedder: unknown provider %q (valid: hash, ollama, openai)", c.Embedder.Provider)
	}
	if c.Embedder.Dimension < 0 {
		return fmt.Errorf("embedder: dimension must be non-negative")
	}
	return nil
}

// EventsConfig configures lifecycle event publishing.
type EventsConfig struct {
	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
	Kafka KafkaConfig `yaml:"kafka,omitempty" json:"kafka,omitempty"`
}

// RedisConfig configures the Redis pub/sub publisher.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty" jsonschema:"default=localhost:6379"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
	Channel  string `yaml:"channel,omitempty" json:"channel,omitempty"`
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Brokers []string `yaml:"brokers,omitempty" json:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty" json:"topic,omitempty"`
}

// SetDefaults applies default values.
func (c *EventsConfig) SetDefaults() {
	if c.Redis.Enabled && c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
}

// Validate checks the events configuration.
func (c *EventsConfig) Validate() error {
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka: at least one broker is required")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis: db must be non-negative")
	}
	return nil
}

// AgentsConfig declares the agents to register.
type AgentsConfig struct {
	DocumentEditor DocumentEditorConfig `yaml:"document_editor,omitempty" json:"document_editor,omitempty"`
	Remote         []RemoteAgentConfig  `yaml:"remote,omitempty" json:"remote,omitempty"`
}

// DocumentEditorConfig configures the built-in document editor agent.
type DocumentEditorConfig struct {
	Enabled             *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"default=true"`
	DefaultDocumentType string `yaml:"default_document_type,omitempty" json:"default_document_type,omitempty" jsonschema:"default=markdown"`

	// ImportRoot confines import_document to files under this directory.
	// import_document is rejected when it is empty.
	ImportRoot string `yaml:"import_root,omitempty" json:"import_root,omitempty"`
}

// IsEnabled reports whether the document editor is registered.
func (c *DocumentEditorConfig) IsEnabled() bool {
	return BoolValue(c.Enabled, true)
}

// RemoteAgentConfig declares an agent served by another A2A endpoint.
type RemoteAgentConfig struct {
	Type        string               `yaml:"type" json:"type"`
	Name        string               `yaml:"name,omitempty" json:"name,omitempty"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	Endpoint    string               `yaml:"endpoint" json:"endpoint"`
	Actions     []RemoteActionConfig `yaml:"actions" json:"actions"`
	Timeout     time.Duration        `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// RemoteActionConfig declares one forwarded action.
type RemoteActionConfig struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// SetDefaults applies default values.
func (c *AgentsConfig) SetDefaults() {
	if c.DocumentEditor.Enabled == nil {
		c.DocumentEditor.Enabled = BoolPtr(true)
	}
	if c.DocumentEditor.DefaultDocumentType == "" {
		c.DocumentEditor.DefaultDocumentType = "markdown"
	}
	for i := range c.Remote {
		if c.Remote[i].Name == "" {
			c.Remote[i].Name = c.Remote[i].Type
		}
		if c.Remote[i].Timeout == 0 {
			c.Remote[i].Timeout = 30 * time.Second
		}
	}
}

// Validate checks agent declarations. Agent types must be unique.
func (c *AgentsConfig) Validate() error {
	seen := make(map[string]bool)
	if c.DocumentEditor.IsEnabled() {
		seen["document_editor"] = true
	}
	for i, r := range c.Remote {
		if r.Type == "" {
			return fmt.Errorf("remote[%d]: type is required", i)
		}
		if seen[r.Type] {
			return fmt.Errorf("remote[%d]: duplicate agent type %q", i, r.Type)
		}
		seen[r.Type] = true
		if r.Endpoint == "" {
			return fmt.Errorf("remote %s: endpoint is required", r.Type)
		}
		if len(r.Actions) == 0 {
			return fmt.Errorf("remote %s: at least one action is required", r.Type)
		}
		for j, a := range r.Actions {
			if a.Name == "" {
				return fmt.Errorf("remote %s: actions[%d]: name is required", r.Type, j)
			}
		}
	}
	return nil
}
