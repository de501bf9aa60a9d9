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

// Package agent defines agents and the registry the orchestrator routes through.
//
// # Agents
//
// An Agent is a named set of actions. Each action is an explicit handler:
//
//	type Handler func(ctx context.Context, payload map[string]any) (any, error)
//
// Handlers are looked up by name at execution time; there is no reflection.
// A handler returns a structured map, a string, or any other value, and the
// orchestrator normalizes whatever it gets into a result map.
//
// # Registry
//
// The Registry maps an agent type to its Agent, an optional capability map
// and an optional external endpoint:
//
//	reg := agent.NewRegistry(logger)
//	reg.Register("document_editor", docs, nil, "")
//	a, err := reg.Resolve("document_editor")
//
// Registering an existing type replaces the previous entry.
package agent
