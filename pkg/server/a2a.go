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

package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/auth"
)

// maxRPCBody bounds JSON-RPC request bodies.
const maxRPCBody = 10 << 20

const protocolVersion = "0.3.0"

// handleJSONRPC answers every request with 200 and a JSON-RPC envelope,
// including malformed ones.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRPCBody))
	if err != nil {
		s.logger.Warn("Failed to read JSON-RPC body", "error", err)
		body = nil
	}

	resp := s.dispatcher.Handle(r.Context(), chi.URLParam(r, "agentType"), auth.UserID(r), body)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	agentType := chi.URLParam(r, "agentType")
	info, ok := s.registry.Describe(agentType)
	if !ok {
		writeError(w, http.StatusNotFound, "Agent not found")
		return
	}
	writeJSON(w, http.StatusOK, s.agentCard(info))
}

func (s *Server) handleServiceCard(w http.ResponseWriter, r *http.Request) {
	agents := s.registry.ListAvailable()
	skills := make([]a2a.AgentSkill, 0, len(agents))
	for _, info := range agents {
		tags := make([]string, 0, len(info.Actions))
		for _, a := range info.Actions {
			tags = append(tags, a.Name)
		}
		skills = append(skills, a2a.AgentSkill{
			ID:          info.Type,
			Name:        info.Name,
			Description: info.Description,
			Tags:        tags,
		})
	}

	card := s.baseCard()
	card.Name = "Conductor"
	card.Description = "Task orchestrator for agent actions"
	card.URL = s.baseURL()
	card.Skills = skills
	writeJSON(w, http.StatusOK, card)
}

// agentCard describes one agent. Skills mirror its actions and the URL is
// the JSON-RPC endpoint of the agent on this server.
func (s *Server) agentCard(info agent.Info) *a2a.AgentCard {
	skills := make([]a2a.AgentSkill, 0, len(info.Actions))
	for _, a := range info.Actions {
		skills = append(skills, a2a.AgentSkill{
			ID:          a.Name,
			Name:        a.Name,
			Description: a.Description,
			Tags:        []string{info.Type},
		})
	}

	card := s.baseCard()
	card.Name = info.Name
	card.Description = info.Description
	card.URL = s.baseURL() + "/a2a/agents/" + info.Type
	card.Skills = skills
	return card
}

func (s *Server) baseCard() *a2a.AgentCard {
	card := &a2a.AgentCard{
		Version:            s.version,
		ProtocolVersion:    protocolVersion,
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		DefaultInputModes:  []string{"text/plain", "application/json"},
		DefaultOutputModes: []string{"text/plain", "application/json"},
		Capabilities: a2a.AgentCapabilities{
			Streaming:              false,
			PushNotifications:      false,
			StateTransitionHistory: true,
		},
	}
	if s.validator != nil {
		card.SecuritySchemes = a2a.NamedSecuritySchemes{
			"BearerAuth": a2a.HTTPAuthSecurityScheme{
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "JWT Bearer token authentication",
			},
		}
		card.Security = []a2a.SecurityRequirements{
			{"BearerAuth": a2a.SecuritySchemeScopes{}},
		}
	}
	return card
}

func (s *Server) baseURL() string {
	return strings.TrimSuffix(s.cfg.Server.ResolvedBaseURL(), "/")
}
