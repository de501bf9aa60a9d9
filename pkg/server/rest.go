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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/auth"
	"github.com/kadirpekel/conductor/pkg/orchestrator"
	"github.com/kadirpekel/conductor/pkg/task"
)

// Task listing bounds.
const (
	defaultPageLimit = 50
	maxPageLimit     = 100
	maxListedTasks   = 1000
)

type executeRequest struct {
	AgentType string         `json:"agent_type"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload"`
}

type executeResponse struct {
	TaskID      string    `json:"task_id"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type taskListResponse struct {
	Tasks      []task.View `json:"tasks"`
	TotalCount int         `json:"total_count"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	agents := s.registry.ListAvailable()
	writeJSON(w, http.StatusOK, map[string]any{
		"agents":       agents,
		"total_agents": len(agents),
	})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	status := s.orch.AgentStatus(chi.URLParam(r, "agentType"))
	code := http.StatusOK
	if !status.Registered {
		code = http.StatusNotFound
	}
	writeJSON(w, code, status)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}
	switch {
	case req.AgentType == "":
		writeError(w, http.StatusUnprocessableEntity, "agent_type is required")
		return
	case req.Action == "":
		writeError(w, http.StatusUnprocessableEntity, "action is required")
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	t, err := s.orch.Submit(r.Context(), orchestrator.SubmitRequest{
		AgentType: req.AgentType,
		Action:    req.Action,
		Payload:   req.Payload,
		UserID:    auth.UserID(r),
	})
	if err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) || errors.Is(err, agent.ErrActionNotFound) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Failed to submit task", "agent", req.AgentType, "action", req.Action, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to submit task")
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		TaskID:      t.ID,
		Status:      task.SimpleStatus(t.State),
		Message:     "Task submitted successfully",
		SubmittedAt: t.CreatedAt,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), defaultPageLimit)
	if err != nil || limit < 1 || limit > maxPageLimit {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("limit must be between 1 and %d", maxPageLimit))
		return
	}
	page, err := intParam(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusUnprocessableEntity, "page must be at least 1")
		return
	}
	status := q.Get("status")
	if status != "" && !task.IsValidStatus(status) {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("unknown status %q", status))
		return
	}

	all := s.orch.GetUserTasks(auth.UserID(r), maxListedTasks, status)

	views := make([]task.View, 0, limit)
	start := (page - 1) * limit
	for i := start; i < len(all) && i < start+limit; i++ {
		views = append(views, task.NewView(all[i]))
	}

	writeJSON(w, http.StatusOK, taskListResponse{
		Tasks:      views,
		TotalCount: len(all),
		Page:       page,
		Limit:      limit,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.orch.GetTaskByID(r.Context(), auth.UserID(r), chi.URLParam(r, "taskID"))
	if !ok {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	writeJSON(w, http.StatusOK, task.NewView(t))
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	user := auth.UserID(r)
	taskID := chi.URLParam(r, "taskID")

	t, ok := s.orch.GetTaskByID(r.Context(), user, taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if t.State.IsTerminal() || !s.orch.Cancel(r.Context(), &user, taskID) {
		// Re-read: the task may have finished between the two calls.
		if latest, ok := s.orch.GetTaskByID(r.Context(), user, taskID); ok {
			t = latest
		}
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Task cannot be cancelled (current status: %s)", task.SimpleStatus(t.State)))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Task cancelled successfully",
		"task_id": taskID,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"system_stats": s.orch.Stats(),
		"user_stats":   s.orch.UserStats(auth.UserID(r)),
	})
}

func (s *Server) handleAgentsHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                   "healthy",
		"orchestrator_initialized": s.orch != nil,
		"registered_agents":        s.registry.Count(),
		"active_connections":       s.inFlight.Load(),
		"running_tasks":            s.orch.RunningCount(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the {"detail": ...} error body used by every REST route.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
