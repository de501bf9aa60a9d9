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

// Package mcpbridge exposes the orchestrator as an MCP server so MCP clients
// can list agents and submit, inspect and cancel tasks.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/orchestrator"
	"github.com/kadirpekel/conductor/pkg/task"
)

// ServerName is the MCP server name advertised to clients.
const ServerName = "conductor"

// DefaultUser owns tasks submitted over MCP when no user is resolved.
const DefaultUser = "mcp_user"

// Orchestrator is the subset of the orchestrator the bridge calls.
type Orchestrator interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*task.Task, error)
	GetTaskByID(ctx context.Context, userID, taskID string) (*task.Task, bool)
	Cancel(ctx context.Context, userID *string, taskID string) bool
}

// Directory lists registered agents.
type Directory interface {
	ListAvailable() []agent.Info
}

// UserResolver extracts the caller from an HTTP request.
type UserResolver func(r *http.Request) (string, bool)

type userKey struct{}

// Bridge holds the MCP server and its tool handlers.
type Bridge struct {
	orch        Orchestrator
	directory   Directory
	defaultUser string
	resolveUser UserResolver
	version     string
	logger      *slog.Logger
	mcp         *server.MCPServer
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithDefaultUser sets the user for requests no resolver identifies.
func WithDefaultUser(user string) Option {
	return func(b *Bridge) {
		if user != "" {
			b.defaultUser = user
		}
	}
}

// WithUserResolver identifies callers from the HTTP request.
func WithUserResolver(r UserResolver) Option {
	return func(b *Bridge) {
		b.resolveUser = r
	}
}

// WithVersion sets the advertised server version.
func WithVersion(v string) Option {
	return func(b *Bridge) {
		if v != "" {
			b.version = v
		}
	}
}

// New creates the bridge and registers its tools.
func New(orch Orchestrator, directory Directory, opts ...Option) *Bridge {
	b := &Bridge{
		orch:        orch,
		directory:   directory,
		defaultUser: DefaultUser,
		version:     "dev",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.mcp = server.NewMCPServer(ServerName, b.version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	b.registerTools()
	return b
}

// MCPServer returns the underlying server.
func (b *Bridge) MCPServer() *server.MCPServer {
	return b.mcp
}

// Handler serves the bridge over streamable HTTP at path.
func (b *Bridge) Handler(path string) http.Handler {
	return server.NewStreamableHTTPServer(b.mcp,
		server.WithEndpointPath(path),
		server.WithStateLess(true),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if b.resolveUser != nil {
				if user, ok := b.resolveUser(r); ok && user != "" {
					return context.WithValue(ctx, userKey{}, user)
				}
			}
			return ctx
		}),
	)
}

func (b *Bridge) registerTools() {
	b.mcp.AddTool(mcp.NewTool("list_agents",
		mcp.WithDescription("List the registered agents and their actions."),
	), b.handleListAgents)

	b.mcp.AddTool(mcp.NewTool("submit_task",
		mcp.WithDescription("Submit an agent action as a task. Blocking calls return the finished task."),
		mcp.WithString("agent_type", mcp.Required(), mcp.Description("Registered agent type.")),
		mcp.WithString("action", mcp.Required(), mcp.Description("Action to invoke on the agent.")),
		mcp.WithObject("payload", mcp.Description("Action input.")),
		mcp.WithBoolean("blocking", mcp.Description("Wait for the task to finish. Defaults to true.")),
	), b.handleSubmitTask)

	b.mcp.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a task by id."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id.")),
	), b.handleGetTask)

	b.mcp.AddTool(mcp.NewTool("cancel_task",
		mcp.WithDescription("Cancel a submitted or running task."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id.")),
	), b.handleCancelTask)
}

func (b *Bridge) user(ctx context.Context) string {
	if user, ok := ctx.Value(userKey{}).(string); ok {
		return user
	}
	return b.defaultUser
}

func (b *Bridge) handleListAgents(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agents := b.directory.ListAvailable()
	return jsonResult(map[string]any{
		"agents":       agents,
		"total_agents": len(agents),
	})
}

func (b *Bridge) handleSubmitTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentType, err := request.RequireString("agent_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	action, err := request.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var payload map[string]any
	if raw, ok := request.GetArguments()["payload"]; ok && raw != nil {
		p, ok := raw.(map[string]any)
		if !ok {
			return mcp.NewToolResultError("payload must be an object"), nil
		}
		payload = p
	}

	t, err := b.orch.Submit(ctx, orchestrator.SubmitRequest{
		AgentType: agentType,
		Action:    action,
		Payload:   payload,
		UserID:    b.user(ctx),
		Blocking:  request.GetBool("blocking", true),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	b.logger.Debug("Task submitted over MCP", "task", t.ID, "agent", agentType, "action", action)
	return jsonResult(task.NewView(t))
}

func (b *Bridge) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	t, ok := b.orch.GetTaskByID(ctx, b.user(ctx), taskID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("task %s not found", taskID)), nil
	}
	return jsonResult(task.NewView(t))
}

func (b *Bridge) handleCancelTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	user := b.user(ctx)
	if !b.orch.Cancel(ctx, &user, taskID) {
		return mcp.NewToolResultError(fmt.Sprintf("task %s cannot be cancelled", taskID)), nil
	}
	return jsonResult(map[string]any{
		"message": "Task cancelled successfully",
		"task_id": taskID,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
