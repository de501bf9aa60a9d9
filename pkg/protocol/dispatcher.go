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

package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/orchestrator"
	"github.com/kadirpekel/conductor/pkg/task"
)

// Backend is the orchestrator surface the dispatcher drives.
type Backend interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*task.Task, error)
	GetTaskByID(ctx context.Context, userID, taskID string) (*task.Task, bool)
	Cancel(ctx context.Context, userID *string, taskID string) bool
}

// Directory describes registered agents.
type Directory interface {
	Describe(agentType string) (agent.Info, bool)
}

// Metrics records dispatched calls.
type Metrics interface {
	RPCRequest(ctx context.Context, method, outcome string)
}

// SendConfiguration controls message/send execution.
type SendConfiguration struct {
	// Blocking defaults to true when absent.
	Blocking      *bool `json:"blocking,omitempty"`
	HistoryLength *int  `json:"historyLength,omitempty"`
}

// SendParams are the message/send parameters.
type SendParams struct {
	Message       *a2a.Message       `json:"message"`
	Configuration *SendConfiguration `json:"configuration,omitempty"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
}

// QueryParams are the tasks/get parameters.
type QueryParams struct {
	ID            string         `json:"id"`
	HistoryLength *int           `json:"historyLength,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// IDParams are the tasks/cancel parameters.
type IDParams struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Dispatcher routes JSON-RPC requests addressed to one agent type.
type Dispatcher struct {
	backend   Backend
	directory Directory
	logger    *slog.Logger
	metrics   Metrics
	tracer    trace.Tracer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records every dispatched call.
func WithMetrics(m Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTracer sets the tracer used for rpc spans.
func WithTracer(t trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// NewDispatcher creates a dispatcher. directory may be nil, in which case
// agent/getCapabilities is not available.
func NewDispatcher(backend Backend, directory Directory, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		backend:   backend,
		directory: directory,
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/kadirpekel/conductor/pkg/protocol"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle decodes and executes one JSON-RPC request. It always returns a
// response envelope; transport-level failure is never used to signal an
// RPC error.
func (d *Dispatcher) Handle(ctx context.Context, agentType, userID string, body []byte) *Response {
	if !json.Valid(body) {
		d.record(ctx, "", "parse_error")
		return Failure(nil, NewError(CodeParseError, "Parse error", nil))
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		d.record(ctx, "", "invalid_request")
		return Failure(nil, NewError(CodeInvalidRequest, "Invalid Request", err.Error()))
	}
	if req.JSONRPC != Version {
		d.record(ctx, req.Method, "invalid_request")
		return Failure(req.ID, NewError(CodeInvalidRequest, "Invalid Request", "jsonrpc must be \"2.0\""))
	}
	if req.Method == "" {
		d.record(ctx, req.Method, "invalid_request")
		return Failure(req.ID, NewError(CodeInvalidRequest, "Invalid Request", "method is required"))
	}

	ctx, span := d.tracer.Start(ctx, "rpc."+req.Method, trace.WithAttributes(
		attribute.String("rpc.method", req.Method),
		attribute.String("agent.type", agentType),
	))
	defer span.End()

	d.logger.Debug("JSON-RPC request", "method", req.Method, "agent", agentType, "id", string(req.ID))

	result, rpcErr := d.dispatch(ctx, agentType, userID, req)
	if rpcErr != nil {
		span.SetStatus(codes.Error, rpcErr.Message)
		d.record(ctx, req.Method, "error")
		return Failure(req.ID, rpcErr)
	}

	d.record(ctx, req.Method, "ok")
	return Success(req.ID, result)
}

func (d *Dispatcher) dispatch(ctx context.Context, agentType, userID string, req Request) (any, *Error) {
	switch req.Method {
	case MethodMessageSend:
		return d.messageSend(ctx, agentType, userID, req.Params)
	case MethodTasksGet:
		return d.tasksGet(ctx, userID, req.Params)
	case MethodTasksCancel:
		return d.tasksCancel(ctx, userID, req.Params)
	case MethodGetCapabilities:
		return d.getCapabilities(agentType)
	case MethodMessageStream, MethodTasksResubscribe:
		return nil, NewError(CodeNotImplemented, "Not implemented", req.Method)
	default:
		return nil, NewError(CodeMethodNotFound, "Method not found", req.Method)
	}
}

func (d *Dispatcher) messageSend(ctx context.Context, agentType, userID string, raw json.RawMessage) (any, *Error) {
	var params SendParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	var problems []FieldError
	if params.Message == nil {
		problems = append(problems, FieldError{Field: "message", Message: "field required"})
	} else if len(params.Message.Parts) == 0 {
		problems = append(problems, FieldError{Field: "message.parts", Message: "at least one part is required"})
	}
	if params.Configuration != nil && params.Configuration.HistoryLength != nil && *params.Configuration.HistoryLength < 0 {
		problems = append(problems, FieldError{Field: "configuration.historyLength", Message: "must be non-negative"})
	}
	if len(problems) > 0 {
		return nil, invalidParams(problems...)
	}

	blocking := true
	var historyLength *int
	if cfg := params.Configuration; cfg != nil {
		if cfg.Blocking != nil {
			blocking = *cfg.Blocking
		}
		historyLength = cfg.HistoryLength
	}

	action, payload := ExtractActionAndPayload(agentType, params.Message)

	t, err := d.backend.Submit(ctx, orchestrator.SubmitRequest{
		AgentType:     agentType,
		Action:        action,
		Payload:       payload,
		UserID:        userID,
		ContextID:     params.Message.ContextID,
		OriginMessage: params.Message,
		Blocking:      blocking,
	})
	if err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			return nil, NewError(CodeTaskNotFound, "Agent not found", err.Error())
		}
		d.logger.Error("message/send failed", "agent", agentType, "error", err)
		return nil, NewError(CodeServerError, "Server error", err.Error())
	}

	return TaskToWire(t, historyLength), nil
}

// tasksGet and tasksCancel only see the caller's own tasks. Another user's
// task is reported as not found.
func (d *Dispatcher) tasksGet(ctx context.Context, userID string, raw json.RawMessage) (any, *Error) {
	var params QueryParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	var problems []FieldError
	if strings.TrimSpace(params.ID) == "" {
		problems = append(problems, FieldError{Field: "id", Message: "field required"})
	}
	if params.HistoryLength != nil && *params.HistoryLength < 0 {
		problems = append(problems, FieldError{Field: "historyLength", Message: "must be non-negative"})
	}
	if len(problems) > 0 {
		return nil, invalidParams(problems...)
	}

	t, ok := d.backend.GetTaskByID(ctx, userID, params.ID)
	if !ok {
		return nil, taskNotFound(params.ID)
	}
	return TaskToWire(t, params.HistoryLength), nil
}

func (d *Dispatcher) tasksCancel(ctx context.Context, userID string, raw json.RawMessage) (any, *Error) {
	var params IDParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.ID) == "" {
		return nil, invalidParams(FieldError{Field: "id", Message: "field required"})
	}

	if !d.backend.Cancel(ctx, &userID, params.ID) {
		return nil, taskNotFound(params.ID)
	}

	t, ok := d.backend.GetTaskByID(ctx, userID, params.ID)
	if !ok {
		return nil, taskNotFound(params.ID)
	}
	return TaskToWire(t, nil), nil
}

func (d *Dispatcher) getCapabilities(agentType string) (any, *Error) {
	if d.directory == nil {
		return nil, NewError(CodeNotImplemented, "Not implemented", MethodGetCapabilities)
	}
	info, ok := d.directory.Describe(agentType)
	if !ok {
		return nil, NewError(CodeTaskNotFound, "Agent not found", agentType)
	}
	return info, nil
}

func (d *Dispatcher) record(ctx context.Context, method, outcome string) {
	if d.metrics != nil {
		d.metrics.RPCRequest(ctx, method, outcome)
	}
}

func taskNotFound(id string) *Error {
	return NewError(CodeTaskNotFound, "Task not found", map[string]any{"id": id})
}

// decodeParams decodes params into v, mapping decode failures to an invalid
// params error.
func decodeParams(raw json.RawMessage, v any) *Error {
	if len(raw) == 0 || string(raw) == "null" {
		return invalidParams(FieldError{Field: "params", Message: "field required"})
	}
	if err := json.Unmarshal(raw, v); err != nil {
		field := "params"
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			field = typeErr.Field
		}
		return invalidParams(FieldError{Field: field, Message: err.Error()})
	}
	return nil
}
