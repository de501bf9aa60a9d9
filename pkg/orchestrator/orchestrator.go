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

// Package orchestrator creates tasks, runs agent actions blocking or in the
// background, and tracks every task through its lifecycle.
//
// Submission resolves the agent first; an unknown agent is returned to the
// caller and no task is created. Everything that goes wrong after the task
// exists (unknown action, handler error, panic, timeout) is absorbed into
// the task as a failed state.
//
// Cancellation is best effort: the task flips to canceled immediately and
// the background context is canceled, but a handler that ignores its context
// keeps running. Its result is discarded because terminal tasks reject
// further writes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/events"
	"github.com/kadirpekel/conductor/pkg/task"
)

// DefaultMaxConcurrent bounds background executions when not configured.
const DefaultMaxConcurrent = 5

// Archive persists terminal task snapshots.
type Archive interface {
	Save(ctx context.Context, t *task.Task) error
	Load(ctx context.Context, taskID string) (*task.Task, error)
}

// Metrics receives orchestrator measurements.
type Metrics interface {
	TaskSubmitted(ctx context.Context, agentType, action string)
	TaskFinished(ctx context.Context, agentType, action string, state task.State, duration time.Duration)
}

// SubmitRequest describes a unit of agent work.
type SubmitRequest struct {
	AgentType string
	Action    string
	Payload   map[string]any
	UserID    string

	// ContextID is allocated when empty.
	ContextID string

	// OriginMessage, if set, becomes the first history entry.
	OriginMessage *a2a.Message

	// Blocking runs the action inline; Submit returns a terminal task.
	Blocking bool
}

// Stats aggregates task counts across all users.
type Stats struct {
	TotalTasks       int `json:"total_tasks"`
	PendingTasks     int `json:"pending_tasks"`
	RunningTasks     int `json:"running_tasks"`
	CompletedTasks   int `json:"completed_tasks"`
	FailedTasks      int `json:"failed_tasks"`
	CanceledTasks    int `json:"canceled_tasks"`
	RegisteredAgents int `json:"registered_agents"`
}

// UserStats aggregates task counts for one user.
type UserStats struct {
	UserTotalTasks     int `json:"user_total_tasks"`
	UserRunningTasks   int `json:"user_running_tasks"`
	UserCompletedTasks int `json:"user_completed_tasks"`
	UserFailedTasks    int `json:"user_failed_tasks"`
}

// LocalEndpoint is reported for agents that run in process.
const LocalEndpoint = "local"

// AgentStatus describes the registration of one agent type.
type AgentStatus struct {
	Registered   bool           `json:"registered"`
	AgentType    string         `json:"agent_type"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
	Endpoint     string         `json:"a2a_endpoint,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Orchestrator owns the task store and runs tasks.
type Orchestrator struct {
	agents      *agent.Registry
	logger      *slog.Logger
	archive     Archive
	publisher   events.Publisher
	metrics     Metrics
	tracer      trace.Tracer
	sem         *semaphore.Weighted
	taskTimeout time.Duration
	now         func() time.Time

	mu        sync.RWMutex
	tasks     map[string]*task.Task
	userTasks map[string][]string
	running   map[string]context.CancelFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxConcurrent bounds the number of background executions running at
// once. Queued tasks stay submitted until a slot frees up.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithTaskTimeout bounds each action invocation. Zero disables the bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.taskTimeout = d
	}
}

// WithArchive persists terminal snapshots and serves lookups for tasks no
// longer held in memory.
func WithArchive(a Archive) Option {
	return func(o *Orchestrator) {
		o.archive = a
	}
}

// WithPublisher emits lifecycle events.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithMetrics records task measurements.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer used for execution spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an orchestrator routing through agents.
func New(agents *agent.Registry, opts ...Option) *Orchestrator {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		agents:     agents,
		logger:     slog.Default(),
		publisher:  events.Nop{},
		tracer:     otel.Tracer("github.com/kadirpekel/conductor/pkg/orchestrator"),
		sem:        semaphore.NewWeighted(DefaultMaxConcurrent),
		now:        time.Now,
		tasks:      make(map[string]*task.Task),
		userTasks:  make(map[string][]string),
		running:    make(map[string]context.CancelFunc),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Agents returns the agent registry.
func (o *Orchestrator) Agents() *agent.Registry {
	return o.agents
}

// Submit creates a task and runs it. Unknown agents fail here, before any
// task exists. The returned task is a snapshot: terminal when blocking,
// typically still submitted otherwise.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*task.Task, error) {
	a, err := o.agents.Resolve(req.AgentType)
	if err != nil {
		return nil, err
	}

	contextID := req.ContextID
	if contextID == "" {
		contextID = uuid.New().String()
	}

	t := task.New(task.Params{
		UserID:        req.UserID,
		AgentType:     req.AgentType,
		Action:        req.Action,
		Payload:       maps.Clone(req.Payload),
		ContextID:     contextID,
		OriginMessage: req.OriginMessage,
	})

	o.mu.Lock()
	o.tasks[t.ID] = t
	o.userTasks[t.UserID] = append(o.userTasks[t.UserID], t.ID)
	o.mu.Unlock()

	o.logger.Info("Task submitted",
		"task", t.ID, "agent", t.AgentType, "action", t.Action, "user", t.UserID, "blocking", req.Blocking)
	if o.metrics != nil {
		o.metrics.TaskSubmitted(ctx, t.AgentType, t.Action)
	}
	o.publish(ctx, events.TypeSubmitted, t)

	if req.Blocking {
		o.execute(context.WithoutCancel(ctx), t, a)
		return t.Clone(), nil
	}

	runCtx, cancel := context.WithCancel(o.baseCtx)
	o.mu.Lock()
	o.running[t.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(t.ID)

		if err := o.sem.Acquire(runCtx, 1); err != nil {
			// Canceled tasks are already terminal; anything else is shutdown.
			if t.Fail(o.now(), "orchestrator shutting down") {
				o.finish(context.Background(), t, 0)
			}
			return
		}
		defer o.sem.Release(1)

		o.execute(runCtx, t, a)
	}()

	return t.Clone(), nil
}

// release removes the running handle of a background task.
func (o *Orchestrator) release(taskID string) {
	o.mu.Lock()
	cancel, ok := o.running[taskID]
	delete(o.running, taskID)
	o.mu.Unlock()

	if ok {
		cancel()
	}
}

// execute runs one task to a terminal state.
func (o *Orchestrator) execute(ctx context.Context, t *task.Task, a *agent.Agent) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.execute",
		trace.WithAttributes(
			attribute.String("task.id", t.ID),
			attribute.String("agent.type", t.AgentType),
			attribute.String("agent.action", t.Action),
		))
	defer span.End()

	startedAt := o.now()
	if !t.Start(startedAt) {
		o.logger.Debug("Task already terminal, skipping execution", "task", t.ID)
		return
	}
	o.publish(ctx, events.TypeStarted, t)

	result, err := o.invoke(ctx, t, a)

	var applied bool
	if err != nil {
		applied = t.Fail(o.now(), err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		applied = t.Complete(o.now(), result)
	}

	if !applied {
		o.logger.Info("Discarding result of task that was canceled while running", "task", t.ID)
		return
	}

	state := t.GetState()
	span.SetAttributes(attribute.String("task.state", string(state)))
	if err != nil {
		o.logger.Warn("Task failed", "task", t.ID, "agent", t.AgentType, "action", t.Action, "error", err)
	} else {
		o.logger.Info("Task completed", "task", t.ID, "agent", t.AgentType, "action", t.Action)
	}
	o.finish(ctx, t, o.now().Sub(startedAt))
}

// invoke resolves and calls the action handler, normalizing its result.
func (o *Orchestrator) invoke(ctx context.Context, t *task.Task, a *agent.Agent) (result map[string]any, err error) {
	handler, ok := a.Handler(t.Action)
	if !ok {
		return nil, agent.UnsupportedActionError(t.AgentType, t.Action)
	}

	if o.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.taskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Action panicked", "task", t.ID, "panic", r, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("action %s panicked: %v", t.Action, r)
		}
	}()

	out, err := handler(agent.WithInvocation(ctx, t.UserID, t.ID), maps.Clone(t.Payload))
	if err != nil {
		return nil, err
	}
	return WrapResult(out), nil
}

// WrapResult normalizes a handler return value into a result map.
func WrapResult(v any) map[string]any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return make(map[string]any)
		}
		return val
	case string:
		return map[string]any{"response": val}
	default:
		return map[string]any{"result": val}
	}
}

// Cancel cancels a submitted or working task. It returns false if the task
// does not exist, is not owned by userID (when userID is non-nil), or is not
// in a cancelable state.
func (o *Orchestrator) Cancel(ctx context.Context, userID *string, taskID string) bool {
	o.mu.RLock()
	t, ok := o.tasks[taskID]
	o.mu.RUnlock()

	if !ok {
		return false
	}
	if userID != nil && !t.OwnedBy(*userID) {
		return false
	}

	// Flip the state first so a handler that returns on cancellation cannot
	// record a failure ahead of the cancel.
	if !t.Cancel(o.now()) {
		return false
	}
	o.release(taskID)

	o.logger.Info("Task canceled", "task", taskID, "user", t.UserID)
	var elapsed time.Duration
	if snap := t.Clone(); snap.StartedAt != nil {
		elapsed = o.now().Sub(*snap.StartedAt)
	}
	o.finish(ctx, t, elapsed)
	return true
}

// finish records a terminal transition.
func (o *Orchestrator) finish(ctx context.Context, t *task.Task, elapsed time.Duration) {
	state := t.GetState()
	if o.metrics != nil {
		o.metrics.TaskFinished(ctx, t.AgentType, t.Action, state, elapsed)
	}
	if o.archive != nil {
		if err := o.archive.Save(ctx, t.Clone()); err != nil {
			o.logger.Error("Failed to archive task", "task", t.ID, "error", err)
		}
	}
	o.publish(ctx, events.TerminalType(state), t)
}

func (o *Orchestrator) publish(ctx context.Context, typ events.Type, t *task.Task) {
	if err := o.publisher.Publish(ctx, events.FromTask(typ, t)); err != nil {
		o.logger.Warn("Failed to publish task event", "task", t.ID, "event", typ, "error", err)
	}
}

// GetUserTasks returns the user's tasks, newest first, optionally filtered
// by simplified status and capped at limit. A non-positive limit means no cap.
func (o *Orchestrator) GetUserTasks(userID string, limit int, status string) []*task.Task {
	o.mu.RLock()
	ids := o.userTasks[userID]
	owned := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := o.tasks[id]; ok {
			owned = append(owned, t)
		}
	}
	o.mu.RUnlock()

	out := make([]*task.Task, 0, len(owned))
	for i := len(owned) - 1; i >= 0; i-- {
		snap := owned[i].Clone()
		if status != "" && task.SimpleStatus(snap.State) != status {
			continue
		}
		out = append(out, snap)
	}

	slices.SortStableFunc(out, func(a, b *task.Task) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetTaskByID returns the task only if userID owns it.
func (o *Orchestrator) GetTaskByID(ctx context.Context, userID, taskID string) (*task.Task, bool) {
	t, ok := o.GetTask(ctx, taskID)
	if !ok || !t.OwnedBy(userID) {
		return nil, false
	}
	return t, true
}

// GetTask returns a task without an ownership check. Tasks not held in
// memory are looked up in the archive, if one is configured.
func (o *Orchestrator) GetTask(ctx context.Context, taskID string) (*task.Task, bool) {
	o.mu.RLock()
	t, ok := o.tasks[taskID]
	o.mu.RUnlock()

	if ok {
		return t.Clone(), true
	}
	if o.archive == nil {
		return nil, false
	}

	archived, err := o.archive.Load(ctx, taskID)
	if err != nil {
		if !errors.Is(err, task.ErrTaskNotFound) {
			o.logger.Error("Failed to load archived task", "task", taskID, "error", err)
		}
		return nil, false
	}
	return archived, true
}

// Stats returns counts across all tasks.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	stats := Stats{
		TotalTasks:       len(o.tasks),
		RegisteredAgents: o.agents.Count(),
	}
	for _, t := range o.tasks {
		switch t.GetState() {
		case task.StateSubmitted:
			stats.PendingTasks++
		case task.StateWorking:
			stats.RunningTasks++
		case task.StateCompleted:
			stats.CompletedTasks++
		case task.StateFailed:
			stats.FailedTasks++
		case task.StateCanceled:
			stats.CanceledTasks++
		}
	}
	return stats
}

// UserStats returns counts over the user's most recent tasks.
func (o *Orchestrator) UserStats(userID string) UserStats {
	tasks := o.GetUserTasks(userID, 1000, "")
	stats := UserStats{UserTotalTasks: len(tasks)}
	for _, t := range tasks {
		switch t.State {
		case task.StateWorking:
			stats.UserRunningTasks++
		case task.StateCompleted:
			stats.UserCompletedTasks++
		case task.StateFailed:
			stats.UserFailedTasks++
		}
	}
	return stats
}

// AgentStatus reports whether agentType is registered, with its
// capabilities and endpoint. In-process agents report LocalEndpoint.
func (o *Orchestrator) AgentStatus(agentType string) AgentStatus {
	reg, ok := o.agents.Lookup(agentType)
	if !ok {
		return AgentStatus{
			AgentType: agentType,
			Error:     fmt.Sprintf("Agent type '%s' not registered", agentType),
		}
	}

	endpoint := reg.Endpoint
	if endpoint == "" {
		endpoint = LocalEndpoint
	}
	capabilities := maps.Clone(reg.Capabilities)
	if capabilities == nil {
		capabilities = make(map[string]any)
	}
	return AgentStatus{
		Registered:   true,
		AgentType:    agentType,
		Capabilities: capabilities,
		Endpoint:     endpoint,
	}
}

// RunningCount returns the number of background executions in flight.
func (o *Orchestrator) RunningCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.running)
}

// Shutdown cancels every background execution and waits for them to
// return, or for ctx to be done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running tasks: %w", ctx.Err())
	}
}
