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

package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kadirpekel/conductor/pkg/task"
)

// Metrics records orchestrator, JSON-RPC and HTTP measurements. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	tasksSubmitted metric.Int64Counter
	tasksFinished  metric.Int64Counter
	taskDuration   metric.Float64Histogram
	rpcRequests    metric.Int64Counter
	httpRequests   metric.Int64Counter
	httpDuration   metric.Float64Histogram
}

// NewMetrics creates the meter provider, backed by a private Prometheus
// registry served by Handler.
func NewMetrics() (*Metrics, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
		prometheus.WithoutScopeInfo(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(InstrumentationName)

	m := &Metrics{provider: provider, registry: registry}

	if m.tasksSubmitted, err = meter.Int64Counter("conductor_tasks_submitted_total",
		metric.WithDescription("Tasks submitted")); err != nil {
		return nil, fmt.Errorf("failed to create tasks submitted counter: %w", err)
	}
	if m.tasksFinished, err = meter.Int64Counter("conductor_tasks_finished_total",
		metric.WithDescription("Tasks that reached a terminal state")); err != nil {
		return nil, fmt.Errorf("failed to create tasks finished counter: %w", err)
	}
	if m.taskDuration, err = meter.Float64Histogram("conductor_task_duration_seconds",
		metric.WithDescription("Task run time in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create task duration histogram: %w", err)
	}
	if m.rpcRequests, err = meter.Int64Counter("conductor_rpc_requests_total",
		metric.WithDescription("JSON-RPC requests by method and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create rpc requests counter: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter("conductor_http_requests_total",
		metric.WithDescription("HTTP requests")); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram("conductor_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}
	return m, nil
}

// TaskSubmitted counts a new task.
func (m *Metrics) TaskSubmitted(ctx context.Context, agentType, action string) {
	if m == nil {
		return
	}
	m.tasksSubmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", agentType),
		attribute.String("action", action),
	))
}

// TaskFinished counts a terminal task and records its run time.
func (m *Metrics) TaskFinished(ctx context.Context, agentType, action string, state task.State, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent", agentType),
		attribute.String("action", action),
		attribute.String("state", string(state)),
	)
	m.tasksFinished.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, duration.Seconds(), attrs)
}

// RPCRequest counts a JSON-RPC request.
func (m *Metrics) RPCRequest(ctx context.Context, method, outcome string) {
	if m == nil {
		return
	}
	m.rpcRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}

// RecordHTTPRequest counts an HTTP request. route is the matched pattern,
// not the raw path.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
