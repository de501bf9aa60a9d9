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
	"errors"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Manager owns the tracer provider and the metrics of the process.
type Manager struct {
	cfg Config

	mu            sync.RWMutex
	tracers       trace.TracerProvider
	metrics       *Metrics
	shutdownTrace func(context.Context) error
}

// NewManager creates an uninitialized manager. Until Initialize succeeds
// it hands out no-op tracers and nil metrics.
func NewManager(cfg Config) *Manager {
	cfg.SetDefaults()
	return &Manager{
		cfg:     cfg,
		tracers: noop.NewTracerProvider(),
	}
}

// Initialize sets up tracing and metrics as configured.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, shutdown, err := InitTracer(ctx, m.cfg.Tracing)
	if err != nil {
		return err
	}
	m.tracers = tp
	m.shutdownTrace = shutdown

	if m.cfg.Metrics.Enabled {
		metrics, err := NewMetrics()
		if err != nil {
			return err
		}
		m.metrics = metrics
	}
	return nil
}

// Tracer returns a tracer from the current provider.
func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracers.Tracer(name)
}

// Metrics returns the metrics, nil when disabled.
func (m *Manager) Metrics() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// MetricsPath is the configured metrics endpoint.
func (m *Manager) MetricsPath() string {
	return m.cfg.Metrics.Endpoint
}

// Shutdown flushes spans and stops the providers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.shutdownTrace != nil {
		errs = append(errs, m.shutdownTrace(ctx))
	}
	errs = append(errs, m.metrics.Shutdown(ctx))
	return errors.Join(errs...)
}
