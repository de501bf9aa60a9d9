package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kadirpekel/conductor/pkg/task"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_RecordAndScrape(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	defer func() { _ = m.Shutdown(context.Background()) }()

	ctx := context.Background()
	m.TaskSubmitted(ctx, "document_editor", "chat")
	m.TaskFinished(ctx, "document_editor", "chat", task.StateCompleted, 150*time.Millisecond)
	m.RPCRequest(ctx, "message/send", "ok")

	body := scrape(t, m)
	assert.Contains(t, body, "conductor_tasks_submitted_total")
	assert.Contains(t, body, "conductor_tasks_finished_total")
	assert.Contains(t, body, `state="completed"`)
	assert.Contains(t, body, "conductor_task_duration_seconds")
	assert.Contains(t, body, `method="message/send"`)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.TaskSubmitted(ctx, "a", "b")
	m.TaskFinished(ctx, "a", "b", task.StateFailed, time.Second)
	m.RPCRequest(ctx, "tasks/get", "error")
	m.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
	assert.NoError(t, m.Shutdown(ctx))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPMiddleware_UsesRoutePattern(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware(noop.NewTracerProvider().Tracer("test"), m))
	r.Get("/api/agents/tasks/{taskID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents/tasks/abc", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	body := scrape(t, m)
	assert.Contains(t, body, `route="/api/agents/tasks/{taskID}"`)
	assert.Contains(t, body, `status="418"`)
	assert.NotContains(t, body, "/api/agents/tasks/abc")
}

func TestConfig_DefaultsAndValidate(t *testing.T) {
	cfg := Config{Tracing: TracingConfig{Enabled: true}, Metrics: MetricsConfig{Enabled: true}}
	cfg.SetDefaults()

	assert.Equal(t, DefaultServiceName, cfg.Tracing.ServiceName)
	assert.Equal(t, ExporterOTLP, cfg.Tracing.Exporter)
	assert.Equal(t, DefaultOTLPEndpoint, cfg.Tracing.Endpoint)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Endpoint)
	assert.True(t, cfg.Tracing.IsInsecure())
	require.NoError(t, cfg.Validate())

	cfg.Tracing.Exporter = "zipkin"
	assert.Error(t, cfg.Validate())

	cfg.Tracing.Exporter = ExporterStdout
	cfg.Tracing.SamplingRate = 2
	assert.Error(t, cfg.Validate())
}

func TestManager(t *testing.T) {
	m := NewManager(Config{Metrics: MetricsConfig{Enabled: true}})
	require.NoError(t, m.Initialize(context.Background()))

	assert.NotNil(t, m.Metrics())
	assert.Equal(t, DefaultMetricsPath, m.MetricsPath())

	_, span := m.Tracer("test").Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())

	assert.NoError(t, m.Shutdown(context.Background()))
}
