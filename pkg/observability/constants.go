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

// Package observability wires OpenTelemetry metrics, exported in Prometheus
// format, and tracing for the orchestrator, the JSON-RPC dispatcher and the
// HTTP server.
package observability

// Span names.
const (
	SpanHTTPRequest = "http.request"
)

// Span attributes.
const (
	AttrHTTPMethod       = "http.method"
	AttrHTTPRoute        = "http.route"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"
	AttrErrorType        = "error.type"
)

// Tracing exporters.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// Defaults.
const (
	DefaultServiceName  = "conductor"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"

	// InstrumentationName names the tracer and meter of this service.
	InstrumentationName = "github.com/kadirpekel/conductor"
)
