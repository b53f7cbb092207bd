package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/workflows take
// - Traffic: Request/job throughput
// - Errors: Rate of failures
// - Saturation: Concurrent workflows in flight
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Workflow metrics (Latency, Traffic, Errors, Saturation)
	JobDuration    metric.Float64Histogram
	JobsTotal      metric.Int64Counter
	JobErrorsTotal metric.Int64Counter
	JobsActive     metric.Int64UpDownCounter

	// External tool metrics
	ExecInvocations metric.Int64Counter
	ExecTimeouts    metric.Int64Counter
	ExecDuration    metric.Float64Histogram

	// Inventory metrics
	InventoryMutations metric.Int64Counter

	// Webhook notifier metrics
	NotifierDelivered metric.Int64Counter
	NotifierFailed    metric.Int64Counter
	NotifierDropped   metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("nodescaler")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Workflow metrics. Buckets skew long: provisioning runs are playbooks.
	m.JobDuration, err = meter.Float64Histogram(
		"scaler_job_duration_seconds",
		metric.WithDescription("Node lifecycle workflow duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 60, 120, 300, 600, 900, 1800, 3600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsTotal, err = meter.Int64Counter(
		"scaler_jobs_total",
		metric.WithDescription("Total number of node lifecycle jobs accepted"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobErrorsTotal, err = meter.Int64Counter(
		"scaler_job_errors_total",
		metric.WithDescription("Total number of failed node lifecycle jobs"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsActive, err = meter.Int64UpDownCounter(
		"scaler_jobs_active",
		metric.WithDescription("Number of currently running node lifecycle jobs (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// External tool metrics
	m.ExecInvocations, err = meter.Int64Counter(
		"scaler_exec_invocations_total",
		metric.WithDescription("Total external tool invocations"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ExecTimeouts, err = meter.Int64Counter(
		"scaler_exec_timeouts_total",
		metric.WithDescription("Total external tool invocations killed by timeout"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ExecDuration, err = meter.Float64Histogram(
		"scaler_exec_duration_seconds",
		metric.WithDescription("External tool invocation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	// Inventory metrics
	m.InventoryMutations, err = meter.Int64Counter(
		"scaler_inventory_mutations_total",
		metric.WithDescription("Total inventory mutations (each preceded by a backup)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Notifier metrics
	m.NotifierDelivered, err = meter.Int64Counter(
		"scaler_notifier_delivered_total",
		metric.WithDescription("Total webhook events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierFailed, err = meter.Int64Counter(
		"scaler_notifier_failed_total",
		metric.WithDescription("Total webhook events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierDropped, err = meter.Int64Counter(
		"scaler_notifier_dropped_total",
		metric.WithDescription("Total webhook events dropped (buffer full or circuit open)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobCreated records an accepted node lifecycle job.
func (m *Metrics) RecordJobCreated(ctx context.Context, kind string) {
	attrs := metric.WithAttributes(kindAttr(kind))
	m.JobsTotal.Add(ctx, 1, attrs)
	m.JobsActive.Add(ctx, 1, attrs)
}

// RecordJobCompleted records a workflow reaching a terminal state.
func (m *Metrics) RecordJobCompleted(ctx context.Context, kind string, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(kindAttr(kind), successAttr(success))
	m.JobDuration.Record(ctx, durationSeconds, attrs)
	m.JobsActive.Add(ctx, -1, metric.WithAttributes(kindAttr(kind)))

	if !success {
		m.JobErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordExecInvocation records one external tool run.
func (m *Metrics) RecordExecInvocation(ctx context.Context, tool string, timedOut bool, durationSeconds float64) {
	attrs := metric.WithAttributes(toolAttr(tool))
	m.ExecInvocations.Add(ctx, 1, attrs)
	m.ExecDuration.Record(ctx, durationSeconds, attrs)
	if timedOut {
		m.ExecTimeouts.Add(ctx, 1, attrs)
	}
}

// RecordInventoryMutation records one inventory write.
func (m *Metrics) RecordInventoryMutation(ctx context.Context, op string) {
	m.InventoryMutations.Add(ctx, 1, metric.WithAttributes(opAttr(op)))
}

// RecordNotifierDelivered records a successful webhook delivery.
func (m *Metrics) RecordNotifierDelivered(ctx context.Context) {
	m.NotifierDelivered.Add(ctx, 1)
}

// RecordNotifierFailed records a webhook delivery failed after retries.
func (m *Metrics) RecordNotifierFailed(ctx context.Context) {
	m.NotifierFailed.Add(ctx, 1)
}

// RecordNotifierDropped records a dropped webhook event.
func (m *Metrics) RecordNotifierDropped(ctx context.Context) {
	m.NotifierDropped.Add(ctx, 1)
}
