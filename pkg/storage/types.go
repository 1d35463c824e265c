package storage

import "time"

// MetricRow is one host metric sample.
type MetricRow struct {
	Timestamp time.Time         `db:"timestamp" json:"timestamp"`
	Name      string            `db:"name" json:"name"`
	Value     float64           `db:"value" json:"value"`
	Labels    map[string]string `db:"-" json:"labels,omitempty"`
}

// LogEntry is one indexed log line at warning severity or above.
type LogEntry struct {
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Path      string    `db:"path" json:"path"`
	Offset    int64     `db:"byte_offset" json:"offset"`
	Severity  string    `db:"severity" json:"severity"`
	Preview   string    `db:"preview" json:"preview"`
	Source    string    `db:"source" json:"source"`
}

// SDKEvent is a raw lifecycle event from an instrumented service
// (invocation_start, invocation_end, exception, ...). Data is the original
// JSON payload.
type SDKEvent struct {
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Service   string    `db:"service" json:"service"`
	EventType string    `db:"event_type" json:"event_type"`
	Data      []byte    `db:"data" json:"data"`
}

// Span is one traced operation inside an instrumented service.
type Span struct {
	Timestamp    time.Time         `db:"timestamp" json:"timestamp"`
	TraceID      string            `db:"trace_id" json:"trace_id"`
	SpanID       string            `db:"span_id" json:"span_id"`
	ParentSpanID string            `db:"parent_span_id" json:"parent_span_id,omitempty"`
	Service      string            `db:"service" json:"service"`
	Name         string            `db:"name" json:"name"`
	Kind         string            `db:"kind" json:"kind"`
	DurationMS   float64           `db:"duration_ms" json:"duration_ms"`
	Status       string            `db:"status" json:"status"`
	ErrorType    string            `db:"error_type" json:"error_type,omitempty"`
	ErrorMsg     string            `db:"error_msg" json:"error_msg,omitempty"`
	Attrs        map[string]string `db:"-" json:"attrs,omitempty"`
}

// SDKMetricRow is one runtime metric sample reported by an SDK.
type SDKMetricRow struct {
	Timestamp time.Time         `db:"timestamp" json:"timestamp"`
	Service   string            `db:"service" json:"service"`
	Name      string            `db:"name" json:"name"`
	Value     float64           `db:"value" json:"value"`
	Labels    map[string]string `db:"-" json:"labels,omitempty"`
}

// DependencyCall records one outbound call (db, http, cache, queue) made by
// an instrumented service.
type DependencyCall struct {
	Timestamp  time.Time         `db:"timestamp" json:"timestamp"`
	Service    string            `db:"service" json:"service"`
	DepType    string            `db:"dep_type" json:"dep_type"`
	Target     string            `db:"target" json:"target"`
	TraceID    string            `db:"trace_id" json:"trace_id,omitempty"`
	SpanID     string            `db:"span_id" json:"span_id,omitempty"`
	Operation  string            `db:"operation" json:"operation,omitempty"`
	DurationMS float64           `db:"duration_ms" json:"duration_ms"`
	Status     string            `db:"status" json:"status"`
	StatusCode int               `db:"status_code" json:"status_code,omitempty"`
	Error      string            `db:"error" json:"error,omitempty"`
	Attrs      map[string]string `db:"-" json:"attrs,omitempty"`
}

// DeployEvent marks a version change of an instrumented service.
type DeployEvent struct {
	Timestamp       time.Time         `db:"timestamp" json:"timestamp"`
	Service         string            `db:"service" json:"service"`
	Version         string            `db:"version" json:"version"`
	GitSHA          string            `db:"git_sha" json:"git_sha,omitempty"`
	Env             string            `db:"env" json:"env,omitempty"`
	PreviousVersion string            `db:"previous_version" json:"previous_version,omitempty"`
	Attrs           map[string]string `db:"-" json:"attrs,omitempty"`
}

// Baseline is the rolling statistical profile of one metric.
type Baseline struct {
	MetricName  string    `db:"metric_name" json:"metric_name"`
	Mean        float64   `db:"mean" json:"mean"`
	Stddev      float64   `db:"stddev" json:"stddev"`
	P50         float64   `db:"p50" json:"p50"`
	P95         float64   `db:"p95" json:"p95"`
	P99         float64   `db:"p99" json:"p99"`
	SampleCount int       `db:"sample_count" json:"sample_count"`
	AsOf        time.Time `db:"as_of" json:"as_of"`
}

// FunctionMetricsBucket is one time bucket of aggregated invocation metrics.
type FunctionMetricsBucket struct {
	Bucket          time.Time `db:"bucket" json:"bucket"`
	InvocationCount int       `db:"invocation_count" json:"invocation_count"`
	ErrorCount      int       `db:"error_count" json:"error_count"`
	ErrorRate       float64   `db:"-" json:"error_rate"`
	AvgDurationMS   float64   `db:"avg_duration" json:"avg_duration_ms"`
	P50DurationMS   float64   `db:"p50_duration" json:"p50_duration_ms"`
	P95DurationMS   float64   `db:"p95_duration" json:"p95_duration_ms"`
	P99DurationMS   float64   `db:"p99_duration" json:"p99_duration_ms"`
	ColdStartCount  int       `db:"cold_start_count" json:"cold_start_count"`
	StartCount      int       `db:"start_count" json:"-"`
	ColdStartPct    float64   `db:"-" json:"cold_start_pct"`
}

// RequestMetricsBucket is one time bucket of server-span request metrics.
type RequestMetricsBucket struct {
	Bucket        time.Time `db:"bucket" json:"bucket"`
	RequestCount  int       `db:"request_count" json:"request_count"`
	ErrorCount    int       `db:"error_count" json:"error_count"`
	ErrorRate     float64   `db:"-" json:"error_rate"`
	AvgDurationMS float64   `db:"avg_duration" json:"avg_duration_ms"`
	P50DurationMS float64   `db:"p50_duration" json:"p50_duration_ms"`
	P95DurationMS float64   `db:"p95_duration" json:"p95_duration_ms"`
	P99DurationMS float64   `db:"p99_duration" json:"p99_duration_ms"`
}

// TraceSummary aggregates spans per trace for listings.
type TraceSummary struct {
	TraceID         string    `db:"trace_id" json:"trace_id"`
	Service         string    `db:"service" json:"service"`
	RootName        string    `db:"root_name" json:"root_name"`
	SpanCount       int       `db:"span_count" json:"span_count"`
	TotalDurationMS float64   `db:"total_duration_ms" json:"total_duration_ms"`
	HasError        bool      `db:"has_error" json:"has_error"`
	StartedAt       time.Time `db:"started_at" json:"started_at"`
}

// ErrorGroup is a set of exceptions sharing a fingerprint.
type ErrorGroup struct {
	Fingerprint  string    `db:"fingerprint" json:"fingerprint"`
	ErrorType    string    `db:"error_type" json:"error_type"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	Count        int       `db:"count" json:"count"`
	FirstSeen    time.Time `db:"first_seen" json:"first_seen"`
	LastSeen     time.Time `db:"last_seen" json:"last_seen"`
	Service      string    `db:"service" json:"service"`
}

// ServiceSummary is the per-service rollup for dashboards and tools.
type ServiceSummary struct {
	Service         string    `db:"service" json:"service"`
	EventCount      int       `db:"event_count" json:"event_count"`
	ErrorCount      int       `db:"error_count" json:"error_count"`
	InvocationCount int       `db:"invocation_count" json:"invocation_count"`
	FirstSeen       time.Time `db:"first_seen" json:"first_seen"`
	LastSeen        time.Time `db:"last_seen" json:"last_seen"`
}

// DependencySummary aggregates outbound calls per (service, dep_type, target).
type DependencySummary struct {
	Service       string  `db:"service" json:"service"`
	DepType       string  `db:"dep_type" json:"dep_type"`
	Target        string  `db:"target" json:"target"`
	CallCount     int     `db:"call_count" json:"call_count"`
	ErrorCount    int     `db:"error_count" json:"error_count"`
	AvgDurationMS float64 `db:"avg_duration" json:"avg_duration_ms"`
	P95DurationMS float64 `db:"p95_duration" json:"p95_duration_ms"`
}

// DependencyEdge is one edge in the service dependency map.
type DependencyEdge struct {
	Service   string `db:"service" json:"service"`
	DepType   string `db:"dep_type" json:"dep_type"`
	Target    string `db:"target" json:"target"`
	CallCount int    `db:"call_count" json:"call_count"`
}

// MetricsSummaryRow is the min/max/avg/latest rollup of one host metric.
type MetricsSummaryRow struct {
	Name   string  `db:"name" json:"name"`
	Min    float64 `db:"min" json:"min"`
	Max    float64 `db:"max" json:"max"`
	Avg    float64 `db:"avg" json:"avg"`
	Latest float64 `db:"latest" json:"latest"`
	Count  int     `db:"count" json:"count"`
}
