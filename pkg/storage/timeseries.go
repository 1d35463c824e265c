package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/argus-obs/argus/pkg/database"
)

// TimeseriesRepo persists and queries telemetry: host metrics, log index
// entries, SDK events, spans, dependency calls, deploys, and metric
// baselines. All queries are tenant-scoped.
type TimeseriesRepo struct {
	client *database.Client
}

func NewTimeseriesRepo(client *database.Client) *TimeseriesRepo {
	return &TimeseriesRepo{client: client}
}

// --- inserts ---

func (r *TimeseriesRepo) InsertMetric(ctx context.Context, tenant string, m MetricRow) error {
	labels, err := marshalJSONB(m.Labels)
	if err != nil {
		return err
	}
	_, err = r.client.SQLX().ExecContext(ctx,
		`INSERT INTO system_metrics (tenant_id, timestamp, name, value, labels)
		 VALUES ($1, $2, $3, $4, $5)`,
		tenant, m.Timestamp, m.Name, m.Value, labels)
	if err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	return nil
}

// InsertMetricsBatch bulk-loads one collection cycle of host metrics using
// the Postgres COPY protocol.
func (r *TimeseriesRepo) InsertMetricsBatch(ctx context.Context, tenant string, rows []MetricRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := r.client.Pool().CopyFrom(ctx,
		pgx.Identifier{"system_metrics"},
		[]string{"tenant_id", "timestamp", "name", "value", "labels"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			labels, err := marshalJSONB(rows[i].Labels)
			if err != nil {
				return nil, err
			}
			return []any{tenant, rows[i].Timestamp, rows[i].Name, rows[i].Value, labels}, nil
		}))
	if err != nil {
		return fmt.Errorf("failed to batch insert metrics: %w", err)
	}
	return nil
}

func (r *TimeseriesRepo) InsertLogEntry(ctx context.Context, tenant string, e LogEntry) error {
	_, err := r.client.SQLX().ExecContext(ctx,
		`INSERT INTO log_index (tenant_id, timestamp, path, byte_offset, severity, preview, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tenant, e.Timestamp, e.Path, e.Offset, e.Severity, e.Preview, e.Source)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}
	return nil
}

func (r *TimeseriesRepo) InsertSDKEvent(ctx context.Context, tenant string, e SDKEvent) error {
	data := e.Data
	if data == nil {
		data = []byte("{}")
	}
	_, err := r.client.SQLX().ExecContext(ctx,
		`INSERT INTO sdk_events (tenant_id, timestamp, service, event_type, data)
		 VALUES ($1, $2, $3, $4, $5)`,
		tenant, e.Timestamp, e.Service, e.EventType, data)
	if err != nil {
		return fmt.Errorf("failed to insert sdk event: %w", err)
	}
	return nil
}

func (r *TimeseriesRepo) InsertSpan(ctx context.Context, tenant string, s Span) error {
	attrs, err := marshalJSONB(s.Attrs)
	if err != nil {
		return err
	}
	_, err = r.client.SQLX().ExecContext(ctx,
		`INSERT INTO spans (tenant_id, timestamp, trace_id, span_id, parent_span_id,
		                    service, name, kind, duration_ms, status, error_type, error_msg, attrs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tenant, s.Timestamp, s.TraceID, s.SpanID, s.ParentSpanID,
		s.Service, s.Name, s.Kind, s.DurationMS, s.Status, s.ErrorType, s.ErrorMsg, attrs)
	if err != nil {
		return fmt.Errorf("failed to insert span: %w", err)
	}
	return nil
}

func (r *TimeseriesRepo) InsertSDKMetric(ctx context.Context, tenant string, m SDKMetricRow) error {
	labels, err := marshalJSONB(m.Labels)
	if err != nil {
		return err
	}
	_, err = r.client.SQLX().ExecContext(ctx,
		`INSERT INTO sdk_metrics (tenant_id, timestamp, service, name, value, labels)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tenant, m.Timestamp, m.Service, m.Name, m.Value, labels)
	if err != nil {
		return fmt.Errorf("failed to insert sdk metric: %w", err)
	}
	return nil
}

func (r *TimeseriesRepo) InsertDependencyCall(ctx context.Context, tenant string, d DependencyCall) error {
	attrs, err := marshalJSONB(d.Attrs)
	if err != nil {
		return err
	}
	_, err = r.client.SQLX().ExecContext(ctx,
		`INSERT INTO dependency_calls (tenant_id, timestamp, service, dep_type, target,
		                               trace_id, span_id, operation, duration_ms, status, status_code, error, attrs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tenant, d.Timestamp, d.Service, d.DepType, d.Target,
		d.TraceID, d.SpanID, d.Operation, d.DurationMS, d.Status, d.StatusCode, d.Error, attrs)
	if err != nil {
		return fmt.Errorf("failed to insert dependency call: %w", err)
	}
	return nil
}

func (r *TimeseriesRepo) InsertDeployEvent(ctx context.Context, tenant string, d DeployEvent) error {
	attrs, err := marshalJSONB(d.Attrs)
	if err != nil {
		return err
	}
	_, err = r.client.SQLX().ExecContext(ctx,
		`INSERT INTO deploy_events (tenant_id, timestamp, service, version, git_sha, env, previous_version, attrs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tenant, d.Timestamp, d.Service, d.Version, d.GitSHA, d.Env, d.PreviousVersion, attrs)
	if err != nil {
		return fmt.Errorf("failed to insert deploy event: %w", err)
	}
	return nil
}

// LastDeployVersion returns the most recent recorded version for a service,
// or "" when the service has never deployed.
func (r *TimeseriesRepo) LastDeployVersion(ctx context.Context, tenant, service string) (string, error) {
	var version string
	err := r.client.SQLX().GetContext(ctx, &version,
		`SELECT version FROM deploy_events
		 WHERE tenant_id = $1 AND service = $2
		 ORDER BY timestamp DESC LIMIT 1`,
		tenant, service)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query last deploy: %w", err)
	}
	return version, nil
}

// --- host metric reads ---

// QueryMetricRange returns raw samples of one metric within [from, to],
// oldest first, capped at limit (0 means 2000).
func (r *TimeseriesRepo) QueryMetricRange(ctx context.Context, tenant, name string, from, to time.Time, limit int) ([]MetricRow, error) {
	if limit <= 0 {
		limit = 2000
	}
	rows := []MetricRow{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT timestamp, name, value FROM system_metrics
		 WHERE tenant_id = $1 AND name = $2 AND timestamp >= $3 AND timestamp <= $4
		 ORDER BY timestamp ASC LIMIT $5`,
		tenant, name, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric range: %w", err)
	}
	return rows, nil
}

// QueryMetricsSummary returns min/max/avg/latest per metric name over the
// window.
func (r *TimeseriesRepo) QueryMetricsSummary(ctx context.Context, tenant string, from, to time.Time) ([]MetricsSummaryRow, error) {
	rows := []MetricsSummaryRow{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT name,
		        MIN(value)  AS min,
		        MAX(value)  AS max,
		        AVG(value)  AS avg,
		        (ARRAY_AGG(value ORDER BY timestamp DESC))[1] AS latest,
		        COUNT(*)    AS count
		 FROM system_metrics
		 WHERE tenant_id = $1 AND timestamp >= $2 AND timestamp <= $3
		 GROUP BY name
		 ORDER BY name`,
		tenant, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics summary: %w", err)
	}
	return rows, nil
}

// SearchLogs returns indexed log entries matching an optional substring
// query and minimum severity, newest first.
func (r *TimeseriesRepo) SearchLogs(ctx context.Context, tenant, query, minSeverity string, since time.Time, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	sevRank := map[string]int{"warning": 1, "error": 2, "critical": 3}
	minRank := sevRank[minSeverity]
	rows := []LogEntry{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT timestamp, path, byte_offset, severity, preview, source
		 FROM log_index
		 WHERE tenant_id = $1 AND timestamp >= $2
		   AND ($3 = '' OR preview ILIKE '%' || $3 || '%')
		   AND (CASE severity WHEN 'warning' THEN 1 WHEN 'error' THEN 2 WHEN 'critical' THEN 3 ELSE 0 END) >= $4
		 ORDER BY timestamp DESC LIMIT $5`,
		tenant, since, query, minRank, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search logs: %w", err)
	}
	return rows, nil
}

// --- SDK analytical reads ---

// QueryFunctionMetrics aggregates invocation events into time buckets:
// counts, error rate, duration percentiles, and cold-start share.
func (r *TimeseriesRepo) QueryFunctionMetrics(ctx context.Context, tenant, service string, from, to time.Time, bucket time.Duration) ([]FunctionMetricsBucket, error) {
	rows := []FunctionMetricsBucket{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT date_bin($4::interval, timestamp, 'epoch'::timestamptz) AS bucket,
		        COUNT(*) FILTER (WHERE event_type = 'invocation_end') AS invocation_count,
		        COUNT(*) FILTER (WHERE event_type = 'invocation_end'
		                           AND COALESCE(data->>'error', '') <> '') AS error_count,
		        COALESCE(AVG((data->>'duration_ms')::float)
		                 FILTER (WHERE event_type = 'invocation_end'), 0) AS avg_duration,
		        COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY (data->>'duration_ms')::float)
		                 FILTER (WHERE event_type = 'invocation_end'), 0) AS p50_duration,
		        COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY (data->>'duration_ms')::float)
		                 FILTER (WHERE event_type = 'invocation_end'), 0) AS p95_duration,
		        COALESCE(PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY (data->>'duration_ms')::float)
		                 FILTER (WHERE event_type = 'invocation_end'), 0) AS p99_duration,
		        COUNT(*) FILTER (WHERE event_type = 'invocation_start'
		                           AND (data->>'cold_start')::boolean IS TRUE) AS cold_start_count,
		        COUNT(*) FILTER (WHERE event_type = 'invocation_start') AS start_count
		 FROM sdk_events
		 WHERE tenant_id = $1 AND service = $2 AND timestamp >= $3 AND timestamp <= $5
		 GROUP BY bucket
		 ORDER BY bucket ASC`,
		tenant, service, from, bucket.String(), to)
	if err != nil {
		return nil, fmt.Errorf("failed to query function metrics: %w", err)
	}
	for i := range rows {
		rows[i].ErrorRate = ratePct(rows[i].ErrorCount, rows[i].InvocationCount)
		rows[i].ColdStartPct = ratePct(rows[i].ColdStartCount, rows[i].StartCount)
	}
	return rows, nil
}

// QueryRequestMetrics aggregates server spans into time buckets.
func (r *TimeseriesRepo) QueryRequestMetrics(ctx context.Context, tenant, service string, from, to time.Time, bucket time.Duration) ([]RequestMetricsBucket, error) {
	rows := []RequestMetricsBucket{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT date_bin($4::interval, timestamp, 'epoch'::timestamptz) AS bucket,
		        COUNT(*) AS request_count,
		        COUNT(*) FILTER (WHERE status = 'error') AS error_count,
		        COALESCE(AVG(duration_ms), 0) AS avg_duration,
		        COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY duration_ms), 0) AS p50_duration,
		        COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms), 0) AS p95_duration,
		        COALESCE(PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY duration_ms), 0) AS p99_duration
		 FROM spans
		 WHERE tenant_id = $1 AND service = $2 AND kind = 'server'
		   AND timestamp >= $3 AND timestamp <= $5
		 GROUP BY bucket
		 ORDER BY bucket ASC`,
		tenant, service, from, bucket.String(), to)
	if err != nil {
		return nil, fmt.Errorf("failed to query request metrics: %w", err)
	}
	for i := range rows {
		rows[i].ErrorRate = ratePct(rows[i].ErrorCount, rows[i].RequestCount)
	}
	return rows, nil
}

// QueryTraceSummary lists recent traces aggregated over their spans,
// newest first.
func (r *TimeseriesRepo) QueryTraceSummary(ctx context.Context, tenant, service string, from, to time.Time, limit int) ([]TraceSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows := []TraceSummary{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT trace_id,
		        MIN(service) AS service,
		        COALESCE(MIN(name) FILTER (WHERE parent_span_id = ''), MIN(name)) AS root_name,
		        COUNT(*) AS span_count,
		        MAX(duration_ms) AS total_duration_ms,
		        BOOL_OR(status = 'error') AS has_error,
		        MIN(timestamp) AS started_at
		 FROM spans
		 WHERE tenant_id = $1 AND ($2 = '' OR service = $2)
		   AND timestamp >= $3 AND timestamp <= $4 AND trace_id <> ''
		 GROUP BY trace_id
		 ORDER BY started_at DESC
		 LIMIT $5`,
		tenant, service, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace summary: %w", err)
	}
	return rows, nil
}

// QuerySlowSpans returns the slowest spans over the window.
func (r *TimeseriesRepo) QuerySlowSpans(ctx context.Context, tenant, service string, from, to time.Time, limit int) ([]Span, error) {
	if limit <= 0 {
		limit = 20
	}
	rows := []Span{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT timestamp, trace_id, span_id, parent_span_id, service, name, kind,
		        duration_ms, status, error_type, error_msg
		 FROM spans
		 WHERE tenant_id = $1 AND ($2 = '' OR service = $2)
		   AND timestamp >= $3 AND timestamp <= $4
		 ORDER BY duration_ms DESC
		 LIMIT $5`,
		tenant, service, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query slow spans: %w", err)
	}
	return rows, nil
}

// QueryTrace returns every span of a trace ordered by start time.
func (r *TimeseriesRepo) QueryTrace(ctx context.Context, tenant, traceID string) ([]Span, error) {
	rows := []Span{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT timestamp, trace_id, span_id, parent_span_id, service, name, kind,
		        duration_ms, status, error_type, error_msg
		 FROM spans
		 WHERE tenant_id = $1 AND trace_id = $2
		 ORDER BY timestamp ASC`,
		tenant, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace: %w", err)
	}
	return rows, nil
}

// QueryErrorGroups groups exceptions by fingerprint, largest group first.
// Messages are truncated to 200 characters.
func (r *TimeseriesRepo) QueryErrorGroups(ctx context.Context, tenant, service string, from, to time.Time, limit int) ([]ErrorGroup, error) {
	if limit <= 0 {
		limit = 20
	}
	rows := []ErrorGroup{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT COALESCE(data->>'fingerprint', '') AS fingerprint,
		        COALESCE(data->>'error_type', 'unknown') AS error_type,
		        LEFT(MIN(COALESCE(data->>'error_message', '')), 200) AS error_message,
		        COUNT(*) AS count,
		        MIN(timestamp) AS first_seen,
		        MAX(timestamp) AS last_seen,
		        MIN(service) AS service
		 FROM sdk_events
		 WHERE tenant_id = $1 AND event_type = 'exception'
		   AND ($2 = '' OR service = $2)
		   AND timestamp >= $3 AND timestamp <= $4
		 GROUP BY fingerprint, error_type
		 ORDER BY count DESC
		 LIMIT $5`,
		tenant, service, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query error groups: %w", err)
	}
	return rows, nil
}

// QueryServiceSummary rolls up event, error, and invocation counts per
// service over the window.
func (r *TimeseriesRepo) QueryServiceSummary(ctx context.Context, tenant string, from, to time.Time) ([]ServiceSummary, error) {
	rows := []ServiceSummary{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT service,
		        COUNT(*) AS event_count,
		        COUNT(*) FILTER (WHERE event_type = 'exception') AS error_count,
		        COUNT(*) FILTER (WHERE event_type = 'invocation_end') AS invocation_count,
		        MIN(timestamp) AS first_seen,
		        MAX(timestamp) AS last_seen
		 FROM sdk_events
		 WHERE tenant_id = $1 AND timestamp >= $2 AND timestamp <= $3
		 GROUP BY service
		 ORDER BY event_count DESC`,
		tenant, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query service summary: %w", err)
	}
	return rows, nil
}

// QueryDependencySummary aggregates outbound calls per (service, type,
// target).
func (r *TimeseriesRepo) QueryDependencySummary(ctx context.Context, tenant, service string, from, to time.Time) ([]DependencySummary, error) {
	rows := []DependencySummary{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT service, dep_type, target,
		        COUNT(*) AS call_count,
		        COUNT(*) FILTER (WHERE status = 'error') AS error_count,
		        COALESCE(AVG(duration_ms), 0) AS avg_duration,
		        COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms), 0) AS p95_duration
		 FROM dependency_calls
		 WHERE tenant_id = $1 AND ($2 = '' OR service = $2)
		   AND timestamp >= $3 AND timestamp <= $4
		 GROUP BY service, dep_type, target
		 ORDER BY call_count DESC`,
		tenant, service, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependency summary: %w", err)
	}
	return rows, nil
}

// QueryDependencyMap returns the service → target edges seen in the window.
func (r *TimeseriesRepo) QueryDependencyMap(ctx context.Context, tenant string, from, to time.Time) ([]DependencyEdge, error) {
	rows := []DependencyEdge{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT service, dep_type, target, COUNT(*) AS call_count
		 FROM dependency_calls
		 WHERE tenant_id = $1 AND timestamp >= $2 AND timestamp <= $3
		 GROUP BY service, dep_type, target
		 ORDER BY service, call_count DESC`,
		tenant, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependency map: %w", err)
	}
	return rows, nil
}

// QueryDeployHistory lists recent deploys, newest first.
func (r *TimeseriesRepo) QueryDeployHistory(ctx context.Context, tenant, service string, limit int) ([]DeployEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows := []DeployEvent{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT timestamp, service, version, git_sha, env, previous_version
		 FROM deploy_events
		 WHERE tenant_id = $1 AND ($2 = '' OR service = $2)
		 ORDER BY timestamp DESC
		 LIMIT $3`,
		tenant, service, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deploy history: %w", err)
	}
	return rows, nil
}

// ListActiveServices returns services with any SDK activity since the given
// time.
func (r *TimeseriesRepo) ListActiveServices(ctx context.Context, tenant string, since time.Time) ([]string, error) {
	services := []string{}
	err := r.client.SQLX().SelectContext(ctx, &services,
		`SELECT DISTINCT service FROM sdk_events
		 WHERE tenant_id = $1 AND timestamp >= $2
		 ORDER BY service`,
		tenant, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list active services: %w", err)
	}
	return services, nil
}

// ServiceWindow is the per-service aggregate the SDK analyzer compares
// between consecutive windows.
type ServiceWindow struct {
	InvocationCount int     `db:"invocation_count"`
	ErrorCount      int     `db:"error_count"`
	P95DurationMS   float64 `db:"p95_duration"`
	ColdStartCount  int     `db:"cold_start_count"`
	StartCount      int     `db:"start_count"`
	RequestCount    int     `db:"request_count"`
}

// QueryServiceWindow aggregates one service over [from, to) for anomaly
// comparisons.
func (r *TimeseriesRepo) QueryServiceWindow(ctx context.Context, tenant, service string, from, to time.Time) (ServiceWindow, error) {
	var w ServiceWindow
	err := r.client.SQLX().GetContext(ctx, &w,
		`SELECT COUNT(*) FILTER (WHERE event_type = 'invocation_end') AS invocation_count,
		        COUNT(*) FILTER (WHERE event_type = 'invocation_end'
		                           AND COALESCE(data->>'error', '') <> '') AS error_count,
		        COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY (data->>'duration_ms')::float)
		                 FILTER (WHERE event_type = 'invocation_end'), 0) AS p95_duration,
		        COUNT(*) FILTER (WHERE event_type = 'invocation_start'
		                           AND (data->>'cold_start')::boolean IS TRUE) AS cold_start_count,
		        COUNT(*) FILTER (WHERE event_type = 'invocation_start') AS start_count,
		        (SELECT COUNT(*) FROM spans s
		          WHERE s.tenant_id = $1 AND s.service = $2 AND s.kind = 'server'
		            AND s.timestamp >= $3 AND s.timestamp < $4) AS request_count
		 FROM sdk_events
		 WHERE tenant_id = $1 AND service = $2 AND timestamp >= $3 AND timestamp < $4`,
		tenant, service, from, to)
	if err != nil {
		if isNoRows(err) {
			return ServiceWindow{}, nil
		}
		return ServiceWindow{}, fmt.Errorf("failed to query service window: %w", err)
	}
	return w, nil
}

// --- baselines ---

// baselineSourceQueries compute the 7-day aggregates the tracker merges into
// the baseline map. Each produces (metric_name, mean, stddev, p50, p95, p99,
// sample_count) rows with at least minSamples samples.
const (
	systemBaselineQuery = `
		SELECT name AS metric_name,
		       AVG(value) AS mean,
		       COALESCE(STDDEV_POP(value), 0) AS stddev,
		       PERCENTILE_CONT(0.5)  WITHIN GROUP (ORDER BY value) AS p50,
		       PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY value) AS p95,
		       PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY value) AS p99,
		       COUNT(*) AS sample_count
		FROM system_metrics
		WHERE tenant_id = $1 AND timestamp >= $2
		GROUP BY name
		HAVING COUNT(*) >= $3`

	sdkMetricBaselineQuery = `
		SELECT 'sdk.' || service || '.' || name AS metric_name,
		       AVG(value) AS mean,
		       COALESCE(STDDEV_POP(value), 0) AS stddev,
		       PERCENTILE_CONT(0.5)  WITHIN GROUP (ORDER BY value) AS p50,
		       PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY value) AS p95,
		       PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY value) AS p99,
		       COUNT(*) AS sample_count
		FROM sdk_metrics
		WHERE tenant_id = $1 AND timestamp >= $2
		GROUP BY service, name
		HAVING COUNT(*) >= $3`

	spanBaselineQuery = `
		SELECT 'sdk.' || service || '.span.' || name AS metric_name,
		       AVG(duration_ms) AS mean,
		       COALESCE(STDDEV_POP(duration_ms), 0) AS stddev,
		       PERCENTILE_CONT(0.5)  WITHIN GROUP (ORDER BY duration_ms) AS p50,
		       PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms) AS p95,
		       PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY duration_ms) AS p99,
		       COUNT(*) AS sample_count
		FROM spans
		WHERE tenant_id = $1 AND timestamp >= $2
		GROUP BY service, name
		HAVING COUNT(*) >= $3`

	trafficBaselineQuery = `
		WITH counts AS (
		    SELECT service,
		           date_bin('5 minutes'::interval, timestamp, 'epoch'::timestamptz) AS bucket,
		           COUNT(*) AS request_count
		    FROM spans
		    WHERE tenant_id = $1 AND kind = 'server' AND timestamp >= $2
		    GROUP BY service, bucket
		)
		SELECT 'traffic.' || service || '.request_count_5m' AS metric_name,
		       AVG(request_count) AS mean,
		       COALESCE(STDDEV_POP(request_count), 0) AS stddev,
		       PERCENTILE_CONT(0.5)  WITHIN GROUP (ORDER BY request_count) AS p50,
		       PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY request_count) AS p95,
		       PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY request_count) AS p99,
		       COUNT(*) AS sample_count
		FROM counts
		GROUP BY service
		HAVING COUNT(*) >= $3`
)

// ComputeBaselines runs the four 7-day aggregate queries and returns the
// merged set. Metrics with fewer than minSamples samples are excluded by
// the queries themselves.
func (r *TimeseriesRepo) ComputeBaselines(ctx context.Context, tenant string, since time.Time, minSamples int) ([]Baseline, error) {
	merged := []Baseline{}
	now := time.Now().UTC()
	for _, q := range []string{systemBaselineQuery, sdkMetricBaselineQuery, spanBaselineQuery, trafficBaselineQuery} {
		rows := []Baseline{}
		if err := r.client.SQLX().SelectContext(ctx, &rows, q, tenant, since, minSamples); err != nil {
			return nil, fmt.Errorf("failed to compute baselines: %w", err)
		}
		for i := range rows {
			rows[i].AsOf = now
		}
		merged = append(merged, rows...)
	}
	return merged, nil
}

// UpsertBaselines replaces the tenant's stored baselines in one transaction.
func (r *TimeseriesRepo) UpsertBaselines(ctx context.Context, tenant string, baselines []Baseline) error {
	tx, err := r.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin baseline tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM metric_baselines WHERE tenant_id = $1`, tenant); err != nil {
		return fmt.Errorf("failed to clear baselines: %w", err)
	}
	for _, b := range baselines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metric_baselines (tenant_id, metric_name, mean, stddev, p50, p95, p99, sample_count, as_of)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			tenant, b.MetricName, b.Mean, b.Stddev, b.P50, b.P95, b.P99, b.SampleCount, b.AsOf); err != nil {
			return fmt.Errorf("failed to insert baseline %s: %w", b.MetricName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit baselines: %w", err)
	}
	return nil
}

// LoadBaselines returns the tenant's stored baselines.
func (r *TimeseriesRepo) LoadBaselines(ctx context.Context, tenant string) ([]Baseline, error) {
	rows := []Baseline{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT metric_name, mean, stddev, p50, p95, p99, sample_count, as_of
		 FROM metric_baselines WHERE tenant_id = $1`,
		tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to load baselines: %w", err)
	}
	return rows, nil
}

func ratePct(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(int(float64(part)/float64(whole)*1000+0.5)) / 10
}

func marshalJSONB(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal labels: %w", err)
	}
	return b, nil
}
