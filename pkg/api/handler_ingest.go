package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/storage"
)

const (
	// HeaderIngestKey authenticates SDK batches and selects the tenant.
	HeaderIngestKey = "X-Argus-Key"

	// maxBatchEvents bounds one ingest request.
	maxBatchEvents = 1000
)

// IngestRequest is a batch of SDK telemetry items. Items are routed by
// their "type" field; the remaining shape depends on the type.
type IngestRequest struct {
	Events []json.RawMessage `json:"events"`
}

type ingestHeader struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

type invocationPayload struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
}

// ingestHandler handles POST /ingest. The batch is processed item by item:
// a malformed item is logged and skipped, never failing the whole batch.
func (s *Server) ingestHandler(c *echo.Context) error {
	if s.deps.Ingest == nil || s.deps.Ops == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "ingest not available")
	}

	key := c.Request().Header.Get(HeaderIngestKey)
	if key == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing ingest key")
	}
	tenant, err := s.deps.Ops.TenantForIngestKey(c.Request().Context(), key)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid ingest key")
	}

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Events) > maxBatchEvents {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch exceeds %d events", maxBatchEvents))
	}

	accepted := 0
	for _, raw := range req.Events {
		if err := s.ingestItem(c.Request().Context(), tenant, raw); err != nil {
			s.logger.Warn("ingest item rejected", "tenant", tenant, "error", err)
			continue
		}
		accepted++
	}

	return c.JSON(http.StatusOK, &IngestResponse{Accepted: accepted, Timestamp: time.Now().UTC()})
}

func (s *Server) ingestItem(ctx context.Context, tenant string, raw json.RawMessage) error {
	var hdr ingestHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}
	if hdr.Service == "" {
		return fmt.Errorf("missing service")
	}
	if hdr.Timestamp.IsZero() {
		hdr.Timestamp = time.Now().UTC()
	}

	switch hdr.Type {
	case "invocation_start", "invocation_end":
		return s.ingestInvocation(ctx, tenant, hdr, raw)
	case "span":
		var sp storage.Span
		if err := json.Unmarshal(raw, &sp); err != nil {
			return fmt.Errorf("invalid span: %w", err)
		}
		sp.Timestamp = hdr.Timestamp
		if sp.TraceID == "" || sp.SpanID == "" {
			return fmt.Errorf("span missing trace_id or span_id")
		}
		return s.deps.Ingest.InsertSpan(ctx, tenant, sp)
	case "runtime_metric":
		var m storage.SDKMetricRow
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("invalid metric: %w", err)
		}
		m.Timestamp = hdr.Timestamp
		if m.Name == "" {
			return fmt.Errorf("metric missing name")
		}
		return s.deps.Ingest.InsertSDKMetric(ctx, tenant, m)
	case "dependency_call":
		var d storage.DependencyCall
		if err := json.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("invalid dependency call: %w", err)
		}
		d.Timestamp = hdr.Timestamp
		if d.Target == "" {
			return fmt.Errorf("dependency call missing target")
		}
		return s.deps.Ingest.InsertDependencyCall(ctx, tenant, d)
	case "deploy":
		return s.ingestDeploy(ctx, tenant, hdr, raw)
	default:
		return fmt.Errorf("unknown event type %q", hdr.Type)
	}
}

func (s *Server) ingestInvocation(ctx context.Context, tenant string, hdr ingestHeader, raw json.RawMessage) error {
	if err := s.deps.Ingest.InsertSDKEvent(ctx, tenant, storage.SDKEvent{
		Timestamp: hdr.Timestamp,
		Service:   hdr.Service,
		EventType: hdr.Type,
		Data:      raw,
	}); err != nil {
		return err
	}

	// An exception carried on an invocation end surfaces immediately rather
	// than waiting for the next analyzer window.
	if hdr.Type == "invocation_end" && s.deps.Bus != nil {
		var p invocationPayload
		if err := json.Unmarshal(raw, &p); err == nil && p.ErrorType != "" {
			e := events.New(events.SourceSDKTelemetry, events.TypeErrorBurst, tenant)
			e.Severity = events.SeverityUrgent
			e.Message = fmt.Sprintf("Exception in service '%s': %s", hdr.Service, p.ErrorType)
			e.Data["service"] = hdr.Service
			e.Data["error_type"] = p.ErrorType
			e.Data["error_message"] = p.ErrorMessage
			s.deps.Bus.Publish(e)
		}
	}
	return nil
}

func (s *Server) ingestDeploy(ctx context.Context, tenant string, hdr ingestHeader, raw json.RawMessage) error {
	var d storage.DeployEvent
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("invalid deploy event: %w", err)
	}
	d.Timestamp = hdr.Timestamp
	if d.Version == "" {
		return fmt.Errorf("deploy missing version")
	}

	prev, err := s.deps.Ingest.LastDeployVersion(ctx, tenant, hdr.Service)
	if err != nil {
		s.logger.Warn("last deploy version lookup failed", "service", hdr.Service, "error", err)
	}
	d.PreviousVersion = prev

	if err := s.deps.Ingest.InsertDeployEvent(ctx, tenant, d); err != nil {
		return err
	}

	if s.deps.Bus != nil && d.Version != prev {
		e := events.New(events.SourceSDKTelemetry, events.TypeDeployDetected, tenant)
		e.Severity = events.SeverityNotable
		e.Message = fmt.Sprintf("Service '%s' deployed version %s", hdr.Service, d.Version)
		e.Data["service"] = hdr.Service
		e.Data["version"] = d.Version
		if prev != "" {
			e.Data["previous_version"] = prev
		}
		s.deps.Bus.Publish(e)
	}
	return nil
}
