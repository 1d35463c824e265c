package api

import (
	"time"

	"github.com/argus-obs/argus/pkg/budget"
	"github.com/argus-obs/argus/pkg/database"
	"github.com/argus-obs/argus/pkg/investigator"
	"github.com/argus-obs/argus/pkg/scheduler"
)

// HealthCheck is one component's health state.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the GET /health response body.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// IngestResponse is the POST /ingest response body.
type IngestResponse struct {
	Accepted  int       `json:"accepted"`
	Timestamp time.Time `json:"timestamp"`
}

// ActionDecisionResponse acknowledges an approval decision.
type ActionDecisionResponse struct {
	Resolved bool `json:"resolved"`
}

// VersionResponse is the GET /api/v1/version response body.
type VersionResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SystemStatusResponse is the operational snapshot for dashboards.
type SystemStatusResponse struct {
	Mode          string                 `json:"mode"`
	Tenant        string                 `json:"tenant"`
	Budget        *budget.Snapshot       `json:"budget,omitempty"`
	Investigator  *investigator.Snapshot `json:"investigator,omitempty"`
	Tasks         []scheduler.TaskStats  `json:"tasks,omitempty"`
	Collectors    map[string]any         `json:"collectors,omitempty"`
	Database      *database.HealthStatus `json:"database,omitempty"`
	WSConnections int                    `json:"ws_connections"`
}
