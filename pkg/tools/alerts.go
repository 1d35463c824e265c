package tools

import (
	"context"

	"github.com/argus-obs/argus/pkg/actions"
)

// AlertFetcher returns the current active alert set, already shaped for
// display. Wired from the alert engine at startup.
type AlertFetcher func(ctx context.Context) (any, error)

// NewGetActiveAlertsTool exposes the alert engine's active set to the model.
func NewGetActiveAlertsTool(fetch AlertFetcher) Tool {
	return Tool{
		Name: "get_active_alerts",
		Description: "List currently active alerts: severity, rule, message, acknowledgment state. " +
			"Use this to see what is already firing before raising new concerns.",
		Risk: actions.RiskReadOnly,
		ParametersSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			alerts, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"alerts":       alerts,
				"display_type": "alert_table",
			}, nil
		},
	}
}
