// Package notify delivers monitoring alerts to external sinks.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"verity/internal/monitoring"
)

// EventType versions the alert payload published to brokers.
const EventType = "verity.alert.v1"

// AlertEvent is the wire form of an alert.
type AlertEvent struct {
	Type      string              `json:"type"`
	AlertID   string              `json:"alert_id"`
	EntityID  string              `json:"entity_id"`
	Severity  monitoring.Severity `json:"severity"`
	Message   string              `json:"message"`
	Change    monitoring.Change   `json:"change"`
	CreatedAt time.Time           `json:"created_at"`
}

func encode(alert monitoring.Alert) ([]byte, error) {
	data, err := json.Marshal(AlertEvent{
		Type:      EventType,
		AlertID:   alert.ID,
		EntityID:  alert.EntityID,
		Severity:  alert.Severity,
		Message:   alert.Message,
		Change:    alert.Change,
		CreatedAt: alert.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode alert %s: %w", alert.ID, err)
	}
	return data, nil
}
