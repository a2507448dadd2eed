package monitoring

import (
	"errors"
	"fmt"
	"time"

	"verity/internal/evidence/sources"
)

// Severity grades a detected change.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is as severe as threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return severityRank[s] >= severityRank[threshold]
}

// ParseSeverity validates a configured severity name.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(v)
	if _, ok := severityRank[s]; !ok {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

// ChangeType classifies what differed between two snapshots.
type ChangeType string

const (
	ChangeStatus         ChangeType = "status_change"
	ChangeConfidence     ChangeType = "confidence_change"
	ChangeNewService     ChangeType = "new_service"
	ChangeDomainSpecific ChangeType = "domain_specific"
)

// Snapshot is the set of results observed for an entity in one run. A newer
// snapshot supersedes the previous one; snapshots are never deleted.
type Snapshot struct {
	EntityID string           `json:"entity_id"`
	Results  []sources.Result `json:"results"`
	TakenAt  time.Time        `json:"taken_at"`
}

// Result returns the entry for service, if present.
func (s Snapshot) Result(service string) (sources.Result, bool) {
	for _, r := range s.Results {
		if r.ServiceName == service {
			return r, true
		}
	}
	return sources.Result{}, false
}

// Change is one detected difference.
type Change struct {
	ServiceName string     `json:"service_name"`
	Type        ChangeType `json:"type"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	OldValue    any        `json:"old_value,omitempty"`
	NewValue    any        `json:"new_value,omitempty"`
}

// Alert is created for changes at or above the alert threshold.
type Alert struct {
	ID        string     `json:"id"`
	EntityID  string     `json:"entity_id"`
	Change    Change     `json:"change"`
	Severity  Severity   `json:"severity"`
	Message   string     `json:"message"`
	IsSent    bool       `json:"is_sent"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// Entity is a counterparty enrolled for monitoring.
type Entity struct {
	ID               string          `json:"id"`
	Subject          sources.Subject `json:"subject"`
	Sources          []string        `json:"sources,omitempty"`
	MonitoringActive bool            `json:"monitoring_active"`
}

// EntityError records why one entity failed within a cycle.
type EntityError struct {
	EntityID string `json:"entity_id"`
	Message  string `json:"message"`
}

// CycleSummary reports one monitoring cycle.
type CycleSummary struct {
	CycleID         string        `json:"cycle_id"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	EntitiesChecked int           `json:"entities_checked"`
	ChangesDetected int           `json:"changes_detected"`
	AlertsCreated   int           `json:"alerts_created"`
	AlertsSent      int           `json:"alerts_sent"`
	Errors          []EntityError `json:"errors"`
}

var (
	// ErrCycleInProgress rejects a cycle started while another is running.
	ErrCycleInProgress = errors.New("monitoring cycle already in progress")
)
