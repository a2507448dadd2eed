package monitoring

import (
	"encoding/json"
	"fmt"
	"math"

	"verity/internal/evidence/sources"
)

// PayloadComparator reports source-specific differences between two results
// of the same service.
type PayloadComparator func(previous, current sources.Result) []Change

// DetectorConfig holds the thresholds of the change rules.
type DetectorConfig struct {
	// ConfidenceDelta is the absolute confidence movement that counts as a
	// change; HighConfidenceDelta escalates it to high severity.
	ConfidenceDelta     float64
	HighConfidenceDelta float64
	Comparators         map[string]PayloadComparator
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ConfidenceDelta:     0.2,
		HighConfidenceDelta: 0.5,
		Comparators: map[string]PayloadComparator{
			sources.NameSanctions:   CompareSanctions,
			sources.NameVIES:        CompareVIES,
			sources.NameBizRegistry: CompareBizRegistry,
		},
	}
}

// Detector diffs consecutive snapshots. It is deterministic and ignores
// timestamps.
type Detector struct {
	cfg DetectorConfig
}

func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect returns the changes from previous to current, in the order of
// current's results. A nil previous snapshot is a cold start and yields none.
func (d *Detector) Detect(previous *Snapshot, current Snapshot) []Change {
	changes := []Change{}
	if previous == nil {
		return changes
	}

	for _, cur := range current.Results {
		old, ok := previous.Result(cur.ServiceName)
		if !ok {
			changes = append(changes, Change{
				ServiceName: cur.ServiceName,
				Type:        ChangeNewService,
				Severity:    SeverityMedium,
				Description: fmt.Sprintf("%s reported for the first time with status %s", cur.ServiceName, cur.Status),
				NewValue:    string(cur.Status),
			})
			continue
		}

		if old.Status != cur.Status {
			changes = append(changes, Change{
				ServiceName: cur.ServiceName,
				Type:        ChangeStatus,
				Severity:    statusSeverity(cur.ServiceName, old.Status, cur.Status),
				Description: statusDescription(old, cur),
				OldValue:    string(old.Status),
				NewValue:    string(cur.Status),
			})
		} else if delta := math.Abs(cur.Confidence - old.Confidence); delta > d.cfg.ConfidenceDelta {
			severity := SeverityMedium
			if delta > d.cfg.HighConfidenceDelta {
				severity = SeverityHigh
			}
			changes = append(changes, Change{
				ServiceName: cur.ServiceName,
				Type:        ChangeConfidence,
				Severity:    severity,
				Description: fmt.Sprintf("%s confidence moved from %.2f to %.2f", cur.ServiceName, old.Confidence, cur.Confidence),
				OldValue:    old.Confidence,
				NewValue:    cur.Confidence,
			})
		}

		if cmp, ok := d.cfg.Comparators[cur.ServiceName]; ok {
			changes = append(changes, cmp(old, cur)...)
		}
	}
	return changes
}

// statusDescription names the failure category when the new status comes
// from a failed lookup rather than an upstream answer.
func statusDescription(old, cur sources.Result) string {
	desc := fmt.Sprintf("%s status changed from %s to %s", cur.ServiceName, old.Status, cur.Status)
	if category, _ := cur.Payload["error_category"].(string); category != "" && cur.Status == sources.StatusError {
		desc += fmt.Sprintf(" (lookup failed: %s)", category)
	}
	return desc
}

func statusSeverity(service string, from, to sources.Status) Severity {
	switch {
	case service == sources.NameSanctions && to == sources.StatusError:
		return SeverityCritical
	case from == sources.StatusValid && to == sources.StatusError,
		from == sources.StatusError && to == sources.StatusValid:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// CompareSanctions flags movement in the number of list matches. New matches
// are critical; disappearing ones are high.
func CompareSanctions(previous, current sources.Result) []Change {
	oldCount, ok1 := number(previous.Payload, "match_count")
	newCount, ok2 := number(current.Payload, "match_count")
	if !ok1 || !ok2 || oldCount == newCount {
		return nil
	}
	severity := SeverityHigh
	desc := fmt.Sprintf("sanctions matches decreased from %d to %d", int(oldCount), int(newCount))
	if newCount > oldCount {
		severity = SeverityCritical
		desc = fmt.Sprintf("sanctions matches increased from %d to %d", int(oldCount), int(newCount))
	}
	return []Change{{
		ServiceName: current.ServiceName,
		Type:        ChangeDomainSpecific,
		Severity:    severity,
		Description: desc,
		OldValue:    int(oldCount),
		NewValue:    int(newCount),
	}}
}

// CompareVIES flags a change of the registered trader name or address.
func CompareVIES(previous, current sources.Result) []Change {
	var changes []Change
	for _, field := range []string{"name", "address"} {
		oldV, _ := previous.Payload[field].(string)
		newV, _ := current.Payload[field].(string)
		if oldV == "" || newV == "" || oldV == newV {
			continue
		}
		changes = append(changes, Change{
			ServiceName: current.ServiceName,
			Type:        ChangeDomainSpecific,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("registered %s changed", field),
			OldValue:    oldV,
			NewValue:    newV,
		})
	}
	return changes
}

// CompareBizRegistry flags a change of the company's legal status. Leaving
// active standing is high; any other transition is medium.
func CompareBizRegistry(previous, current sources.Result) []Change {
	oldV, _ := previous.Payload["company_status"].(string)
	newV, _ := current.Payload["company_status"].(string)
	if oldV == "" || newV == "" || oldV == newV {
		return nil
	}
	severity := SeverityMedium
	if newV != "active" {
		severity = SeverityHigh
	}
	return []Change{{
		ServiceName: current.ServiceName,
		Type:        ChangeDomainSpecific,
		Severity:    severity,
		Description: fmt.Sprintf("company status changed from %s to %s", oldV, newV),
		OldValue:    oldV,
		NewValue:    newV,
	}}
}

// number reads a numeric payload field regardless of how it was decoded.
func number(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
