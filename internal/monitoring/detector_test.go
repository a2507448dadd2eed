package monitoring

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"verity/internal/evidence/sources"
)

type DetectorSuite struct {
	suite.Suite
	detector *Detector
}

func TestDetectorSuite(t *testing.T) {
	suite.Run(t, new(DetectorSuite))
}

func (s *DetectorSuite) SetupTest() {
	s.detector = NewDetector(DefaultDetectorConfig())
}

func snap(results ...sources.Result) Snapshot {
	return Snapshot{EntityID: "ent-1", Results: results}
}

func r(service string, status sources.Status, confidence float64, payload map[string]any) sources.Result {
	return sources.Result{ServiceName: service, Status: status, Confidence: confidence, Payload: payload}
}

func (s *DetectorSuite) TestColdStart() {
	changes := s.detector.Detect(nil, snap(r(sources.NameVIES, sources.StatusValid, 0.95, nil)))
	s.NotNil(changes)
	s.Empty(changes)
}

func (s *DetectorSuite) TestNoChange() {
	prev := snap(r(sources.NameVIES, sources.StatusValid, 0.95, map[string]any{"name": "ACME"}))
	cur := snap(r(sources.NameVIES, sources.StatusValid, 0.9, map[string]any{"name": "ACME"}))
	s.Empty(s.detector.Detect(&prev, cur))
}

func (s *DetectorSuite) TestStatusFlip() {
	prev := snap(r(sources.NameVIES, sources.StatusValid, 0.95, map[string]any{"name": "ACME", "address": "Main 1"}))
	cur := snap(r(sources.NameVIES, sources.StatusError, 0, map[string]any{"error_category": "timeout"}))

	changes := s.detector.Detect(&prev, cur)
	s.Require().Len(changes, 1)
	s.Equal(ChangeStatus, changes[0].Type)
	s.Equal(SeverityHigh, changes[0].Severity)
	s.Equal("valid", changes[0].OldValue)
	s.Equal("error", changes[0].NewValue)
}

func (s *DetectorSuite) TestSanctionsOutageIsDistinguishableFromHit() {
	prev := snap(r(sources.NameSanctions, sources.StatusValid, 0.9, map[string]any{"match_count": 0}))

	outage := snap(r(sources.NameSanctions, sources.StatusError, 0, map[string]any{"error_category": "provider_outage"}))
	changes := s.detector.Detect(&prev, outage)
	s.Require().Len(changes, 1)
	s.Equal(SeverityCritical, changes[0].Severity)
	s.Contains(changes[0].Description, "lookup failed: provider_outage")

	hit := snap(r(sources.NameSanctions, sources.StatusError, 0.95, map[string]any{"match_count": 2}))
	changes = s.detector.Detect(&prev, hit)
	s.Require().NotEmpty(changes)
	s.Equal(ChangeStatus, changes[0].Type)
	s.NotContains(changes[0].Description, "lookup failed")
}

func (s *DetectorSuite) TestStatusSeverities() {
	tests := []struct {
		name     string
		service  string
		from, to sources.Status
		want     Severity
	}{
		{"sanctions hit", sources.NameSanctions, sources.StatusValid, sources.StatusError, SeverityCritical},
		{"sanctions warning to error", sources.NameSanctions, sources.StatusWarning, sources.StatusError, SeverityCritical},
		{"recovery", sources.NameVIES, sources.StatusError, sources.StatusValid, SeverityHigh},
		{"valid to warning", sources.NameVIES, sources.StatusValid, sources.StatusWarning, SeverityMedium},
		{"warning to error", sources.NameBizRegistry, sources.StatusWarning, sources.StatusError, SeverityMedium},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			prev := snap(r(tt.service, tt.from, 0.5, nil))
			cur := snap(r(tt.service, tt.to, 0.5, nil))
			changes := s.detector.Detect(&prev, cur)
			s.Require().Len(changes, 1)
			s.Equal(tt.want, changes[0].Severity)
		})
	}
}

func (s *DetectorSuite) TestConfidenceDelta() {
	s.Run("medium above 0.2", func() {
		prev := snap(r(sources.NameBizRegistry, sources.StatusValid, 0.9, nil))
		cur := snap(r(sources.NameBizRegistry, sources.StatusValid, 0.65, nil))
		changes := s.detector.Detect(&prev, cur)
		s.Require().Len(changes, 1)
		s.Equal(ChangeConfidence, changes[0].Type)
		s.Equal(SeverityMedium, changes[0].Severity)
	})

	s.Run("high above 0.5", func() {
		prev := snap(r("credit_bureau", sources.StatusValid, 0.95, nil))
		cur := snap(r("credit_bureau", sources.StatusValid, 0.4, nil))
		changes := s.detector.Detect(&prev, cur)
		s.Require().Len(changes, 1)
		s.Equal(SeverityHigh, changes[0].Severity)
	})

	s.Run("small movement is ignored", func() {
		prev := snap(r("credit_bureau", sources.StatusValid, 0.5, nil))
		cur := snap(r("credit_bureau", sources.StatusValid, 0.625, nil))
		s.Empty(s.detector.Detect(&prev, cur))
	})
}

func (s *DetectorSuite) TestNewService() {
	prev := snap(r(sources.NameVIES, sources.StatusValid, 0.95, nil))
	cur := snap(
		r(sources.NameBizRegistry, sources.StatusValid, 0.9, nil),
		r(sources.NameVIES, sources.StatusValid, 0.95, nil),
	)
	changes := s.detector.Detect(&prev, cur)
	s.Require().Len(changes, 1)
	s.Equal(ChangeNewService, changes[0].Type)
	s.Equal(SeverityMedium, changes[0].Severity)
	s.Equal(sources.NameBizRegistry, changes[0].ServiceName)
}

func (s *DetectorSuite) TestSanctionsMatchCount() {
	s.Run("increase is critical", func() {
		prev := snap(r(sources.NameSanctions, sources.StatusWarning, 0.5, map[string]any{"match_count": 1}))
		cur := snap(r(sources.NameSanctions, sources.StatusWarning, 0.5, map[string]any{"match_count": float64(3)}))
		changes := s.detector.Detect(&prev, cur)
		s.Require().Len(changes, 1)
		s.Equal(ChangeDomainSpecific, changes[0].Type)
		s.Equal(SeverityCritical, changes[0].Severity)
		s.Equal(1, changes[0].OldValue)
		s.Equal(3, changes[0].NewValue)
	})

	s.Run("decrease is high", func() {
		prev := snap(r(sources.NameSanctions, sources.StatusWarning, 0.5, map[string]any{"match_count": json.Number("2")}))
		cur := snap(r(sources.NameSanctions, sources.StatusWarning, 0.5, map[string]any{"match_count": int64(1)}))
		changes := s.detector.Detect(&prev, cur)
		s.Require().Len(changes, 1)
		s.Equal(SeverityHigh, changes[0].Severity)
	})
}

func (s *DetectorSuite) TestRegistryAndVIESComparators() {
	prev := snap(
		r(sources.NameVIES, sources.StatusValid, 0.95, map[string]any{"name": "ACME GMBH", "address": "MAIN 1"}),
		r(sources.NameBizRegistry, sources.StatusValid, 0.9, map[string]any{"company_status": "active"}),
	)
	cur := snap(
		r(sources.NameVIES, sources.StatusValid, 0.95, map[string]any{"name": "ACME HOLDING GMBH", "address": "MAIN 1"}),
		r(sources.NameBizRegistry, sources.StatusValid, 0.9, map[string]any{"company_status": "liquidation"}),
	)
	changes := s.detector.Detect(&prev, cur)
	s.Require().Len(changes, 2)
	s.Equal(sources.NameVIES, changes[0].ServiceName)
	s.Equal(SeverityMedium, changes[0].Severity)
	s.Equal(sources.NameBizRegistry, changes[1].ServiceName)
	s.Equal(SeverityHigh, changes[1].Severity)
}

func (s *DetectorSuite) TestOutputFollowsCurrentOrder() {
	prev := snap(
		r(sources.NameVIES, sources.StatusValid, 0.95, nil),
		r(sources.NameSanctions, sources.StatusValid, 0.9, nil),
	)
	cur := snap(
		r(sources.NameSanctions, sources.StatusError, 0.97, nil),
		r(sources.NameVIES, sources.StatusWarning, 0.3, nil),
	)
	changes := s.detector.Detect(&prev, cur)
	s.Require().Len(changes, 2)
	s.Equal(sources.NameSanctions, changes[0].ServiceName)
	s.Equal(SeverityCritical, changes[0].Severity)
	s.Equal(sources.NameVIES, changes[1].ServiceName)
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))

	sev, err := ParseSeverity("critical")
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, sev)
	_, err = ParseSeverity("urgent")
	assert.Error(t, err)
}
