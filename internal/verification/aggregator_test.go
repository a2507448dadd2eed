package verification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"verity/internal/evidence/sources"
)

type AggregatorSuite struct {
	suite.Suite
	agg *Aggregator
}

func TestAggregatorSuite(t *testing.T) {
	suite.Run(t, new(AggregatorSuite))
}

func (s *AggregatorSuite) SetupTest() {
	fixed := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	s.agg = NewAggregator(DefaultAggregatorConfig(), WithAggregatorClock(func() time.Time { return fixed }))
}

func res(service string, status sources.Status, confidence float64) sources.Result {
	return sources.Result{ServiceName: service, Status: status, Confidence: confidence}
}

func (s *AggregatorSuite) TestEmptyInput() {
	v := s.agg.Aggregate(nil)
	s.Equal(sources.StatusWarning, v.OverallStatus)
	s.Equal(0.5, v.Confidence)
	s.Equal(RuleEmpty, v.Rule)
	s.NotEmpty(v.ID)
}

func (s *AggregatorSuite) TestSanctionsOverride() {
	s.Run("a hit beats every valid source", func() {
		v := s.agg.Aggregate([]sources.Result{
			res(sources.NameVIES, sources.StatusValid, 0.95),
			res(sources.NameBizRegistry, sources.StatusValid, 0.9),
			res(sources.NameSanctions, sources.StatusError, 0.97),
		})
		s.Equal(sources.StatusError, v.OverallStatus)
		s.Equal(0.97, v.Confidence)
		s.Equal(RuleSanctionsHit, v.Rule)
	})

	s.Run("several hits take the strongest", func() {
		v := s.agg.Aggregate([]sources.Result{
			res(sources.NameSanctions, sources.StatusError, 0.88),
			res(sources.NameSanctions, sources.StatusError, 0.93),
		})
		s.Equal(sources.StatusError, v.OverallStatus)
		s.Equal(0.93, v.Confidence)
	})
}

func (s *AggregatorSuite) TestPrimaryFailure() {
	s.Run("with another source present", func() {
		v := s.agg.Aggregate([]sources.Result{
			res(sources.NameVIES, sources.StatusError, 0),
			res(sources.NameSanctions, sources.StatusValid, 0.9),
		})
		s.Equal(sources.StatusError, v.OverallStatus)
		s.Equal(0.8, v.Confidence)
		s.Equal(RulePrimaryFailure, v.Rule)
	})

	s.Run("alone falls through to the weighted rule", func() {
		v := s.agg.Aggregate([]sources.Result{res(sources.NameVIES, sources.StatusError, 0)})
		s.Equal(sources.StatusWarning, v.OverallStatus)
		s.Equal(0.0, v.Confidence)
		s.Equal(RuleWeighted, v.Rule)
	})
}

func (s *AggregatorSuite) TestDegraded() {
	s.Run("two warnings", func() {
		v := s.agg.Aggregate([]sources.Result{
			res(sources.NameVIES, sources.StatusWarning, 0.3),
			res(sources.NameBizRegistry, sources.StatusWarning, 0.5),
			res(sources.NameSanctions, sources.StatusValid, 0.9),
		})
		s.Equal(sources.StatusWarning, v.OverallStatus)
		s.InDelta((0.3+0.5+0.9)/3*0.7, v.Confidence, 1e-9)
		s.Equal(RuleDegraded, v.Rule)
	})

	s.Run("warning plus non-sanctions error", func() {
		v := s.agg.Aggregate([]sources.Result{
			res(sources.NameVIES, sources.StatusWarning, 0.3),
			res(sources.NameBizRegistry, sources.StatusError, 0.8),
		})
		s.Equal(sources.StatusWarning, v.OverallStatus)
		s.InDelta(0.55*0.7, v.Confidence, 1e-9)
	})

	s.Run("confidence floor", func() {
		v := s.agg.Aggregate([]sources.Result{
			res(sources.NameVIES, sources.StatusWarning, 0.3),
			res(sources.NameBizRegistry, sources.StatusWarning, 0.3),
		})
		s.Equal(0.3, v.Confidence)
	})
}

func (s *AggregatorSuite) TestWeighted() {
	s.Run("valid with one warning", func() {
		v := s.agg.Aggregate([]sources.Result{
			res(sources.NameVIES, sources.StatusValid, 0.9),
			res(sources.NameSanctions, sources.StatusValid, 0.9),
			res(sources.NameBizRegistry, sources.StatusWarning, 0.6),
		})
		s.Equal(sources.StatusValid, v.OverallStatus)
		s.InDelta(0.83, v.Confidence, 1e-9)
		s.Equal(RuleWeighted, v.Rule)
	})

	s.Run("an auxiliary error degrades to warning", func() {
		v := s.agg.Aggregate([]sources.Result{
			res(sources.NameVIES, sources.StatusValid, 0.95),
			res(sources.NameBizRegistry, sources.StatusError, 0.8),
		})
		s.Equal(sources.StatusWarning, v.OverallStatus)
		s.InDelta((0.4*0.95+0.15*0.8*0.3)/0.55*0.8, v.Confidence, 1e-9)
	})

	s.Run("unknown sources use the default weight", func() {
		v := s.agg.Aggregate([]sources.Result{
			res(sources.NameVIES, sources.StatusValid, 1.0),
			res("credit_bureau", sources.StatusValid, 0.5),
		})
		s.InDelta((0.4*1.0+0.1*0.5)/0.5, v.Confidence, 1e-9)
	})
}

func (s *AggregatorSuite) TestOrderIndependenceAndIdempotence() {
	inputs := []sources.Result{
		res(sources.NameVIES, sources.StatusValid, 0.95),
		res(sources.NameSanctions, sources.StatusValid, 0.9),
		res(sources.NameBizRegistry, sources.StatusWarning, 0.65),
		res("credit_bureau", sources.StatusValid, 0.7),
	}
	want := s.agg.Aggregate(inputs)

	perms := [][]int{{3, 2, 1, 0}, {1, 3, 0, 2}, {2, 0, 3, 1}}
	for _, p := range perms {
		shuffled := make([]sources.Result, len(inputs))
		for i, idx := range p {
			shuffled[i] = inputs[idx]
		}
		got := s.agg.Aggregate(shuffled)
		s.Equal(want.OverallStatus, got.OverallStatus)
		s.Equal(want.Confidence, got.Confidence)
		s.Equal(want.ContributingResults, got.ContributingResults)
	}

	again := s.agg.Aggregate(inputs)
	s.Equal(want.OverallStatus, again.OverallStatus)
	s.Equal(want.Confidence, again.Confidence)
	s.Equal(want.Rule, again.Rule)
}

func (s *AggregatorSuite) TestInputIsNotMutated() {
	inputs := []sources.Result{
		{ServiceName: sources.NameVIES, Status: sources.StatusValid, Confidence: 0.9, Payload: map[string]any{"name": "ACME"}},
		res(sources.NameBizRegistry, sources.StatusValid, 0.9),
	}
	v := s.agg.Aggregate(inputs)
	v.ContributingResults[1].Payload["name"] = "changed"
	s.Equal(sources.NameVIES, inputs[0].ServiceName)
	s.Equal("ACME", inputs[0].Payload["name"])
}
