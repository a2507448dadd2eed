package verification

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"verity/internal/evidence/sources"
)

// Weights assigns the relative trust of each source. Sources not listed use
// Default.
type Weights struct {
	BySource map[string]float64
	Default  float64
}

// DefaultWeights favours the identity registry and the sanctions screen over
// auxiliary sources.
func DefaultWeights() Weights {
	return Weights{
		BySource: map[string]float64{
			sources.NameVIES:        0.40,
			sources.NameSanctions:   0.35,
			sources.NameBizRegistry: 0.15,
		},
		Default: 0.10,
	}
}

func (w Weights) For(service string) float64 {
	if v, ok := w.BySource[service]; ok {
		return v
	}
	return w.Default
}

// AggregatorConfig holds the tunable constants of the rule chain.
type AggregatorConfig struct {
	Weights Weights
	// PrimarySource is the identity source whose failure alone condemns the
	// verdict when other sources answered.
	PrimarySource string

	EmptyConfidence          float64
	PrimaryFailureConfidence float64
	WarningCountThreshold    int
	DegradedFactor           float64
	DegradedFloor            float64
	MixedFactor              float64
	StatusMultipliers        map[sources.Status]float64
}

func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Weights:                  DefaultWeights(),
		PrimarySource:            sources.NameVIES,
		EmptyConfidence:          0.5,
		PrimaryFailureConfidence: 0.8,
		WarningCountThreshold:    2,
		DegradedFactor:           0.7,
		DegradedFloor:            0.3,
		MixedFactor:              0.8,
		StatusMultipliers: map[sources.Status]float64{
			sources.StatusValid:   1.0,
			sources.StatusWarning: 0.8,
			sources.StatusError:   0.3,
		},
	}
}

// Aggregator combines source results into a verdict. The overall status and
// confidence depend only on the multiset of inputs.
type Aggregator struct {
	cfg   AggregatorConfig
	now   func() time.Time
	newID func() string
}

type AggregatorOption func(*Aggregator)

func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAggregator(cfg AggregatorConfig, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate applies the rule chain; the first matching rule wins:
//  1. no results: warning
//  2. any sanctions error: error at the strongest hit's confidence
//  3. primary source error with other sources present: error
//  4. two or more warnings, or a warning plus a non-sanctions error: warning
//  5. otherwise a weighted confidence, valid only when nothing is wrong
func (a *Aggregator) Aggregate(results []sources.Result) AggregatedVerdict {
	sorted := sortedCopy(results)
	status, confidence, rule := a.decide(sorted)
	return AggregatedVerdict{
		ID:                  a.newID(),
		OverallStatus:       status,
		Confidence:          clamp(confidence),
		ContributingResults: sorted,
		Rule:                rule,
		ComputedAt:          a.now(),
	}
}

func (a *Aggregator) decide(results []sources.Result) (sources.Status, float64, Rule) {
	cfg := a.cfg
	if len(results) == 0 {
		return sources.StatusWarning, cfg.EmptyConfidence, RuleEmpty
	}

	sanctionsHit, hitConfidence := false, 0.0
	primaryFailed, others := false, 0
	warnings, errs := 0, 0
	for _, r := range results {
		if r.ServiceName == sources.NameSanctions && r.Status == sources.StatusError {
			sanctionsHit = true
			hitConfidence = math.Max(hitConfidence, r.Confidence)
		}
		if r.ServiceName == cfg.PrimarySource {
			if r.Status == sources.StatusError {
				primaryFailed = true
			}
		} else {
			others++
		}
		switch r.Status {
		case sources.StatusWarning:
			warnings++
		case sources.StatusError:
			if r.ServiceName != sources.NameSanctions {
				errs++
			}
		}
	}

	if sanctionsHit {
		return sources.StatusError, hitConfidence, RuleSanctionsHit
	}
	if primaryFailed && others > 0 {
		return sources.StatusError, cfg.PrimaryFailureConfidence, RulePrimaryFailure
	}
	if warnings >= cfg.WarningCountThreshold || (warnings >= 1 && errs >= 1) {
		sum := 0.0
		for _, r := range results {
			sum += r.Confidence
		}
		avg := sum / float64(len(results))
		return sources.StatusWarning, math.Max(cfg.DegradedFloor, avg*cfg.DegradedFactor), RuleDegraded
	}

	weighted := a.weightedConfidence(results)
	if errs == 0 && warnings <= 1 {
		return sources.StatusValid, weighted, RuleWeighted
	}
	return sources.StatusWarning, weighted * cfg.MixedFactor, RuleWeighted
}

func (a *Aggregator) weightedConfidence(results []sources.Result) float64 {
	var num, den float64
	for _, r := range results {
		w := a.cfg.Weights.For(r.ServiceName)
		mult, ok := a.cfg.StatusMultipliers[r.Status]
		if !ok {
			mult = a.cfg.StatusMultipliers[sources.StatusError]
		}
		num += w * r.Confidence * mult
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// sortedCopy orders results by (service, status, confidence) so floating
// point sums do not depend on arrival order.
func sortedCopy(results []sources.Result) []sources.Result {
	out := make([]sources.Result, len(results))
	for i, r := range results {
		out[i] = r.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ServiceName != out[j].ServiceName {
			return out[i].ServiceName < out[j].ServiceName
		}
		if out[i].Status != out[j].Status {
			return out[i].Status.Rank() < out[j].Status.Rank()
		}
		return out[i].Confidence < out[j].Confidence
	})
	return out
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
