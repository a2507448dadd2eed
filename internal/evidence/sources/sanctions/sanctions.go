// Package sanctions screens counterparties against a sanctions matching API.
package sanctions

import (
	"context"
	"sort"
	"strings"
	"time"

	"verity/internal/evidence/sources"
	"verity/internal/evidence/sources/httpx"
)

const (
	// DefaultMatchThreshold is the score at which a candidate counts as a hit.
	DefaultMatchThreshold = 0.85

	confidenceClear = 0.9
	confidenceWeak  = 0.5

	queryID = "subject"
)

type matchQuery struct {
	Schema     string              `json:"schema"`
	Properties map[string][]string `json:"properties"`
}

type matchRequest struct {
	Queries map[string]matchQuery `json:"queries"`
}

type candidate struct {
	ID       string   `json:"id"`
	Caption  string   `json:"caption"`
	Score    float64  `json:"score"`
	Datasets []string `json:"datasets"`
}

type matchResponse struct {
	Responses map[string]struct {
		Results []candidate `json:"results"`
	} `json:"responses"`
}

// Source posts a company query to /match/default.
type Source struct {
	client    *httpx.Client
	threshold float64
	now       func() time.Time
}

// New creates the sanctions source. A non-positive threshold selects
// DefaultMatchThreshold.
func New(baseURL, apiKey string, threshold float64, opts ...httpx.Option) *Source {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	if apiKey != "" {
		opts = append(opts, httpx.WithHeader("Authorization", "ApiKey "+apiKey))
	}
	return &Source{
		client:    httpx.New(sources.NameSanctions, baseURL, opts...),
		threshold: threshold,
		now:       time.Now,
	}
}

func (s *Source) Name() string { return sources.NameSanctions }

// Key requires a company name or a VAT number to screen.
func (s *Source) Key(subject sources.Subject) (string, error) {
	n := subject.Normalize()
	if n.CompanyName == "" && n.VATNumber == "" {
		return "", sources.NewFormat(sources.NameSanctions, "company name or vat number is required")
	}
	return n.CountryCode + ":" + n.VATNumber + ":" + strings.ToLower(n.CompanyName), nil
}

func (s *Source) Fetch(ctx context.Context, subject sources.Subject) (sources.Result, error) {
	n := subject.Normalize()
	props := map[string][]string{}
	if n.CompanyName != "" {
		props["name"] = []string{n.CompanyName}
	}
	if n.CountryCode != "" {
		props["jurisdiction"] = []string{strings.ToLower(n.CountryCode)}
	}
	if n.VATNumber != "" {
		props["vatCode"] = []string{n.CountryCode + n.VATNumber}
	}
	req := matchRequest{Queries: map[string]matchQuery{
		queryID: {Schema: "Company", Properties: props},
	}}

	var resp matchResponse
	if err := s.client.PostJSON(ctx, "/match/default", req, &resp); err != nil {
		return sources.Result{}, err
	}
	answer, ok := resp.Responses[queryID]
	if !ok {
		return sources.Result{}, sources.NewPermanent(sources.ErrorContractMismatch, sources.NameSanctions, "response missing query result", nil)
	}

	candidates := answer.Results
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	matches := make([]any, 0, len(candidates))
	topScore := 0.0
	for _, c := range candidates {
		topScore = max(topScore, c.Score)
		matches = append(matches, map[string]any{
			"id":      c.ID,
			"caption": c.Caption,
			"score":   c.Score,
		})
	}

	result := sources.Result{
		ServiceName: sources.NameSanctions,
		Payload: map[string]any{
			"match_count": len(candidates),
			"top_score":   topScore,
			"matches":     matches,
			"threshold":   s.threshold,
		},
		ObservedAt: s.now(),
	}
	switch {
	case len(candidates) == 0:
		result.Status, result.Confidence = sources.StatusValid, confidenceClear
	case topScore >= s.threshold:
		result.Status, result.Confidence = sources.StatusError, topScore
		result.ErrorMessage = "sanctions list match: " + candidates[0].Caption
	default:
		result.Status, result.Confidence = sources.StatusWarning, confidenceWeak
		result.ErrorMessage = "possible sanctions list match below threshold"
	}
	return result, nil
}
