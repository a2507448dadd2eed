// Package bizregistry looks companies up in a national business registry.
package bizregistry

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"verity/internal/evidence/sources"
	"verity/internal/evidence/sources/httpx"
)

const (
	confidenceActive  = 0.9
	confidencePartial = 0.65
	confidenceClosed  = 0.8
	confidenceOther   = 0.5
)

var (
	countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)
	numberPattern  = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)
)

// StatusActive is the only company_status considered in good standing.
const StatusActive = "active"

var closedStatuses = map[string]bool{
	"dissolved":   true,
	"liquidation": true,
	"struck_off":  true,
}

type officer struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type companyResponse struct {
	CompanyName        string    `json:"company_name"`
	Status             string    `json:"status"`
	RegistrationNumber string    `json:"registration_number"`
	Address            string    `json:"address"`
	IncorporatedOn     string    `json:"incorporated_on"`
	Officers           []officer `json:"officers"`
}

// Source queries GET /companies/{country}/{vat}.
type Source struct {
	client *httpx.Client
	now    func() time.Time
}

func New(baseURL, apiKey string, opts ...httpx.Option) *Source {
	opts = append(opts, httpx.WithHeader("X-Api-Key", apiKey))
	return &Source{
		client: httpx.New(sources.NameBizRegistry, baseURL, opts...),
		now:    time.Now,
	}
}

func (s *Source) Name() string { return sources.NameBizRegistry }

func (s *Source) Key(subject sources.Subject) (string, error) {
	n := subject.Normalize()
	if !countryPattern.MatchString(n.CountryCode) {
		return "", sources.NewFormat(sources.NameBizRegistry, "country code must be two letters")
	}
	if !numberPattern.MatchString(n.VATNumber) {
		return "", sources.NewFormat(sources.NameBizRegistry, "registry lookup needs an alphanumeric vat number")
	}
	return n.CountryCode + ":" + n.VATNumber, nil
}

func (s *Source) Fetch(ctx context.Context, subject sources.Subject) (sources.Result, error) {
	n := subject.Normalize()
	path := fmt.Sprintf("/companies/%s/%s", url.PathEscape(n.CountryCode), url.PathEscape(n.VATNumber))

	var resp companyResponse
	if err := s.client.GetJSON(ctx, path, nil, &resp); err != nil {
		return sources.Result{}, err
	}
	status := strings.ToLower(strings.TrimSpace(resp.Status))
	if status == "" {
		return sources.Result{}, sources.NewPermanent(sources.ErrorBadData, sources.NameBizRegistry, "record has no status", nil)
	}

	result := sources.Result{
		ServiceName: sources.NameBizRegistry,
		Payload: map[string]any{
			"company_name":        resp.CompanyName,
			"company_status":      status,
			"registration_number": resp.RegistrationNumber,
			"address":             resp.Address,
			"incorporated_on":     resp.IncorporatedOn,
			"officer_count":       len(resp.Officers),
		},
		ObservedAt: s.now(),
	}
	switch {
	case status == StatusActive && len(resp.Officers) > 0 && resp.Address != "":
		result.Status, result.Confidence = sources.StatusValid, confidenceActive
	case status == StatusActive:
		result.Status, result.Confidence = sources.StatusValid, confidencePartial
	case closedStatuses[status]:
		result.Status, result.Confidence = sources.StatusError, confidenceClosed
		result.ErrorMessage = "company is " + status
	default:
		result.Status, result.Confidence = sources.StatusWarning, confidenceOther
		result.ErrorMessage = "company status " + status
	}
	return result, nil
}
