// Package vies checks EU VAT numbers against the VIES REST API.
package vies

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
	confidenceFull    = 0.95
	confidencePartial = 0.6
	confidenceInvalid = 0.3
)

var (
	countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)
	vatPattern     = regexp.MustCompile(`^[A-Z0-9]{2,12}$`)
)

// userError values that mean the member state backend was busy.
var transientUserErrors = map[string]bool{
	"MS_UNAVAILABLE":            true,
	"TIMEOUT":                   true,
	"SERVER_BUSY":               true,
	"MS_MAX_CONCURRENT_REQ":     true,
	"GLOBAL_MAX_CONCURRENT_REQ": true,
	"SERVICE_UNAVAILABLE":       true,
}

type checkResponse struct {
	IsValid     bool   `json:"isValid"`
	RequestDate string `json:"requestDate"`
	UserError   string `json:"userError"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	VATNumber   string `json:"vatNumber"`
}

// Source queries GET /ms/{country}/vat/{number}.
type Source struct {
	client *httpx.Client
	now    func() time.Time
}

// New creates the VIES source rooted at baseURL.
func New(baseURL string, opts ...httpx.Option) *Source {
	return &Source{
		client: httpx.New(sources.NameVIES, baseURL, opts...),
		now:    time.Now,
	}
}

func (s *Source) Name() string { return sources.NameVIES }

// Key returns "{country}:{vat}" after normalization.
func (s *Source) Key(subject sources.Subject) (string, error) {
	n := subject.Normalize()
	if !countryPattern.MatchString(n.CountryCode) {
		return "", sources.NewFormat(sources.NameVIES, "country code must be two letters")
	}
	if !vatPattern.MatchString(n.VATNumber) {
		return "", sources.NewFormat(sources.NameVIES, "vat number must be 2-12 alphanumeric characters")
	}
	return n.CountryCode + ":" + n.VATNumber, nil
}

func (s *Source) Fetch(ctx context.Context, subject sources.Subject) (sources.Result, error) {
	n := subject.Normalize()
	path := fmt.Sprintf("/ms/%s/vat/%s", url.PathEscape(n.CountryCode), url.PathEscape(n.VATNumber))

	var resp checkResponse
	if err := s.client.GetJSON(ctx, path, nil, &resp); err != nil {
		return sources.Result{}, err
	}

	if code := strings.ToUpper(resp.UserError); code != "" && code != "VALID" && code != "INVALID" {
		if transientUserErrors[code] {
			return sources.Result{}, sources.NewTransient(sources.ErrorProviderOutage, sources.NameVIES, "member state service: "+code, nil)
		}
		if code == "INVALID_INPUT" {
			return sources.Result{}, sources.NewPermanent(sources.ErrorInvalidInput, sources.NameVIES, "upstream rejected input", nil)
		}
		return sources.Result{}, sources.NewPermanent(sources.ErrorContractMismatch, sources.NameVIES, "unexpected userError "+code, nil)
	}

	name := cleanField(resp.Name)
	address := cleanField(resp.Address)
	payload := map[string]any{
		"valid":        resp.IsValid,
		"country_code": n.CountryCode,
		"vat_number":   n.VATNumber,
		"name":         name,
		"address":      address,
	}
	if resp.RequestDate != "" {
		payload["request_date"] = resp.RequestDate
	}

	result := sources.Result{
		ServiceName: sources.NameVIES,
		Payload:     payload,
		ObservedAt:  s.now(),
	}
	switch {
	case !resp.IsValid:
		result.Status, result.Confidence = sources.StatusWarning, confidenceInvalid
		result.ErrorMessage = "vat number is not valid"
	case name != "" && address != "":
		result.Status, result.Confidence = sources.StatusValid, confidenceFull
	default:
		result.Status, result.Confidence = sources.StatusValid, confidencePartial
	}
	return result, nil
}

// cleanField treats the "---" placeholder some member states return as empty.
func cleanField(v string) string {
	v = strings.TrimSpace(v)
	if strings.Trim(v, "-") == "" {
		return ""
	}
	return v
}
