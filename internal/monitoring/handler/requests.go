package handler

import (
	"strings"

	"verity/internal/evidence/sources"
	dErrors "verity/pkg/domain-errors"
	vstrings "verity/pkg/platform/strings"
)

// EnrollRequest is the body of PUT /v1/monitoring/entities/{id}.
type EnrollRequest struct {
	CountryCode      string   `json:"country_code"`
	VATNumber        string   `json:"vat_number"`
	CompanyName      string   `json:"company_name"`
	Sources          []string `json:"sources"`
	MonitoringActive *bool    `json:"monitoring_active"`
}

func (r *EnrollRequest) Prepare() error {
	r.CountryCode = strings.ToUpper(strings.TrimSpace(r.CountryCode))
	r.VATNumber = strings.TrimSpace(r.VATNumber)
	r.CompanyName = strings.TrimSpace(r.CompanyName)
	r.Sources = vstrings.DedupeAndTrimLower(r.Sources)
	if r.VATNumber == "" && r.CompanyName == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "vat_number or company_name is required")
	}
	if r.CountryCode != "" && len(r.CountryCode) != 2 {
		return dErrors.New(dErrors.CodeInvalidInput, "country_code must be two letters")
	}
	return nil
}

func (r *EnrollRequest) active() bool {
	return r.MonitoringActive == nil || *r.MonitoringActive
}

func (r *EnrollRequest) subject() sources.Subject {
	return sources.Subject{
		CountryCode: r.CountryCode,
		VATNumber:   r.VATNumber,
		CompanyName: r.CompanyName,
	}
}
