package handler

import (
	"strings"

	"verity/internal/evidence/sources"
	dErrors "verity/pkg/domain-errors"
)

// VerifyRequest is the body of POST /v1/verify.
type VerifyRequest struct {
	EntityID    string   `json:"entity_id"`
	CountryCode string   `json:"country_code"`
	VATNumber   string   `json:"vat_number"`
	CompanyName string   `json:"company_name"`
	Sources     []string `json:"sources"`
}

// Prepare trims input and checks that there is something to verify.
func (r *VerifyRequest) Prepare() error {
	r.EntityID = strings.TrimSpace(r.EntityID)
	r.CountryCode = strings.TrimSpace(r.CountryCode)
	r.VATNumber = strings.TrimSpace(r.VATNumber)
	r.CompanyName = strings.TrimSpace(r.CompanyName)
	if r.VATNumber == "" && r.CompanyName == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "vat_number or company_name is required")
	}
	if len(r.EntityID) > 128 {
		return dErrors.New(dErrors.CodeInvalidInput, "entity_id is too long")
	}
	return nil
}

func (r *VerifyRequest) Subject() sources.Subject {
	return sources.Subject{
		CountryCode: r.CountryCode,
		VATNumber:   r.VATNumber,
		CompanyName: r.CompanyName,
	}
}
