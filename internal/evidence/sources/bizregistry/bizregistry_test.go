package bizregistry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"verity/internal/evidence/sources"
	"verity/internal/evidence/sources/contract"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "reg-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/companies/DE/100":
			_, _ = w.Write([]byte(`{"company_name":"ACME GmbH","status":"Active","address":"Main 1","officers":[{"name":"A","role":"director"}]}`))
		case "/companies/DE/200":
			_, _ = w.Write([]byte(`{"company_name":"Thin GmbH","status":"active"}`))
		case "/companies/DE/300":
			_, _ = w.Write([]byte(`{"company_name":"Gone GmbH","status":"dissolved","address":"Main 2"}`))
		case "/companies/DE/400":
			_, _ = w.Write([]byte(`{"company_name":"Paused GmbH","status":"suspended"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBizRegistryContract(t *testing.T) {
	src := New(newUpstream(t).URL, "reg-key")
	confidence := func(want float64) func(sources.Result) error {
		return func(r sources.Result) error {
			if r.Confidence != want {
				return assert.AnError
			}
			return nil
		}
	}

	suite := &contract.ContractSuite{
		ServiceName: sources.NameBizRegistry,
		Tests: []contract.ContractTest{
			{Name: "active with full record", Source: src, Subject: sources.Subject{CountryCode: "DE", VATNumber: "100"}, ExpectedStatus: sources.StatusValid, ValidateFunc: confidence(confidenceActive)},
			{Name: "active with partial record", Source: src, Subject: sources.Subject{CountryCode: "DE", VATNumber: "200"}, ExpectedStatus: sources.StatusValid, ValidateFunc: confidence(confidencePartial)},
			{Name: "dissolved company", Source: src, Subject: sources.Subject{CountryCode: "DE", VATNumber: "300"}, ExpectedStatus: sources.StatusError, ValidateFunc: confidence(confidenceClosed)},
			{Name: "other status", Source: src, Subject: sources.Subject{CountryCode: "DE", VATNumber: "400"}, ExpectedStatus: sources.StatusWarning, ValidateFunc: confidence(confidenceOther)},
		},
	}
	suite.Run(t)

	contract.ErrorTest{Name: "unknown company", Source: src, Subject: sources.Subject{CountryCode: "DE", VATNumber: "999"}, ExpectedKind: sources.KindPermanent}.Run(t)
	contract.ErrorTest{Name: "bad key", Source: New(newUpstream(t).URL, "wrong"), Subject: sources.Subject{CountryCode: "DE", VATNumber: "100"}, ExpectedKind: sources.KindPermanent}.Run(t)
	contract.ErrorTest{Name: "missing country", Source: src, Subject: sources.Subject{VATNumber: "100"}, ExpectedKind: sources.KindFormat}.Run(t)
}

func TestBizRegistryPayloadNormalizesStatus(t *testing.T) {
	src := New(newUpstream(t).URL, "reg-key")
	r, err := src.Fetch(t.Context(), sources.Subject{CountryCode: "DE", VATNumber: "100"})
	assert.NoError(t, err)
	assert.Equal(t, "active", r.Payload["company_status"])
	assert.Equal(t, 1, r.Payload["officer_count"])
}
