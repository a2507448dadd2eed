package sources

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status is the normalized outcome of a single source lookup.
type Status string

const (
	StatusValid   Status = "valid"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Rank orders statuses from best to worst.
func (s Status) Rank() int {
	switch s {
	case StatusValid:
		return 0
	case StatusWarning:
		return 1
	default:
		return 2
	}
}

// Well-known source names. The aggregator weights and the change detector
// comparators key off these.
const (
	NameVIES        = "vies"
	NameSanctions   = "sanctions"
	NameBizRegistry = "bizregistry"
)

// Result is the outcome of exactly one lookup against one source.
// Treat it as immutable: use Clone before handing it to another owner.
type Result struct {
	ServiceName  string         `json:"service_name"`
	Status       Status         `json:"status"`
	Confidence   float64        `json:"confidence"`
	Payload      map[string]any `json:"payload,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	LatencyMS    int64          `json:"latency_ms"`
	ObservedAt   time.Time      `json:"observed_at"`
}

// Clone returns a copy whose payload can be mutated without affecting r.
func (r Result) Clone() Result {
	out := r
	if r.Payload != nil {
		out.Payload = maps.Clone(r.Payload)
	}
	return out
}

// ErrorResult builds the placeholder result used when a source could not
// produce an answer.
func ErrorResult(service, message string, latency time.Duration, at time.Time) Result {
	return Result{
		ServiceName:  service,
		Status:       StatusError,
		Confidence:   0,
		ErrorMessage: message,
		LatencyMS:    latency.Milliseconds(),
		ObservedAt:   at,
	}
}

// Subject identifies the counterparty being checked.
type Subject struct {
	CountryCode string `json:"country_code"`
	VATNumber   string `json:"vat_number"`
	CompanyName string `json:"company_name,omitempty"`
}

// Normalize upper-cases the country and strips separators from the VAT
// number. A VAT number that repeats the country prefix is trimmed.
func (s Subject) Normalize() Subject {
	country := strings.ToUpper(strings.TrimSpace(s.CountryCode))
	vat := strings.ToUpper(strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-', '/':
			return -1
		}
		return r
	}, s.VATNumber))
	if country != "" && strings.HasPrefix(vat, country) && len(vat) > len(country) {
		vat = strings.TrimPrefix(vat, country)
	}
	return Subject{
		CountryCode: country,
		VATNumber:   vat,
		CompanyName: strings.TrimSpace(s.CompanyName),
	}
}

// Source performs a single upstream attempt and classifies the response.
// Caching, retries and admission control live in Client.
type Source interface {
	// Name is the stable service name reported on every Result.
	Name() string

	// Key validates the subject and returns the canonical cache key.
	// Invalid input yields a format error.
	Key(subject Subject) (string, error)

	// Fetch performs exactly one upstream call. Successful classifications
	// return a Result; upstream failures return a *SourceError.
	Fetch(ctx context.Context, subject Subject) (Result, error)
}

// Lookuper is the resilient lookup contract consumed by verification.
type Lookuper interface {
	Name() string
	Lookup(ctx context.Context, subject Subject) (Result, error)
}

// Registry maintains the configured clients by service name.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Lookuper
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Lookuper)}
}

// Register adds a client to the registry.
func (r *Registry) Register(c Lookuper) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("source %s already registered", name)
	}
	r.clients[name] = c
	return nil
}

// Get retrieves a client by service name.
func (r *Registry) Get(name string) (Lookuper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
