package contract

import (
	"context"
	"errors"
	"testing"

	"verity/internal/evidence/sources"
)

// ContractTest defines a test case for source contract validation
type ContractTest struct {
	Name           string
	Source         sources.Source
	Subject        sources.Subject
	ExpectedStatus sources.Status
	ValidateFunc   func(result sources.Result) error
}

// ContractSuite is a collection of contract tests for a source
type ContractSuite struct {
	ServiceName string
	Tests       []ContractTest
}

// Run executes all contract tests in the suite
func (s *ContractSuite) Run(t *testing.T) {
	t.Helper()
	for _, test := range s.Tests {
		t.Run(test.Name, func(t *testing.T) {
			if _, err := test.Source.Key(test.Subject); err != nil {
				t.Fatalf("subject rejected: %v", err)
			}

			result, err := test.Source.Fetch(context.Background(), test.Subject)
			if err != nil {
				t.Fatalf("source fetch failed: %v", err)
			}

			if result.ServiceName != s.ServiceName {
				t.Errorf("expected service name %s, got %s", s.ServiceName, result.ServiceName)
			}
			if result.Status != test.ExpectedStatus {
				t.Errorf("expected status %s, got %s", test.ExpectedStatus, result.Status)
			}
			if result.Confidence < 0 || result.Confidence > 1.0 {
				t.Errorf("confidence %f out of range [0, 1]", result.Confidence)
			}
			if result.ObservedAt.IsZero() {
				t.Error("ObservedAt not set")
			}

			if test.ValidateFunc != nil {
				if err := test.ValidateFunc(result); err != nil {
					t.Errorf("custom validation failed: %v", err)
				}
			}
		})
	}
}

// ErrorTest asserts that a subject produces a classified failure.
type ErrorTest struct {
	Name         string
	Source       sources.Source
	Subject      sources.Subject
	ExpectedKind sources.ErrorKind
}

// Run executes the error expectation.
func (et ErrorTest) Run(t *testing.T) {
	t.Helper()
	t.Run(et.Name, func(t *testing.T) {
		var err error
		if et.ExpectedKind == sources.KindFormat {
			_, err = et.Source.Key(et.Subject)
		} else {
			_, err = et.Source.Fetch(context.Background(), et.Subject)
		}
		if err == nil {
			t.Fatalf("expected %s error, got none", et.ExpectedKind)
		}
		var se *sources.SourceError
		if !errors.As(err, &se) {
			t.Fatalf("expected *sources.SourceError, got %T: %v", err, err)
		}
		if se.Kind != et.ExpectedKind {
			t.Errorf("expected kind %s, got %s (%v)", et.ExpectedKind, se.Kind, err)
		}
	})
}
