package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrimLower(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "source names are normalised",
			input:    []string{" VIES ", "Sanctions"},
			expected: []string{"vies", "sanctions"},
		},
		{
			name:     "case-insensitive duplicates keep first position",
			input:    []string{"registry", "vies", "REGISTRY", "Vies"},
			expected: []string{"registry", "vies"},
		},
		{
			name:     "blank entries are dropped",
			input:    []string{"", "  ", "vies"},
			expected: []string{"vies"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrimLower(tt.input))
		})
	}
}
