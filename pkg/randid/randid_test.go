package randid

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name   string
		length int
	}{
		{"length 0", 0},
		{"length 1", 1},
		{"length 6", 6},
		{"length 16", 16},
	}

	pattern := regexp.MustCompile(`^[a-z0-9]*$`)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Generate(tt.length)

			assert.Len(t, got, tt.length)
			assert.True(t, pattern.MatchString(got), "Generate(%d) = %q, want only [a-z0-9]", tt.length, got)
		})
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	// Statistical check; with 36^8 combinations collisions in 100 draws
	// would indicate broken randomness.
	seen := make(map[string]bool)
	for range 100 {
		seen[Generate(8)] = true
	}

	assert.GreaterOrEqual(t, len(seen), 90)
}
