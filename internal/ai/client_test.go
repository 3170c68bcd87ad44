package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseImportance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want int
	}{
		{"bare digit", "4", 4},
		{"digit with whitespace", "  5\n", 5},
		{"digit in prose", "I would rate this message a 2 out of 5.", 2},
		{"clamps above range", "7", 5},
		{"clamps below range", "0", 1},
		{"negative clamps to floor", "-3", 1},
		{"garbage falls back", "not sure", defaultImportance},
		{"empty falls back", "", defaultImportance},
		{"first digit in range wins", "between 3 and 4", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseImportance(tt.text))
		})
	}
}
