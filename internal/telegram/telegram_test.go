package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeMarkdown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "hello world", "hello world"},
		{"underscore", "snake_case", `snake\_case`},
		{"asterisk", "2*3=6", `2\*3=6`},
		{"backtick", "run `ls`", "run \\`ls\\`"},
		{"left bracket", "[Test]", `\[Test]`},
		{"right bracket passes through", "a]b", "a]b"},
		{"parens pass through", "f(x)", "f(x)"},
		{"mixed", "_a_ *b* [c]", `\_a\_ \*b\* \[c]`},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, EscapeMarkdown(tt.in))
		})
	}
}

func TestEscapeMarkdownDoubleApplication(t *testing.T) {
	t.Parallel()

	once := EscapeMarkdown("[Test]")
	assert.Equal(t, `\[Test]`, once)

	// A second pass escapes the bracket again, the backslash is untouched.
	twice := EscapeMarkdown(once)
	assert.Equal(t, `\\[Test]`, twice)
}
