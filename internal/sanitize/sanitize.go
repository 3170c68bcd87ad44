// Package sanitize provides input cleaning and format validation for
// free-text fields arriving from the WhatsApp bridge and from API clients.
package sanitize

import (
	"regexp"
	"strings"
)

// disallowed lists the substrings stripped from free-text input, applied in
// order. The order is load-bearing: removing "script" first means a literal
// "javascript" has already collapsed to "java" by the time the last token is
// tried. Stored digests were produced with this exact behavior, so it must
// not be reordered or made recursive.
var disallowed = []string{"<", ">", `"`, "'", "&", "script", "javascript"}

// Clean truncates text to maxLength characters, removes every occurrence of
// the disallowed substrings, and trims surrounding whitespace. Truncation
// happens before removal, so the result can be shorter than maxLength but
// never longer. Empty input yields an empty string.
//
// A single removal pass per token is intentionally not idempotent: removing
// a token can reassemble the surrounding fragments into that same token
// (e.g. "scr<script>ipt" comes out as "script"). Callers must not rely on
// Clean(Clean(s)) == Clean(s).
func Clean(text string, maxLength int) string {
	if text == "" {
		return ""
	}

	runes := []rune(text)
	if maxLength > 0 && len(runes) > maxLength {
		text = string(runes[:maxLength])
	}

	for _, token := range disallowed {
		text = strings.ReplaceAll(text, token, "")
	}

	return strings.TrimSpace(text)
}

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ValidUsername reports whether username is 3-50 characters of letters,
// digits, underscores, and hyphens.
func ValidUsername(username string) bool {
	if len(username) < 3 || len(username) > 50 {
		return false
	}
	return usernameRe.MatchString(username)
}

// ValidEmail reports whether email looks like an address and fits the
// storage column.
func ValidEmail(email string) bool {
	if email == "" || len(email) > 100 {
		return false
	}
	return emailRe.MatchString(email)
}

// StrongPassword requires at least 8 characters drawn from at least three of
// the four classes: upper, lower, digit, punctuation.
func StrongPassword(password string) bool {
	if len(password) < 8 {
		return false
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(`!@#$%^&*(),.?":{}|<>`, r):
			hasSpecial = true
		}
	}

	classes := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if ok {
			classes++
		}
	}
	return classes >= 3
}
