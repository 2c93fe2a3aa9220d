package ledger

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
)

var markup = regexp.MustCompile(`<[^>]*>`)

// SanitizeNotes strips markup and control characters, collapses runs of
// whitespace and enforces the length limit in characters.
func SanitizeNotes(raw string, maxLen int) (string, error) {
	s := markup.ReplaceAllString(raw, " ")
	s = strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return -1
		}
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if n := len([]rune(s)); maxLen > 0 && n > maxLen {
		return "", apperr.ValidationField("notes", "notes must be at most %d characters, got %d", maxLen, n)
	}
	return s, nil
}
