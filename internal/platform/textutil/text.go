package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeFreeText strips every HTML element from customer supplied text. Entities produced
// by the sanitiser are decoded again so plain punctuation survives.
func SanitizeFreeText(value string) string {
	cleaned := strictPolicy.Sanitize(value)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

// ContainsFold reports whether substr occurs in s under Unicode case folding. A Caser keeps
// state, so each call gets its own.
func ContainsFold(s, substr string) bool {
	folder := cases.Fold()
	return strings.Contains(folder.String(s), folder.String(substr))
}

// NormalizeName trims a display name, collapses inner whitespace and applies NFC.
func NormalizeName(value string) string {
	return norm.NFC.String(strings.Join(strings.Fields(value), " "))
}
