// Package textutil cleans free text from customers, such as delivery notes and cancellation
// reasons, before it is stored.
package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// PlainText removes markup, turns control characters into spaces, collapses runs of whitespace and
// keeps at most limit runes. limit <= 0 keeps everything.
func PlainText(raw string, limit int) string {
	text := html.UnescapeString(strict.Sanitize(raw))
	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
	text = strings.Join(words, " ")
	if limit <= 0 {
		return text
	}
	if runes := []rune(text); len(runes) > limit {
		return strings.TrimRightFunc(string(runes[:limit]), unicode.IsSpace)
	}
	return text
}
