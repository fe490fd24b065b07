package utils

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

var (
	sanitizer = bluemonday.UGCPolicy()
	stripper  = bluemonday.StrictPolicy()
)

// Sanitize cleans HTML content to prevent XSS attacks. The result is HTML.
func Sanitize(input string) string {
	return sanitizer.Sanitize(input)
}

// StripTags removes all markup and returns plain text, for fields that clients
// escape themselves. Entities are decoded so "Tom & Jerry" stays as typed.
func StripTags(input string) string {
	return html.UnescapeString(stripper.Sanitize(input))
}
