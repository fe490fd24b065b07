package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripTags(t *testing.T) {
	cases := map[string]string{
		"plain":                      "plain",
		"Tom & Jerry":                "Tom & Jerry",
		"O'Brien \"Bob\"":            "O'Brien \"Bob\"",
		"<b>Ann</b>":                 "Ann",
		"x<script>alert(1)</script>": "x",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripTags(in), in)
	}
}

func TestSanitizeKeepsSafeMarkup(t *testing.T) {
	assert.Equal(t, "<b>bold</b>", Sanitize("<b>bold</b><script>x</script>"))
	assert.Equal(t, "a &amp; b", Sanitize("a & b"))
}
