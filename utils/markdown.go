package utils

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Heading is one table-of-contents entry.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
	ID    string `json:"id"`
}

var (
	md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		// raw HTML is let through here and stripped by the sanitizer afterwards
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)

	headingLine = regexp.MustCompile(`(?m)^(#{1,3})[ \t]+(.*)$`)
	headingTag  = regexp.MustCompile(`(?s)<(h[1-3])>(.*?)</(h[1-3])>`)
	anyTag      = regexp.MustCompile(`<[^>]*>`)
	slugInvalid = regexp.MustCompile(`[^a-z0-9\x{4e00}-\x{9fa5}]+`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// RenderMarkdown converts Markdown to sanitized HTML and gives h1-h3 elements the
// same ids BuildTOC produces.
func RenderMarkdown(source string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return injectHeadingIDs(Sanitize(buf.String())), nil
}

// BuildTOC extracts level 1-3 ATX headings from Markdown source.
func BuildTOC(source string) []Heading {
	headings := make([]Heading, 0)
	for _, m := range headingLine.FindAllStringSubmatch(source, -1) {
		text := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(m[2]), "#"))
		headings = append(headings, Heading{
			Level: len(m[1]),
			Text:  text,
			ID:    Slugify(text),
		})
	}
	return headings
}

// Slugify lowercases text and collapses every run of characters outside
// [a-z0-9] and the CJK unified ideograph block into a single dash.
func Slugify(text string) string {
	s := slugInvalid.ReplaceAllString(strings.ToLower(text), "-")
	return strings.Trim(s, "-")
}

// Excerpt collapses whitespace in content and cuts it to at most limit runes,
// always ending with an ellipsis. Empty content yields an empty excerpt.
func Excerpt(content string, limit int) string {
	if limit <= 0 {
		limit = 150
	}
	cut := content
	if utf8.RuneCountInString(cut) > limit {
		cut = string([]rune(cut)[:limit])
	}
	cut = strings.TrimSpace(whitespace.ReplaceAllString(cut, " "))
	if cut == "" {
		return ""
	}
	return cut + "..."
}

func injectHeadingIDs(htmlContent string) string {
	return headingTag.ReplaceAllStringFunc(htmlContent, func(match string) string {
		m := headingTag.FindStringSubmatch(match)
		if m[1] != m[3] {
			return match
		}
		id := Slugify(anyTag.ReplaceAllString(m[2], ""))
		return "<" + m[1] + ` id="` + id + `">` + m[2] + "</" + m[3] + ">"
	})
}
