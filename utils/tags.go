package utils

import (
	"encoding/json"
	"strconv"
	"strings"
)

// NormalizeTags flattens heterogeneous tag input into clean strings.
//
// Accepted shapes: nil, a single scalar, arrays nested to any depth, JSON-encoded
// strings (arrays are recursed into, scalars are kept) and legacy comma-separated
// strings. Empty and whitespace-only entries are dropped, order follows first
// occurrence and duplicates are kept. Objects are dropped.
func NormalizeTags(raw any) []string {
	n := tagNormalizer{out: make([]string, 0)}
	n.walk(raw)
	return n.out
}

// NormalizeTagsJSON decodes a raw JSON tags value and normalizes it. A body that is not
// valid JSON is treated as a plain string.
func NormalizeTagsJSON(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return make([]string, 0)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return NormalizeTags(string(raw))
	}
	return NormalizeTags(v)
}

type tagNormalizer struct {
	out []string
}

func (n *tagNormalizer) walk(v any) {
	switch t := v.(type) {
	case nil:
	case []any:
		for _, e := range t {
			n.walk(e)
		}
	case []string:
		for _, e := range t {
			n.walk(e)
		}
	case string:
		n.walkString(t)
	case float64:
		n.add(strconv.FormatFloat(t, 'f', -1, 64))
	case int:
		n.add(strconv.Itoa(t))
	case int64:
		n.add(strconv.FormatInt(t, 10))
	case bool:
		n.add(strconv.FormatBool(t))
	case json.Number:
		n.add(t.String())
	}
}

func (n *tagNormalizer) walkString(s string) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		switch p := parsed.(type) {
		case string:
			// a JSON string literal is kept as decoded, not re-parsed
			n.add(p)
		case nil, map[string]any:
			n.add(trimmed)
		default:
			n.walk(p)
		}
		return
	}
	// not JSON: legacy comma-separated input
	for _, part := range strings.Split(trimmed, ",") {
		n.add(part)
	}
}

func (n *tagNormalizer) add(s string) {
	if s = strings.TrimSpace(s); s != "" {
		n.out = append(n.out, s)
	}
}
