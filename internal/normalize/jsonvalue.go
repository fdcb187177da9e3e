// Package normalize turns loosely shaped workflow responses into the canonical
// records of the domain package. Every function here is pure and never panics
// on malformed input: unparsable data degrades to recovered, flagged records.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxDecodeDepth bounds repeated parsing of JSON encoded inside strings.
const maxDecodeDepth = 3

// maxNestDepth bounds descent through wrapper objects such as {"improvement_list": "..."}.
const maxNestDepth = 4

var (
	codeFence     = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// decodeJSON parses s strictly, keeping numbers as json.Number. Markdown code
// fences and trailing commas are tolerated.
func decodeJSON(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if v, ok := decodeStrict(s); ok {
		return v, true
	}
	cleaned := s
	if m := codeFence.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}
	cleaned = trailingComma.ReplaceAllString(cleaned, "$1")
	if cleaned == s {
		return nil, false
	}
	return decodeStrict(cleaned)
}

func decodeStrict(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return v, true
}

// coerceJSON unwraps JSON-in-string values, parsing at most maxDecodeDepth
// times. A string that does not parse is returned unchanged. Go values that
// are not already generic JSON, such as typed slices and structs, are
// re-read through their JSON encoding.
func coerceJSON(v any) any {
	switch t := v.(type) {
	case nil, bool, json.Number, float64, int, map[string]any, []any:
		return v
	case string:
	case []byte:
		v = string(t)
	case json.RawMessage:
		v = string(t)
	default:
		return regeneric(v)
	}
	for i := 0; i < maxDecodeDepth; i++ {
		s, ok := v.(string)
		if !ok {
			return v
		}
		parsed, ok := decodeJSON(s)
		if !ok {
			return v
		}
		v = parsed
	}
	return v
}

// regeneric converts v to the map/slice form encoding/json decodes into.
// Values that cannot be encoded are returned unchanged.
func regeneric(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	out, ok := decodeStrict(string(b))
	if !ok {
		return v
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// text renders a scalar as display text. Containers are rendered as compact JSON.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return ""
		}
		return strings.TrimSpace(buf.String())
	}
}

// pick returns the first non-nil value among keys.
func pick(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// pickText returns the first non-empty text among keys.
func pickText(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s := text(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func hasAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	}
	return false
}

func isIndexKey(k string) bool {
	if k == "" {
		return false
	}
	_, err := strconv.Atoi(k)
	return err == nil
}

// isIndexKeyed reports whether every key of m is a numeric-like index.
func isIndexKeyed(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !isIndexKey(k) {
			return false
		}
	}
	return true
}

// orderedValues returns m's values with numeric keys first in ascending
// order, then the remaining keys lexicographically.
func orderedValues(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		switch {
		case aerr == nil && berr == nil:
			return a < b
		case aerr == nil:
			return true
		case berr == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// excerpt returns at most n runes of s, trimmed.
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
