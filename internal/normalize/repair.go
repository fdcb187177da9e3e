package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// PlaceholderParseFailed fills expected fields that regex extraction could not find.
const PlaceholderParseFailed = "解析失败"

// fallbackExcerptRunes is the length of the raw excerpt kept when nothing else is recoverable.
const fallbackExcerptRunes = 30

var objectChunk = regexp.MustCompile(`\{[^{}]*\}`)

var pythonLiterals = map[string]string{"None": "null", "True": "true", "False": "false"}

// looksLikePythonDict is the single-quote heuristic: a container literal using ' quotes.
func looksLikePythonDict(s string) bool {
	return strings.Contains(s, "'") && (strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{"))
}

// pythonToJSON converts a Python repr of dicts and lists to JSON. Single
// quoted strings become double quoted; None, True and False are rewritten
// only outside string literals.
func pythonToJSON(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)
	var quote rune
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch {
		case quote != 0:
			switch {
			case c == '\\' && i+1 < len(rs):
				i++
				if rs[i] == '\'' {
					b.WriteRune('\'')
				} else {
					b.WriteRune('\\')
					b.WriteRune(rs[i])
				}
			case c == quote:
				b.WriteByte('"')
				quote = 0
			case c == '"':
				b.WriteString(`\"`)
			default:
				b.WriteRune(c)
			}
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte('"')
		case isWordRune(c):
			j := i
			for j < len(rs) && isWordRune(rs[j]) {
				j++
			}
			w := string(rs[i:j])
			if lit, ok := pythonLiterals[w]; ok {
				w = lit
			}
			b.WriteString(w)
			i = j - 1
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// fieldMatcher extracts one key's value from malformed record text.
type fieldMatcher struct {
	key      string
	patterns []*regexp.Regexp
}

// newFieldMatcher matches key under its snake_case and camelCase spellings.
func newFieldMatcher(key string) fieldMatcher {
	k := regexp.QuoteMeta(key)
	if camel := snakeToCamel(key); camel != key {
		k = `(?:` + k + `|` + regexp.QuoteMeta(camel) + `)`
	}
	return fieldMatcher{
		key: key,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?:^|[^A-Za-z0-9_])` + k + `['"]?\s*:\s*\[([^\]]*)\]`),
			regexp.MustCompile(`'` + k + `'\s*:\s*'([^']*)'`),
			regexp.MustCompile(`"` + k + `"\s*:\s*"([^"]*)"`),
			regexp.MustCompile(`(?:^|[^A-Za-z0-9_])` + k + `['":\s]+([^,}'":\s][^,}]*)`),
		},
	}
}

func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if p := parts[i]; p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "")
}

func (f fieldMatcher) find(s string) (string, bool) {
	for _, re := range f.patterns {
		if m := re.FindStringSubmatch(s); m != nil {
			v := strings.Trim(strings.TrimSpace(m[1]), `'"`)
			v = strings.TrimSpace(v)
			if v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// recordKind describes one canonical record type and how to find it in upstream data.
type recordKind[T any] struct {
	field string
	// listKeys name wrapper properties that hold the list, e.g. wrong_words_list.
	listKeys []string
	// markers identify an object as a single record.
	markers []string
	// primary is the upstream key that receives the raw excerpt when nothing matches.
	primary string
	// primaryKeys are every spelling of the primary field.
	primaryKeys []string
	required    []string
	matchers    []fieldMatcher
	build       func(m map[string]any, recovered bool) T
}

func newRecordKind[T any](k recordKind[T], extract ...string) recordKind[T] {
	for _, key := range extract {
		k.matchers = append(k.matchers, newFieldMatcher(key))
	}
	return k
}

func (k recordKind[T]) isRecord(m map[string]any) bool { return hasAny(m, k.markers...) }

// collect walks arrays, index-keyed objects and wrapper objects down to
// records. Strings met on the way are coerced and, failing that, repaired.
func (k recordKind[T]) collect(v any, recovered bool, depth int) ([]T, bool) {
	if depth > maxNestDepth {
		return k.repair(text(v), depth), true
	}
	v = coerceJSON(v)
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, false
		}
		return k.repair(t, depth+1), true
	case []any:
		var out []T
		lowConf := recovered
		for _, e := range t {
			items, low := k.collect(e, recovered, depth+1)
			out = append(out, items...)
			lowConf = lowConf || low
		}
		return out, lowConf
	case map[string]any:
		for _, lk := range k.listKeys {
			inner, ok := t[lk]
			if !ok {
				continue
			}
			if c := coerceJSON(inner); isContainer(c) {
				return k.collect(c, recovered, depth+1)
			}
		}
		if k.isRecord(t) {
			if recovered && pickText(t, k.primaryKeys...) == "" {
				t = withValue(t, k.primary, excerpt(text(t), fallbackExcerptRunes))
			}
			return []T{k.build(t, recovered)}, recovered
		}
		if isIndexKeyed(t) {
			return k.collect(orderedValues(t), recovered, depth+1)
		}
		if len(t) == 0 {
			return nil, recovered
		}
		return k.repair(text(t), depth+1), true
	default:
		return k.repair(text(t), depth+1), true
	}
}

// repair recovers records from a string strict parsing could not handle.
// It returns at least one record for non-blank input.
func (k recordKind[T]) repair(s string, depth int) []T {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if looksLikePythonDict(s) && depth <= maxNestDepth {
		if v, ok := decodeJSON(pythonToJSON(s)); ok && isContainer(v) {
			if items, _ := k.collect(v, true, depth+1); len(items) > 0 {
				return items
			}
		}
	}
	chunks := objectChunk.FindAllString(s, -1)
	if len(chunks) == 0 {
		chunks = []string{s}
	}
	out := make([]T, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, k.build(k.extract(c), true))
	}
	return out
}

func withValue(m map[string]any, key string, v any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, val := range m {
		out[k] = val
	}
	out[key] = v
	return out
}

// extract pulls every known key out of chunk with regexes and fills the gaps.
func (k recordKind[T]) extract(chunk string) map[string]any {
	fields := make(map[string]any, len(k.matchers))
	for _, fm := range k.matchers {
		if v, ok := fm.find(chunk); ok {
			fields[fm.key] = v
		}
	}
	for _, key := range k.required {
		if _, ok := fields[key]; !ok {
			fields[key] = PlaceholderParseFailed
		}
	}
	if _, ok := fields[k.primary]; !ok {
		fields[k.primary] = excerpt(chunk, fallbackExcerptRunes)
	}
	return fields
}
