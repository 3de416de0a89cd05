package asset

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var tagRe = regexp.MustCompile(`\{([^{}]+)\}`)

// ParseTags extracts brace-delimited tags from a file name.
//
//	hero{nc}.png          -> {"nc": true}
//	atlas{scale=0.5}      -> {"scale": 0.5}
//	font{sizes=12&16&x}   -> {"sizes": []any{12, 16, "x"}}
//
// A later occurrence of the same key overwrites an earlier one.
func ParseTags(name string) map[string]any {
	out := make(map[string]any)
	for _, m := range tagRe.FindAllStringSubmatch(name, -1) {
		key, value, hasValue := strings.Cut(m[1], "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if !hasValue {
			out[key] = true
			continue
		}
		out[key] = parseTagValue(value)
	}
	return out
}

func parseTagValue(raw string) any {
	if !strings.Contains(raw, "&") {
		return coerce(raw)
	}
	parts := strings.Split(raw, "&")
	values := make([]any, 0, len(parts))
	for _, p := range parts {
		values = append(values, coerce(p))
	}
	return values
}

// coerce turns numeric strings into int or float64 and leaves the rest alone.
func coerce(s string) any {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// StripTags removes every {…} segment from p, in every path element.
func StripTags(p string) string {
	return tagRe.ReplaceAllString(p, "")
}

// HasTags reports whether the base name of p carries at least one tag.
func HasTags(p string) bool {
	return tagRe.MatchString(filepath.Base(p))
}
