// Package placeholder protects inline markup tags inside a translation unit
// so the model only sees opaque tokens, and restores them afterwards.
package placeholder

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Map holds the original tag text for every placeholder index.
type Map map[int]string

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// Token renders the placeholder for index i.
func Token(i int) string {
	return "[[" + strconv.Itoa(i) + "]]"
}

// Protect replaces every tag in markup with a sequential [[i]] token in
// document order. Each step replaces only the first not yet consumed
// occurrence of the literal tag, so identical tags get distinct tokens.
func Protect(markup string) (string, Map) {
	m := make(Map)
	if markup == "" {
		return "", m
	}

	tags := tagPattern.FindAllString(markup, -1)
	out := markup
	from := 0
	for i, tag := range tags {
		idx := strings.Index(out[from:], tag)
		if idx < 0 {
			continue
		}
		at := from + idx
		tok := Token(i)
		out = out[:at] + tok + out[at+len(tag):]
		from = at + len(tok)
		m[i] = tag
	}
	return out, m
}

// Restore swaps tokens back to their tags. Indices are processed in descending
// order so [[1]] never clobbers part of [[10]].
func Restore(text string, m Map) string {
	if text == "" {
		return ""
	}
	for _, i := range m.descending() {
		text = strings.ReplaceAll(text, Token(i), m[i])
	}
	return text
}

func (m Map) descending() []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(keys)))
	return keys
}

// Indices returns the placeholder indices in ascending order.
func (m Map) Indices() []int {
	keys := m.descending()
	sort.Ints(keys)
	return keys
}
