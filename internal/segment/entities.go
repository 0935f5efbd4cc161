package segment

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var namedEntity = regexp.MustCompile(`&([A-Za-z][A-Za-z0-9]*);`)

var xmlEntities = map[string]bool{"amp": true, "lt": true, "gt": true, "quot": true, "apos": true}

// numericEntities rewrites HTML named entities such as &nbsp; into numeric
// references so a strict XML parser accepts them. Unknown names are left
// alone and will fail the parse.
func numericEntities(src string) string {
	return namedEntity.ReplaceAllStringFunc(src, func(m string) string {
		name := m[1 : len(m)-1]
		if xmlEntities[name] {
			return m
		}
		decoded := html.UnescapeString(m)
		if decoded == m {
			return m
		}
		var b strings.Builder
		for _, r := range decoded {
			fmt.Fprintf(&b, "&#%d;", r)
		}
		return b.String()
	})
}
