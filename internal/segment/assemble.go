package segment

import (
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
)

// Assemble rebuilds a document from its source, replacing every unit whose
// key is in translations with the translated markup. Units without a
// translation keep their source markup.
func (s *Segmenter) Assemble(name string, data []byte, translations map[string]string) ([]byte, error) {
	p, err := s.parse(name, data)
	if err != nil {
		return nil, err
	}

	r := &renderer{
		override: make(map[*xmlquery.Node]string, len(translations)),
		unwrap:   p.wrappers,
	}
	for _, l := range p.leaves {
		markup, ok := translations[l.key]
		if !ok {
			continue
		}
		if p.wrappers[l.node] {
			markup = unwrapText(markup)
		}
		r.override[l.node] = markup
	}

	top := documentElement(p.doc)
	var b strings.Builder
	b.Write(prolog(data, top))
	r.node(top)
	b.WriteString(r.b.String())
	if strings.HasSuffix(strings.TrimRight(string(data), " \t"), "\n") {
		b.WriteString("\n")
	}
	return []byte(b.String()), nil
}

// unwrapText strips the wrapper span added around naked text.
func unwrapText(markup string) string {
	const closeTag = "</span>"
	trimmed := strings.TrimSpace(markup)
	if !strings.HasPrefix(trimmed, "<span") || !strings.HasSuffix(trimmed, closeTag) {
		return markup
	}
	end := strings.Index(trimmed, ">")
	if end < 0 || !strings.Contains(trimmed[:end], TextWrapperClass) {
		return markup
	}
	return trimmed[end+1 : len(trimmed)-len(closeTag)]
}

var bareAmpersand = regexp.MustCompile(`&(#[0-9]+;|#[xX][0-9a-fA-F]+;|[A-Za-z][A-Za-z0-9]*;)?`)

// EscapeText escapes markup-significant characters a model may have written
// into text. Existing entity references are kept.
func EscapeText(s string) string {
	s = bareAmpersand.ReplaceAllStringFunc(s, func(m string) string {
		if m == "&" {
			return "&amp;"
		}
		return m
	})
	return strings.NewReplacer("<", "&lt;", ">", "&gt;").Replace(s)
}
