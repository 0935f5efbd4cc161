package placeholder

import (
	"regexp"
	"strconv"
	"strings"
)

// SemanticIndex maps a semantic marker such as "[[p_1]]" or "[[/p_1]]" back
// to the placeholder index it stands for.
type SemanticIndex map[string]int

var (
	tagNamePattern = regexp.MustCompile(`^</?\s*([A-Za-z][A-Za-z0-9:_.-]*)`)
	markerPattern  = regexp.MustCompile(`\[\[/?[a-z][a-z0-9_]*/?\]\]`)
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

type tagKind int

const (
	kindOpen tagKind = iota
	kindClose
	kindSelf
)

type tagInfo struct {
	index int
	name  string
	kind  tagKind
	id    string
}

// Semanticize turns the positional [[i]] tokens of a protected text into
// named markers the model can keep track of: [[p_1]]...[[/p_1]] for matched
// pairs and [[br_1/]] for void tags, comments, unmatched closers and openers
// that are never closed.
func Semanticize(protected string, m Map) (string, SemanticIndex) {
	idx := make(SemanticIndex)
	if protected == "" {
		return "", idx
	}

	infos := classify(m)
	pairTags(infos)

	counters := make(map[string]int)
	partner := make(map[int]*tagInfo)
	for _, info := range infos {
		if info.kind == kindClose {
			continue
		}
		counters[info.name]++
		info.id = info.name + "_" + strconv.Itoa(counters[info.name])
		partner[info.index] = info
	}

	args := make([]string, 0, 2*len(infos))
	var stack []*tagInfo
	for _, info := range infos {
		var marker string
		switch info.kind {
		case kindOpen:
			marker = "[[" + info.id + "]]"
			stack = append(stack, info)
		case kindClose:
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			info.id = open.id
			marker = "[[/" + info.id + "]]"
		case kindSelf:
			marker = "[[" + info.id + "/]]"
		}
		idx[marker] = info.index
		args = append(args, Token(info.index), marker)
	}
	if len(args) == 0 {
		return protected, idx
	}
	return strings.NewReplacer(args...).Replace(protected), idx
}

// Desemanticize maps named markers back to positional tokens. Markers not in
// idx are left untouched.
func Desemanticize(tagged string, idx SemanticIndex) string {
	if tagged == "" || len(idx) == 0 {
		return tagged
	}
	args := make([]string, 0, 2*len(idx))
	for marker, i := range idx {
		args = append(args, marker, Token(i))
	}
	return strings.NewReplacer(args...).Replace(tagged)
}

// Markers lists the semantic markers present in tagged text, in order.
func Markers(tagged string) []string {
	return markerPattern.FindAllString(tagged, -1)
}

// StripTags removes all semantic markers, leaving the plain text.
func StripTags(tagged string) string {
	return markerPattern.ReplaceAllString(tagged, "")
}

func classify(m Map) []*tagInfo {
	infos := make([]*tagInfo, 0, len(m))
	for _, i := range m.Indices() {
		raw := m[i]
		info := &tagInfo{index: i}
		switch {
		case strings.HasPrefix(raw, "<!--"):
			info.name, info.kind = "comment", kindSelf
		case strings.HasPrefix(raw, "<!"), strings.HasPrefix(raw, "<?"):
			info.name, info.kind = "decl", kindSelf
		default:
			info.name = tagName(raw)
			switch {
			case strings.HasPrefix(raw, "</"):
				info.kind = kindClose
			case strings.HasSuffix(raw, "/>") || voidElements[info.name]:
				info.kind = kindSelf
			default:
				info.kind = kindOpen
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// pairTags demotes closers without a matching opener and openers that are
// never closed to self-closing tags.
func pairTags(infos []*tagInfo) {
	var stack []*tagInfo
	for _, info := range infos {
		switch info.kind {
		case kindOpen:
			stack = append(stack, info)
		case kindClose:
			at := -1
			for j := len(stack) - 1; j >= 0; j-- {
				if stack[j].name == info.name {
					at = j
					break
				}
			}
			if at < 0 {
				info.kind = kindSelf
				continue
			}
			for _, dangling := range stack[at+1:] {
				dangling.kind = kindSelf
			}
			stack = stack[:at]
		}
	}
	for _, dangling := range stack {
		dangling.kind = kindSelf
	}
}

func tagName(raw string) string {
	match := tagNamePattern.FindStringSubmatch(raw)
	if match == nil {
		return "tag"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(match[1]) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
