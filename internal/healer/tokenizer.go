package healer

import (
	"fmt"
	"regexp"
	"strings"
)

type Kind int

const (
	KindText Kind = iota
	KindOpen
	KindClose
	KindSelfClose
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindClose:
		return "close"
	case KindSelfClose:
		return "self-close"
	default:
		return "text"
	}
}

// Token is one element of a tagged text stream. Start and End are byte
// offsets into the tokenized string.
type Token struct {
	Kind  Kind
	ID    string
	Raw   string
	Start int
	End   int
}

// Tolerance controls how malformed a marker may be and still be recognized.
// Brackets on each side may number between MinBrackets and MaxBrackets, and
// AllowSpace accepts blanks around the slash and the id.
type Tolerance struct {
	MinBrackets int
	MaxBrackets int
	AllowSpace  bool
}

// DefaultTolerance accepts [p_1], [[p_1], [[[p_1]]] and [[ p_1 ]].
func DefaultTolerance() Tolerance {
	return Tolerance{MinBrackets: 1, MaxBrackets: 3, AllowSpace: true}
}

// StrictTolerance only accepts well-formed markers.
func StrictTolerance() Tolerance {
	return Tolerance{MinBrackets: 2, MaxBrackets: 2}
}

func (t Tolerance) normalized() Tolerance {
	if t.MinBrackets < 1 {
		t.MinBrackets = 1
	}
	if t.MaxBrackets < t.MinBrackets {
		t.MaxBrackets = t.MinBrackets
	}
	return t
}

func (t Tolerance) parts() (open, close, space string) {
	t = t.normalized()
	open = fmt.Sprintf(`\[{%d,%d}`, t.MinBrackets, t.MaxBrackets)
	close = fmt.Sprintf(`\]{%d,%d}`, t.MinBrackets, t.MaxBrackets)
	if t.AllowSpace {
		space = `[ \t]*`
	}
	return open, close, space
}

// markerExpr builds the expression for one marker of the given kind. id is
// either a literal id or a capture group.
func (t Tolerance) markerExpr(kind Kind, id string) string {
	open, close, sp := t.parts()
	switch kind {
	case KindClose:
		return open + sp + "/" + sp + id + sp + close
	case KindSelfClose:
		return open + sp + id + sp + "/" + sp + close
	default:
		return open + sp + id + sp + close
	}
}

func (t Tolerance) anyMarker() *regexp.Regexp {
	open, close, sp := t.parts()
	return regexp.MustCompile(open + sp + `(/?)` + sp + `([a-z][a-z0-9_]*)` + sp + `(/?)` + sp + close)
}

// idsExpr matches a marker of any kind for one of ids.
func (t Tolerance) idsExpr(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = regexp.QuoteMeta(id)
	}
	open, close, sp := t.parts()
	return open + sp + `/?` + sp + `(?:` + strings.Join(quoted, "|") + `)` + sp + `/?` + sp + close
}

// Tokenize splits s into text and marker tokens.
func Tokenize(s string, tol Tolerance) []Token {
	re := tol.anyMarker()
	var tokens []Token
	last := 0
	for _, m := range re.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			tokens = append(tokens, Token{Kind: KindText, Raw: s[last:m[0]], Start: last, End: m[0]})
		}
		tok := Token{
			Kind:  KindOpen,
			ID:    s[m[4]:m[5]],
			Raw:   s[m[0]:m[1]],
			Start: m[0],
			End:   m[1],
		}
		switch {
		case m[3] > m[2]:
			tok.Kind = KindClose
		case m[7] > m[6]:
			tok.Kind = KindSelfClose
		}
		tokens = append(tokens, tok)
		last = m[1]
	}
	if last < len(s) {
		tokens = append(tokens, Token{Kind: KindText, Raw: s[last:], Start: last, End: len(s)})
	}
	return tokens
}

// collapseDuplicates drops a marker that directly repeats the previous one.
// When keep is non-nil only markers whose id is in keep are considered.
func collapseDuplicates(s string, tol Tolerance, keep map[string]bool) string {
	tokens := Tokenize(s, tol)
	var b strings.Builder
	var prev *Token
	for i := range tokens {
		tok := &tokens[i]
		if tok.Kind != KindText && prev != nil && prev.Kind == tok.Kind && prev.ID == tok.ID && prev.End == tok.Start {
			if keep == nil || keep[tok.ID] {
				prev = tok
				continue
			}
		}
		b.WriteString(tok.Raw)
		prev = tok
	}
	return b.String()
}
