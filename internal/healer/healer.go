// Package healer repairs model output so that it carries exactly the
// structural markers of the tagged source it was translated from.
package healer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// ErrHealingFailed marks output in which at least one marker had to be forged.
var ErrHealingFailed = errors.New("healing failed")

// HealingError lists the markers that could not be located in the model
// output and were inserted from the source instead.
type HealingError struct {
	Forged []string
}

func (e *HealingError) Error() string {
	return fmt.Sprintf("healing failed: forged %d marker(s): %s", len(e.Forged), strings.Join(e.Forged, ", "))
}

func (e *HealingError) Is(target error) bool {
	return target == ErrHealingFailed
}

var trailingGarbage = regexp.MustCompile(`(?:\[+[ \t]*/?[ \t]*[a-z][a-z0-9_]*_\d+[ \t]*/?[ \t]*\]*|\[{2,}|\]{2,})\s*$`)

type Healer struct {
	tol      Tolerance
	patterns sync.Map
}

func New(tol Tolerance) *Healer {
	return &Healer{tol: tol.normalized()}
}

var defaultHealer = New(DefaultTolerance())

// Heal reconciles translated against source with the default tolerance.
func Heal(source, translated string) (string, error) {
	return defaultHealer.Heal(source, translated)
}

// Heal returns translated rewritten onto the skeleton of source. The text is
// always returned; the error is a *HealingError when markers were forged.
func (h *Healer) Heal(source, translated string) (string, error) {
	root := Parse(source, StrictTolerance())
	ids := root.structuralIDs()
	if len(ids) == 0 {
		return reconcileFlat(source, translated), nil
	}

	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}

	p := &pass{
		h:          h,
		structural: regexp.MustCompile(h.tol.idsExpr(ids)),
	}
	translated = collapseDuplicates(translated, h.tol, keep)
	out := p.reconcile(root.Children, translated)
	out = collapseDuplicates(out, StrictTolerance(), keep)

	if len(p.forged) > 0 {
		return out, &HealingError{Forged: p.forged}
	}
	return out, nil
}

func (h *Healer) pattern(kind Kind, id string) *regexp.Regexp {
	key := kind.String() + ":" + id
	if re, ok := h.patterns.Load(key); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(h.tol.markerExpr(kind, regexp.QuoteMeta(id)))
	actual, _ := h.patterns.LoadOrStore(key, re)
	return actual.(*regexp.Regexp)
}

type pass struct {
	h          *Healer
	structural *regexp.Regexp
	forged     []string
}

func (p *pass) find(kind Kind, id, s string, from int) (int, int, bool) {
	if from > len(s) {
		return 0, 0, false
	}
	loc := p.h.pattern(kind, id).FindStringIndex(s[from:])
	if loc == nil {
		return 0, 0, false
	}
	return from + loc[0], from + loc[1], true
}

func (p *pass) fail(marker string) {
	p.forged = append(p.forged, marker)
}

// reconcile walks children as chunks of (text run, following tag) and
// consumes tr left to right.
func (p *pass) reconcile(children []*Node, tr string) string {
	var b strings.Builder
	cur := 0
	i := 0
	for {
		var run strings.Builder
		for i < len(children) && children[i].Kind == NodeText {
			run.WriteString(children[i].Text)
			i++
		}
		src := run.String()
		if i >= len(children) {
			b.WriteString(p.finalRun(src, tr[cur:]))
			return b.String()
		}

		tag := children[i]
		i++

		switch tag.Kind {
		case NodeSelfClosing:
			s, e, ok := p.find(KindSelfClose, tag.ID, tr, cur)
			if !ok {
				p.fail(tag.ID + "/")
				b.WriteString(missingRun(src))
				b.WriteString(tag.Open)
				continue
			}
			s = giveBack(src, tr, s, e)
			b.WriteString(p.runText(src, tr[cur:s]))
			b.WriteString(tag.Open)
			cur = e

		case NodeContainer:
			s, e, ok := p.find(KindOpen, tag.ID, tr, cur)
			if !ok {
				// A surviving closer still delimits the interior when
				// nothing but whitespace precedes the container.
				if isBlank(src) {
					if cs, ce, found := p.find(KindClose, tag.ID, tr, cur); found {
						p.fail(tag.ID)
						b.WriteString(src)
						b.WriteString(tag.Open)
						b.WriteString(p.reconcile(tag.Children, tr[cur:cs]))
						b.WriteString(tag.Close)
						cur = ce
						continue
					}
				}
				p.fail(tag.ID)
				b.WriteString(missingRun(src))
				b.WriteString(tag.skeleton())
				continue
			}

			s = giveBack(src, tr, s, e)
			b.WriteString(p.runText(src, tr[cur:s]))
			cs, ce, found := p.find(KindClose, tag.ID, tr, e)
			if found {
				cs = giveBack(trailingText(tag.Children), tr, cs, ce)
			} else {
				p.fail("/" + tag.ID)
				cs = p.nextBoundary(children[i:], tr, e)
				ce = cs
			}
			b.WriteString(tag.Open)
			b.WriteString(p.reconcile(tag.Children, tr[e:cs]))
			b.WriteString(tag.Close)
			cur = ce
		}
	}
}

// nextBoundary is where the first following sibling marker starts, or the
// end of tr when none is found.
func (p *pass) nextBoundary(rest []*Node, tr string, from int) int {
	for _, n := range rest {
		var kind Kind
		switch n.Kind {
		case NodeContainer:
			kind = KindOpen
		case NodeSelfClosing:
			kind = KindSelfClose
		default:
			continue
		}
		if s, _, ok := p.find(kind, n.ID, tr, from); ok {
			return s
		}
		return len(tr)
	}
	return len(tr)
}

// giveBack moves the start of a marker match past surplus opening brackets
// when the source text before the marker itself ends in brackets, so literal
// brackets are not swallowed by the fuzzy match.
func giveBack(src, tr string, s, e int) int {
	surplus := 0
	for i := s; i < e && tr[i] == '['; i++ {
		surplus++
	}
	surplus -= 2
	if surplus <= 0 {
		return s
	}
	tail := len(src) - len(strings.TrimRight(src, "["))
	return s + min(surplus, tail)
}

func trailingText(children []*Node) string {
	i := len(children)
	for i > 0 && children[i-1].Kind == NodeText {
		i--
	}
	var b strings.Builder
	for _, c := range children[i:] {
		b.WriteString(c.Text)
	}
	return b.String()
}

// runText is the output for a text run that precedes a located tag.
func (p *pass) runText(src, slice string) string {
	switch {
	case src == "":
		if isBlank(slice) {
			return ""
		}
		return strings.TrimSpace(p.cleanText("", slice))
	case isBlank(src):
		return src
	default:
		return p.cleanText(src, slice)
	}
}

func (p *pass) finalRun(src, rest string) string {
	if isBlank(src) {
		return src
	}
	return p.cleanText(src, rest)
}

// missingRun is the output for a text run whose following tag was not found.
// The translated text stays unconsumed for the next run.
func missingRun(src string) string {
	if isBlank(src) {
		return src
	}
	return ""
}

// cleanText strips stray structural markers and trailing tag-shaped garbage
// from slice, then frames the result with the source run's edge whitespace.
func (p *pass) cleanText(src, slice string) string {
	s := p.structural.ReplaceAllString(slice, "")
	if loc := trailingGarbage.FindStringIndex(s); loc != nil && !trailingGarbage.MatchString(src) {
		s = s[:loc[0]]
	}
	core := strings.TrimSpace(s)
	if core == "" {
		return ""
	}
	return leadingSpace(src) + core + trailingSpace(src)
}

func leadingSpace(s string) string {
	return s[:len(s)-len(strings.TrimLeftFunc(s, unicode.IsSpace))]
}

func trailingSpace(s string) string {
	return s[len(strings.TrimRightFunc(s, unicode.IsSpace)):]
}

// reconcileFlat handles sources without any markers.
func reconcileFlat(source, translated string) string {
	if isBlank(source) {
		return source
	}
	core := strings.TrimSpace(translated)
	if core == "" {
		return ""
	}
	return leadingSpace(source) + core + trailingSpace(source)
}
