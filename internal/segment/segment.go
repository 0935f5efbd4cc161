// Package segment splits XHTML documents into ordered translation units and
// puts translated units back into the document.
package segment

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strings"
	"unicode"

	"github.com/MimeLyc/contextual-book-translator/internal/book"
	"github.com/MimeLyc/contextual-book-translator/internal/placeholder"
	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/zeebo/blake3"
	"golang.org/x/text/unicode/norm"
)

// DefaultRoot selects the body of an (X)HTML document whatever its namespace.
const DefaultRoot = "//*[local-name()='body']"

// TextWrapperClass marks the span that wraps naked text so it can be keyed
// and unwrapped again on assembly.
const TextWrapperClass = "booktrans-text"

var (
	DefaultBlockTags = []string{
		"p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "td", "th", "dt", "dd",
		"blockquote", "pre", "caption", "figcaption", "address", "summary", "legend",
	}
	DefaultContainerTags = []string{
		"html", "body", "div", "section", "article", "aside", "nav", "header", "footer",
		"main", "ol", "ul", "dl", "table", "thead", "tbody", "tfoot", "tr", "figure",
		"details", "hgroup", "fieldset", "form",
	}
	DefaultSkipTags = []string{"head", "script", "style", "svg", "math"}
)

type Options struct {
	// Root is an XPath expression selecting the subtrees to segment.
	// Documents without a match are segmented from their root element.
	Root          string
	BlockTags     []string
	ContainerTags []string
	SkipTags      []string
}

type Segmenter struct {
	root      *xpath.Expr
	rootExpr  string
	block     map[string]bool
	container map[string]bool
	skip      map[string]bool
}

func New(opts Options) (*Segmenter, error) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = DefaultRoot
	}
	expr, err := xpath.Compile(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid root xpath %q: %w", opts.Root, err)
	}
	if len(opts.BlockTags) == 0 {
		opts.BlockTags = DefaultBlockTags
	}
	if len(opts.ContainerTags) == 0 {
		opts.ContainerTags = DefaultContainerTags
	}
	if opts.SkipTags == nil {
		opts.SkipTags = DefaultSkipTags
	}
	return &Segmenter{
		root:      expr,
		rootExpr:  opts.Root,
		block:     tagSet(opts.BlockTags),
		container: tagSet(opts.ContainerTags),
		skip:      tagSet(opts.SkipTags),
	}, nil
}

// Default returns a segmenter with the default tag sets.
func Default() *Segmenter {
	s, err := New(Options{})
	if err != nil {
		panic(err)
	}
	return s
}

func tagSet(tags []string) map[string]bool {
	ret := make(map[string]bool, len(tags))
	for _, t := range tags {
		ret[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return ret
}

// leaf is one node chosen as a unit together with its key.
type leaf struct {
	key  string
	node *xmlquery.Node
}

// parsed is a document after the walk: the tree (with naked text wrapped),
// its leaves in document order and the wrapper nodes that were added.
type parsed struct {
	doc      *xmlquery.Node
	leaves   []leaf
	wrappers map[*xmlquery.Node]bool
}

func (s *Segmenter) parse(name string, data []byte) (*parsed, error) {
	doc, err := xmlquery.Parse(strings.NewReader(numericEntities(string(data))))
	if err != nil {
		return nil, &ParseError{File: name, Err: err}
	}
	top := documentElement(doc)
	if top == nil {
		return nil, &ParseError{File: name, Err: fmt.Errorf("no root element")}
	}

	roots := xmlquery.QuerySelectorAll(doc, s.root)
	if len(roots) == 0 {
		roots = []*xmlquery.Node{top}
	}

	p := &parsed{doc: doc, wrappers: make(map[*xmlquery.Node]bool)}
	for _, root := range roots {
		if p.covered(root) {
			continue
		}
		s.walk(p, root, nodePath(root))
	}
	return p, nil
}

// covered reports whether n sits inside an already walked leaf.
func (p *parsed) covered(n *xmlquery.Node) bool {
	for _, l := range p.leaves {
		for cur := n; cur != nil; cur = cur.Parent {
			if cur == l.node {
				return true
			}
		}
	}
	return false
}

func (s *Segmenter) structural(n *xmlquery.Node) bool {
	if n.Type != xmlquery.ElementNode {
		return false
	}
	name := strings.ToLower(n.Data)
	return s.block[name] || s.container[name] || s.skip[name]
}

func (s *Segmenter) hasStructuralDescendant(n *xmlquery.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		name := strings.ToLower(c.Data)
		if s.block[name] || s.container[name] || s.hasStructuralDescendant(c) {
			return true
		}
	}
	return false
}

// walk visits the children of a structural node. Block and container
// elements are handled by name; runs of text and inline elements between
// them are wrapped and emitted as their own unit.
func (s *Segmenter) walk(p *parsed, n *xmlquery.Node, path string) {
	children := make([]*xmlquery.Node, 0)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, c)
	}

	counts := make(map[string]int)
	textRuns := 0
	var run []*xmlquery.Node
	flush := func() {
		if len(run) == 0 {
			return
		}
		if wrapper := wrapRun(run); wrapper != nil {
			textRuns++
			p.wrappers[wrapper] = true
			p.leaves = append(p.leaves, leaf{key: fmt.Sprintf("%s/text()[%d]", path, textRuns), node: wrapper})
		}
		run = nil
	}

	for _, c := range children {
		if !s.structural(c) {
			if c.Type == xmlquery.ElementNode {
				counts[strings.ToLower(c.Data)]++
			}
			run = append(run, c)
			continue
		}
		flush()

		name := strings.ToLower(c.Data)
		counts[name]++
		key := fmt.Sprintf("%s/%s[%d]", path, name, counts[name])
		switch {
		case s.skip[name]:
		case s.container[name], s.hasStructuralDescendant(c):
			s.walk(p, c, key)
		default:
			if hasText(c) {
				p.leaves = append(p.leaves, leaf{key: key, node: c})
			}
		}
	}
	flush()
}

// wrapRun moves the non-blank middle of run into a new wrapper span and
// returns it, or nil when the run holds no text.
func wrapRun(run []*xmlquery.Node) *xmlquery.Node {
	start, end := 0, len(run)
	for start < end && isBlankText(run[start]) {
		start++
	}
	for end > start && isBlankText(run[end-1]) {
		end--
	}
	run = run[start:end]
	textFound := false
	for _, n := range run {
		if hasText(n) {
			textFound = true
			break
		}
	}
	if !textFound {
		return nil
	}

	splitEdgeSpace(run[0], run[len(run)-1])

	first, last := run[0], run[len(run)-1]
	parent := first.Parent
	wrapper := &xmlquery.Node{
		Type:   xmlquery.ElementNode,
		Data:   "span",
		Attr:   []xmlquery.Attr{{Name: xml.Name{Local: "class"}, Value: TextWrapperClass}},
		Parent: parent,
	}

	wrapper.PrevSibling = first.PrevSibling
	wrapper.NextSibling = last.NextSibling
	if first.PrevSibling != nil {
		first.PrevSibling.NextSibling = wrapper
	} else {
		parent.FirstChild = wrapper
	}
	if last.NextSibling != nil {
		last.NextSibling.PrevSibling = wrapper
	} else {
		parent.LastChild = wrapper
	}

	first.PrevSibling = nil
	last.NextSibling = nil
	wrapper.FirstChild = first
	wrapper.LastChild = last
	for _, n := range run {
		n.Parent = wrapper
	}
	return wrapper
}

// splitEdgeSpace moves leading whitespace of first and trailing whitespace
// of last into sibling text nodes, so layout stays outside the wrapper.
func splitEdgeSpace(first, last *xmlquery.Node) {
	if first.Type == xmlquery.TextNode {
		trimmed := strings.TrimLeftFunc(first.Data, unicode.IsSpace)
		if lead := first.Data[:len(first.Data)-len(trimmed)]; lead != "" {
			first.Data = trimmed
			insertSibling(first, &xmlquery.Node{Type: xmlquery.TextNode, Data: lead}, false)
		}
	}
	if last.Type == xmlquery.TextNode {
		trimmed := strings.TrimRightFunc(last.Data, unicode.IsSpace)
		if trail := last.Data[len(trimmed):]; trail != "" {
			last.Data = trimmed
			insertSibling(last, &xmlquery.Node{Type: xmlquery.TextNode, Data: trail}, true)
		}
	}
}

func insertSibling(ref, n *xmlquery.Node, after bool) {
	parent := ref.Parent
	n.Parent = parent
	if after {
		n.PrevSibling = ref
		n.NextSibling = ref.NextSibling
		if ref.NextSibling != nil {
			ref.NextSibling.PrevSibling = n
		} else {
			parent.LastChild = n
		}
		ref.NextSibling = n
		return
	}
	n.NextSibling = ref
	n.PrevSibling = ref.PrevSibling
	if ref.PrevSibling != nil {
		ref.PrevSibling.NextSibling = n
	} else {
		parent.FirstChild = n
	}
	ref.PrevSibling = n
}

func isBlankText(n *xmlquery.Node) bool {
	return (n.Type == xmlquery.TextNode || n.Type == xmlquery.CommentNode) && !hasText(n)
}

func hasText(n *xmlquery.Node) bool {
	switch n.Type {
	case xmlquery.TextNode, xmlquery.CharDataNode:
		return strings.IndexFunc(n.Data, func(r rune) bool { return !unicode.IsSpace(r) }) >= 0
	case xmlquery.ElementNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if hasText(c) {
				return true
			}
		}
	}
	return false
}

func documentElement(doc *xmlquery.Node) *xmlquery.Node {
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}

// nodePath is the indexed element path from the document element to n,
// e.g. /html[1]/body[1].
func nodePath(n *xmlquery.Node) string {
	var parts []string
	for cur := n; cur != nil && cur.Type == xmlquery.ElementNode; cur = cur.Parent {
		name := strings.ToLower(cur.Data)
		idx := 1
		for sib := cur.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type == xmlquery.ElementNode && strings.EqualFold(sib.Data, cur.Data) {
				idx++
			}
		}
		parts = append(parts, fmt.Sprintf("%s[%d]", name, idx))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// ContentHash is the hex BLAKE3 digest of the NFC form of markup.
func ContentHash(markup string) string {
	sum := blake3.Sum256(norm.NFC.Bytes([]byte(markup)))
	return hex.EncodeToString(sum[:])
}

// Segment returns the units of one document in document order, positions
// starting at zero.
func (s *Segmenter) Segment(name string, data []byte) ([]*book.Unit, error) {
	p, err := s.parse(name, data)
	if err != nil {
		return nil, err
	}

	units := make([]*book.Unit, 0, len(p.leaves))
	for i, l := range p.leaves {
		markup := renderNode(l.node)
		protected, m := placeholder.Protect(markup)
		tagged, idx := placeholder.Semanticize(protected, m)
		units = append(units, &book.Unit{
			UnitKey:        l.key,
			Position:       i,
			RawMarkup:      markup,
			ProtectedText:  protected,
			PlaceholderMap: m,
			TaggedText:     tagged,
			SemanticIndex:  idx,
			ContentHash:    ContentHash(markup),
			Status:         book.UnitPending,
		})
	}
	return units, nil
}

// prolog returns everything in data before the document element, so the
// XML declaration and DOCTYPE survive assembly verbatim.
func prolog(data []byte, top *xmlquery.Node) []byte {
	name := []byte("<" + qualifiedName(top, top.Prefix, top.Data))
	from := 0
	for {
		i := bytes.Index(data[from:], name)
		if i < 0 {
			return nil
		}
		at := from + i
		end := at + len(name)
		if end < len(data) && (data[end] == '>' || data[end] == '/' || unicode.IsSpace(rune(data[end]))) {
			return data[:at]
		}
		from = end
	}
}
